package broker

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-chatsync/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

type client struct {
	conn   *websocket.Conn
	conv   *Conversation
	userId string
	log    *log.Logger
	send   chan *events.ServerEvent
}

func newClient(conn *websocket.Conn, conv *Conversation, userId string, logger *log.Logger) *client {
	return &client{
		conn:   conn,
		conv:   conv,
		userId: userId,
		log:    logger,
		send:   make(chan *events.ServerEvent, 256),
	}
}

// queue delivers an event to this client only, dropping on backpressure.
func (c *client) queue(ev *events.ServerEvent) {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send queue full for %q, dropping event", c.userId)
	}
}

func (c *client) read() {
	defer func() {
		c.conv.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws read from %q: %v", c.userId, err)
			}
			return
		}

		var intent events.ClientIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			c.log.Printf("error parsing intent from %q: %v", c.userId, err)
			continue
		}

		c.conv.intents <- clientIntent{client: c, intent: &intent}
	}
}

func (c *client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			raw, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
