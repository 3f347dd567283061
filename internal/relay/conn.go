package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
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

var ErrConnClosed = errors.New("relay connection closed")

// Conn is the client's connection to the relay. The read pump decodes
// server events onto Inbound; the write pump drains published intents.
// When the transport drops, Inbound is closed and the session keeps
// running on its optimistic state.
type Conn struct {
	log     *log.Logger
	ws      *websocket.Conn
	send    chan *events.ClientIntent
	inbound chan *events.ServerEvent

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay, presenting the opaque session token issued by
// the external auth collaborator.
func Dial(ctx context.Context, logger *log.Logger, rawURL, token string) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Conn{
		log:     logger,
		ws:      ws,
		send:    make(chan *events.ClientIntent, 256),
		inbound: make(chan *events.ServerEvent, 256),
		done:    make(chan struct{}),
	}

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Inbound delivers decoded relay events; it is closed on transport loss.
func (c *Conn) Inbound() <-chan *events.ServerEvent {
	return c.inbound
}

// Publish queues an intent for the relay. Delivery is best-effort: a full
// queue drops the intent rather than blocking the caller.
func (c *Conn) Publish(intent *events.ClientIntent) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- intent:
		return nil
	default:
		return fmt.Errorf("publish intent: send queue full")
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.inbound)
		c.log.Println("relay read exiting")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("relay read: %v", err)
			}
			return
		}

		var ev events.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing relay event:", err)
			continue
		}

		select {
		case c.inbound <- &ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		c.log.Println("relay write exiting")
	}()

	for {
		select {
		case intent := <-c.send:
			raw, err := json.Marshal(intent)
			if err != nil {
				c.log.Println("failed to serialize intent:", err)
				continue
			}

			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.log.Println("relay write:", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}
