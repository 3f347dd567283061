package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-chatsync/internal/events"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoRelay upgrades the connection and echoes every published message back
// as a server event with an authoritative status.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}

			var intent events.ClientIntent
			if err := json.Unmarshal(raw, &intent); err != nil || intent.Publish == nil {
				continue
			}

			msg := intent.Publish.Message
			msg.Status = types.MessageSent
			out, _ := json.Marshal(&events.ServerEvent{Message: &msg})
			if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialPublishReceive(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, testutil.TestLogger(t), wsURL(srv), "test-token")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Publish(&events.ClientIntent{Publish: &events.PublishMessage{
		ConversationId: "c1",
		Message:        types.Message{Id: "m1", SenderId: "u1", Content: "hi"},
	}}))

	select {
	case ev := <-conn.Inbound():
		require.NotNil(t, ev.Message)
		assert.Equal(t, "m1", ev.Message.Id)
		assert.Equal(t, types.MessageSent, ev.Message.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("expected the echo on the inbound channel")
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, testutil.TestLogger(t), "ws://127.0.0.1:1/ws", "test-token")
	assert.Error(t, err)
}

func TestInboundClosedOnTransportLoss(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, testutil.TestLogger(t), wsURL(srv), "test-token")
	require.NoError(t, err)
	defer conn.Close()

	srv.CloseClientConnections()

	select {
	case _, open := <-conn.Inbound():
		assert.False(t, open, "expected inbound to close when the transport drops")
	case <-time.After(5 * time.Second):
		t.Fatal("expected inbound to close")
	}
}

func TestPublishAfterClose(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, testutil.TestLogger(t), wsURL(srv), "test-token")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "expected close to be idempotent")

	assert.ErrorIs(t, conn.Publish(&events.ClientIntent{}), ErrConnClosed)
}
