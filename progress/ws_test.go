package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebSocketSinkNotify(t *testing.T) {
	received := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)

	sink := NewWebSocketSink(conn, zap.NewNop())
	defer sink.Close()

	require.NoError(t, sink.Notify(ctx, "OBSERVE: describing results page"))

	select {
	case msg := <-received:
		assert.Equal(t, "OBSERVE: describing results page", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestWebSocketSinkClosedNotify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.CloseRead(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)

	sink := NewWebSocketSink(conn, zap.NewNop())
	require.NoError(t, sink.Close())
	assert.NoError(t, sink.Close(), "double close is a no-op")

	err = sink.Notify(ctx, "late message")
	assert.Error(t, err)
}
