package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketSink pushes progress messages over an established WebSocket
// connection. Writes are serialized with a mutex because the connection
// does not support concurrent writers.
type WebSocketSink struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewWebSocketSink wraps an established WebSocket connection.
func NewWebSocketSink(conn *websocket.Conn, logger *zap.Logger) *WebSocketSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSink{
		conn:   conn,
		logger: logger.With(zap.String("component", "ws_progress_sink")),
	}
}

// Notify implements Sink.
func (s *WebSocketSink) Notify(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink closed")
	}
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(message)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}
