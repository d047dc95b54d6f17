// Package progress delivers human-readable progress events to an external
// observer. Delivery is fire-and-forget: a slow or failing sink never
// blocks or fails the agent loop.
package progress

import (
	"context"

	"go.uber.org/zap"
)

// Sink is a one-way channel accepting short human-readable strings. No
// acknowledgment or replay is required.
type Sink interface {
	Notify(ctx context.Context, message string) error
}

// Reporter wraps a Sink with best-effort semantics: failures are logged
// and dropped, never propagated.
type Reporter struct {
	sink   Sink
	logger *zap.Logger
}

// NewReporter creates a best-effort reporter. A nil sink yields a reporter
// that discards all messages.
func NewReporter(sink Sink, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		sink:   sink,
		logger: logger.With(zap.String("component", "progress")),
	}
}

// Report pushes one message to the sink, logging and continuing on failure.
func (r *Reporter) Report(ctx context.Context, message string) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Notify(ctx, message); err != nil {
		r.logger.Warn("progress notification dropped",
			zap.String("message", message),
			zap.Error(err))
	}
}

// LogSink writes progress messages to the application log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Notify implements Sink.
func (s *LogSink) Notify(_ context.Context, message string) error {
	s.logger.Info("progress", zap.String("message", message))
	return nil
}

// ChannelSink forwards messages to a buffered channel, dropping messages
// when the buffer is full so the sender is never blocked.
type ChannelSink struct {
	ch chan string
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 16
	}
	return &ChannelSink{ch: make(chan string, buffer)}
}

// Messages returns the receive side of the sink.
func (s *ChannelSink) Messages() <-chan string {
	return s.ch
}

// Notify implements Sink. A full buffer drops the message rather than block.
func (s *ChannelSink) Notify(_ context.Context, message string) error {
	select {
	case s.ch <- message:
		return nil
	default:
		return errDropped
	}
}

// Close closes the message channel. Notify must not be called after Close.
func (s *ChannelSink) Close() {
	close(s.ch)
}

type dropError struct{}

func (dropError) Error() string { return "progress buffer full, message dropped" }

var errDropped = dropError{}

// MultiSink fans one message out to several sinks. Each sink is attempted;
// the last error is returned.
type MultiSink []Sink

// Notify implements Sink.
func (m MultiSink) Notify(ctx context.Context, message string) error {
	var lastErr error
	for _, sink := range m {
		if err := sink.Notify(ctx, message); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
