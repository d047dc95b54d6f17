// Package session provides the remote browser session collaborator: an
// external, stateful automated-browser service exposing navigate, observe,
// act, and extract primitives over HTTP. The agent loop owns exactly one
// session per search and tears it down on every exit path.
package session

import (
	"context"
	"encoding/json"
)

// Session is a live remote browser session. Observe returns a natural-
// language description of the current page; Act performs one atomic
// instruction against it; Extract pulls structured data conforming to the
// supplied JSON schema. Screenshot is used for best-effort diagnostics.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Observe(ctx context.Context, instruction string) (string, error)
	Act(ctx context.Context, instruction string) error
	Extract(ctx context.Context, instruction string, schema json.RawMessage) (json.RawMessage, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Factory creates sessions. The agent loop depends on this rather than on
// the concrete HTTP client so tests can substitute a mock.
type Factory interface {
	CreateSession(ctx context.Context) (Session, error)
}
