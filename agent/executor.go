package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/session"
	"github.com/carescout/carescout/types"
)

// DefaultActionTimeout bounds a single action attempt against the browser.
const DefaultActionTimeout = 10 * time.Second

// ActionExecutor translates a planned action into a call against the
// remote browser session, racing each attempt against a fixed timeout. A
// timeout or transient failure triggers a bounded re-attempt of the same
// instruction, not a new plan.
type ActionExecutor struct {
	retrier *retry.Executor
	timeout time.Duration
	logger  *zap.Logger
}

// NewActionExecutor creates an executor. A non-positive timeout falls back
// to DefaultActionTimeout.
func NewActionExecutor(retrier *retry.Executor, timeout time.Duration, logger *zap.Logger) *ActionExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &ActionExecutor{
		retrier: retrier,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "action_executor")),
	}
}

// Execute runs the planned action against the session under the retry
// policy.
func (e *ActionExecutor) Execute(ctx context.Context, sess session.Session, action types.PlannedAction) error {
	label := fmt.Sprintf("execute %s action", action.Tool)
	return e.retrier.Do(ctx, label, func(ctx context.Context) error {
		return e.attempt(ctx, sess, action.Instruction)
	})
}

// attempt races one Act call against the action timeout; whichever
// resolves first wins.
func (e *ActionExecutor) attempt(ctx context.Context, sess session.Session, instruction string) error {
	actCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sess.Act(actCtx, instruction)
	}()

	select {
	case err := <-done:
		if err != nil {
			return types.NewError(types.ErrActionFailed, "browser action failed").
				WithCause(err).WithRetryable(true)
		}
		return nil
	case <-time.After(e.timeout):
		e.logger.Warn("action timed out",
			zap.String("instruction", instruction),
			zap.Duration("timeout", e.timeout))
		return types.NewError(types.ErrActionTimeout, "browser action timed out").
			WithRetryable(true)
	case <-ctx.Done():
		return ctx.Err()
	}
}
