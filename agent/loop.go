package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carescout/carescout/internal/metrics"
	"github.com/carescout/carescout/progress"
	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/session"
	"github.com/carescout/carescout/types"
)

// ActionPlanner chooses the next action from the current page state, the
// search criteria, and the action history. Implemented by planner.Planner;
// mocked in tests.
type ActionPlanner interface {
	PlanNextAction(ctx context.Context, criteria types.SearchCriteria, pageState string, history *types.ActionHistory) (types.PlannedAction, error)
}

const observeInstruction = "Describe the current page: its purpose, visible " +
	"form fields, buttons, links, and any provider results shown."

// Config configures the agent loop.
type Config struct {
	// ErrorThreshold aborts the session after this many consecutive
	// iteration failures.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`
	// ActionTimeout bounds one action attempt against the browser.
	ActionTimeout time.Duration `yaml:"action_timeout" json:"action_timeout"`
	// VisibilityDelay is inserted after each successful action so page
	// changes settle before the next observation.
	VisibilityDelay time.Duration `yaml:"visibility_delay" json:"visibility_delay"`
	// MaxIterations caps total loop iterations. Zero means unlimited,
	// matching the original behavior of trusting the planner to emit a
	// completion signal.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:  3,
		ActionTimeout:   DefaultActionTimeout,
		VisibilityDelay: time.Second,
		MaxIterations:   0,
	}
}

// Agent is the orchestrating state machine for one or more provider
// searches. Each Search call runs an independent session.
type Agent struct {
	sessions  session.Factory
	planner   ActionPlanner
	executor  *ActionExecutor
	extractor *ResultExtractor
	reporter  *progress.Reporter
	retrier   *retry.Executor
	cfg       Config
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// Option configures optional agent collaborators.
type Option func(*Agent)

// WithMetrics wires the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// New creates an agent. The retry executor is shared by observation,
// planning-adjacent session calls, and action execution.
func New(sessions session.Factory, planner ActionPlanner, retrier *retry.Executor, reporter *progress.Reporter, cfg Config, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}
	if reporter == nil {
		reporter = progress.NewReporter(nil, logger)
	}

	a := &Agent{
		sessions:  sessions,
		planner:   planner,
		executor:  NewActionExecutor(retrier, cfg.ActionTimeout, logger),
		extractor: NewResultExtractor(logger),
		reporter:  reporter,
		retrier:   retrier,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "agent")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search runs one full provider search: session init, the observe/plan/act
// loop, extraction, and teardown. The returned error is fatal for the
// search; intermediate progress messages are informational only.
func (a *Agent) Search(ctx context.Context, criteria types.SearchCriteria) (*types.SearchResult, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	searchID := uuid.NewString()
	logger := a.logger.With(zap.String("search_id", searchID))
	startedAt := time.Now()

	logger.Info("starting provider search",
		zap.Strings("specialists", criteria.Specialists),
		zap.String("directory_url", criteria.DirectoryURL))
	a.reporter.Report(ctx, fmt.Sprintf("Searching for %s near %s", criteria.Specialists[0], criteria.Location.Address))

	result, err := a.run(ctx, searchID, criteria, logger)

	outcome := "success"
	if err != nil {
		outcome = "error"
		if types.GetErrorCode(err) == types.ErrTooManyFailures {
			outcome = "aborted"
		}
	}
	if a.metrics != nil {
		a.metrics.RecordSearch(outcome, time.Since(startedAt))
	}
	if err != nil {
		logger.Error("provider search failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	result.SearchID = searchID
	result.StartedAt = startedAt
	result.Duration = time.Since(startedAt)
	logger.Info("provider search finished",
		zap.Int("providers", len(result.Providers)),
		zap.Int("actions", result.ActionCount),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// run owns the session lifecycle. The session is torn down exactly once on
// every exit path, including panics raised inside the loop.
func (a *Agent) run(ctx context.Context, searchID string, criteria types.SearchCriteria, logger *zap.Logger) (*types.SearchResult, error) {
	// Initializing: session acquisition and entry navigation are fatal on
	// failure and are not retried at this level.
	sess, err := a.sessions.CreateSession(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrSessionInit, "failed to acquire browser session").WithCause(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if closeErr := sess.Close(closeCtx); closeErr != nil {
			logger.Warn("session teardown failed", zap.Error(closeErr))
		}
	}()

	if err := sess.Navigate(ctx, criteria.DirectoryURL); err != nil {
		return nil, types.NewError(types.ErrSessionInit, "failed to open directory entry URL").WithCause(err)
	}

	var history types.ActionHistory
	consecutiveErrors := 0
	executed := 0
	iterations := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations++
		if a.cfg.MaxIterations > 0 && iterations > a.cfg.MaxIterations {
			return nil, types.NewError(types.ErrTooManyFailures,
				fmt.Sprintf("iteration ceiling %d reached without completion", a.cfg.MaxIterations))
		}
		if a.metrics != nil {
			a.metrics.RecordIteration()
		}

		// Observing: the page description is the sole input to planning.
		pageState, err := a.observe(ctx, sess)
		if err != nil {
			if abortErr := a.recordFailure(ctx, sess, &consecutiveErrors, logger, err); abortErr != nil {
				return nil, abortErr
			}
			continue
		}

		// Planning: every planned action is recorded in the history and
		// reported before execution is attempted.
		planStart := time.Now()
		action, err := a.planner.PlanNextAction(ctx, criteria, pageState, &history)
		if a.metrics != nil {
			a.metrics.RecordPlanning(time.Since(planStart))
		}
		if err != nil {
			if abortErr := a.recordFailure(ctx, sess, &consecutiveErrors, logger, err); abortErr != nil {
				return nil, abortErr
			}
			continue
		}
		history.Append(action)
		a.reporter.Report(ctx, action.Format())
		logger.Info("action planned",
			zap.String("tool", string(action.Tool)),
			zap.String("instruction", action.Instruction),
			zap.String("reasoning", action.Reasoning))

		// Completion check: the final action is not executed.
		if action.SignalsCompletion() {
			logger.Info("completion signal received", zap.Int("actions_executed", executed))
			break
		}

		// Acting
		if err := a.executor.Execute(ctx, sess, action); err != nil {
			if abortErr := a.recordFailure(ctx, sess, &consecutiveErrors, logger, err); abortErr != nil {
				return nil, abortErr
			}
			continue
		}
		executed++
		consecutiveErrors = 0
		if a.metrics != nil {
			a.metrics.RecordAction(string(action.Tool))
		}

		// Visibility delay lets the page settle before the next observation.
		if a.cfg.VisibilityDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.VisibilityDelay):
			}
		}
	}

	// Extracting
	a.reporter.Report(ctx, "Extracting provider results")
	providers, err := a.extractor.Extract(ctx, sess)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.RecordExtraction(len(providers))
	}

	return &types.SearchResult{
		Providers:   providers,
		ActionCount: executed,
	}, nil
}

// observe asks the session for a natural-language description of the
// current page, under the retry policy.
func (a *Agent) observe(ctx context.Context, sess session.Session) (string, error) {
	description, err := retry.DoWithResult(ctx, a.retrier, "page observation", func(ctx context.Context) (string, error) {
		return sess.Observe(ctx, observeInstruction)
	})
	if err != nil {
		return "", types.NewError(types.ErrObservation, "page observation failed").WithCause(err)
	}
	return description, nil
}

// recordFailure advances the consecutive-error counter, aborting the
// session once the threshold is reached. Below threshold it captures a
// best-effort diagnostic screenshot and lets the loop re-observe without
// the visibility delay.
func (a *Agent) recordFailure(ctx context.Context, sess session.Session, consecutiveErrors *int, logger *zap.Logger, cause error) error {
	*consecutiveErrors++
	if a.metrics != nil {
		a.metrics.RecordActionFailure()
	}
	logger.Warn("loop iteration failed",
		zap.Int("consecutive_errors", *consecutiveErrors),
		zap.Int("threshold", a.cfg.ErrorThreshold),
		zap.Error(cause))

	if *consecutiveErrors >= a.cfg.ErrorThreshold {
		return types.NewError(types.ErrTooManyFailures,
			fmt.Sprintf("aborting after %d consecutive failures", *consecutiveErrors)).WithCause(cause)
	}

	// Diagnostic capture is best-effort; its own failure is ignored.
	if _, err := sess.Screenshot(ctx); err != nil {
		logger.Debug("diagnostic screenshot failed", zap.Error(err))
	}
	return nil
}
