package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/session"
	"github.com/carescout/carescout/types"
)

// mockSession scripts session behavior and records every call.
type mockSession struct {
	mu          sync.Mutex
	navErr      error
	actErr      error
	actErrs     []error // consumed per call when non-nil
	observeText string
	extractJSON string
	extractErr  error

	navigated   []string
	acted       []string
	observed    int
	extracts    int
	screenshots int
	closed      int
}

func (m *mockSession) ID() string { return "sess-test" }

func (m *mockSession) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.navigated = append(m.navigated, url)
	return m.navErr
}

func (m *mockSession) Observe(ctx context.Context, instruction string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed++
	return m.observeText, nil
}

func (m *mockSession) Act(ctx context.Context, instruction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acted = append(m.acted, instruction)
	if len(m.actErrs) > 0 {
		err := m.actErrs[0]
		m.actErrs = m.actErrs[1:]
		return err
	}
	return m.actErr
}

func (m *mockSession) Extract(ctx context.Context, instruction string, schema json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	m.extracts++
	m.mu.Unlock()
	if m.extractErr != nil {
		return nil, m.extractErr
	}
	return json.RawMessage(m.extractJSON), nil
}

func (m *mockSession) Screenshot(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshots++
	return []byte{0x89, 0x50}, nil
}

func (m *mockSession) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

type mockFactory struct {
	sess      *mockSession
	createErr error
}

func (f *mockFactory) CreateSession(ctx context.Context) (session.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.sess, nil
}

func factoryOf(sess *mockSession, createErr error) *mockFactory {
	return &mockFactory{sess: sess, createErr: createErr}
}

// scriptedPlanner returns its actions in order, then repeats the last one.
type scriptedPlanner struct {
	mu      sync.Mutex
	actions []types.PlannedAction
	errs    []error // aligned with actions; nil entries mean success
	calls   int
}

func (p *scriptedPlanner) PlanNextAction(ctx context.Context, criteria types.SearchCriteria, pageState string, history *types.ActionHistory) (types.PlannedAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i >= len(p.actions) {
		i = len(p.actions) - 1
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return types.PlannedAction{}, p.errs[i]
	}
	return p.actions[i], nil
}

func testCriteria() types.SearchCriteria {
	return types.SearchCriteria{
		Specialists:  []string{"cardiologist", "internist"},
		Location:     types.Location{Address: "500 Main St, Springfield"},
		DirectoryURL: "https://directory.example.com/search",
	}
}

func fastRetrier(t *testing.T) *retry.Executor {
	t.Helper()
	return retry.NewExecutor(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil)
}

func newTestAgent(t *testing.T, sess *mockSession, planner ActionPlanner) *Agent {
	t.Helper()
	cfg := DefaultConfig()
	cfg.VisibilityDelay = time.Millisecond
	cfg.ActionTimeout = 200 * time.Millisecond
	return New(factoryOf(sess, nil), planner, fastRetrier(t), nil, cfg, nil)
}

func TestSearchHappyPath(t *testing.T) {
	sess := &mockSession{
		observeText: "A provider search form with specialty and location fields.",
		extractJSON: `{"providers":[
			{"name":"Dr. Rivera","specialty":"Cardiology","address":"12 Oak Ave","phone":"555-0101"},
			{"name":"Dr. Chen","specialty":"Cardiology","address":"98 Elm St"}
		]}`,
	}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "fill specialty", Tool: types.ToolInteract, Instruction: "Type cardiologist into the specialty field"},
		{Reasoning: "submit", Tool: types.ToolInteract, Instruction: "Click the search button"},
		{Reasoning: "results visible", Tool: types.ToolClose, Instruction: "Search complete, results are displayed"},
	}}

	result, err := newTestAgent(t, sess, planner).Search(context.Background(), testCriteria())
	require.NoError(t, err)

	// Two intermediate actions executed; the completion action is not.
	assert.Len(t, sess.acted, 2)
	assert.Equal(t, 2, result.ActionCount)
	assert.Equal(t, 3, planner.calls)
	require.Len(t, result.Providers, 2)
	assert.Equal(t, "Dr. Rivera", result.Providers[0].Name)
	assert.Empty(t, result.Providers[1].Phone)
	assert.NotEmpty(t, result.SearchID)
	assert.False(t, result.StartedAt.IsZero())

	// Teardown exactly once.
	assert.Equal(t, 1, sess.closed)
	// Entry navigation happened before the loop.
	require.Len(t, sess.navigated, 1)
	assert.Equal(t, testCriteria().DirectoryURL, sess.navigated[0])
}

func TestSearchInvalidCriteria(t *testing.T) {
	sess := &mockSession{}
	a := newTestAgent(t, sess, &scriptedPlanner{})

	_, err := a.Search(context.Background(), types.SearchCriteria{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidCriteria, types.GetErrorCode(err))
	assert.Equal(t, 0, sess.closed, "no session should be created for invalid input")
}

func TestSearchSessionInitFatal(t *testing.T) {
	a := New(factoryOf(nil, errors.New("pool exhausted")), &scriptedPlanner{}, fastRetrier(t), nil, DefaultConfig(), nil)

	_, err := a.Search(context.Background(), testCriteria())
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionInit, types.GetErrorCode(err))
}

func TestSearchAbortsAfterConsecutiveFailures(t *testing.T) {
	sess := &mockSession{
		observeText: "An error page.",
		actErr:      errors.New("element not found"),
		extractJSON: `{"providers":[]}`,
	}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "try", Tool: types.ToolInteract, Instruction: "Click the search button"},
	}}

	_, err := newTestAgent(t, sess, planner).Search(context.Background(), testCriteria())
	require.Error(t, err)
	assert.Equal(t, types.ErrTooManyFailures, types.GetErrorCode(err))

	// Each iteration failure below the threshold captures a diagnostic
	// screenshot; the aborting third failure does not.
	assert.Equal(t, 2, sess.screenshots)
	// Teardown still happens exactly once on the abort path, and the
	// extractor is never invoked.
	assert.Equal(t, 1, sess.closed)
	assert.Equal(t, 0, sess.extracts)
}

func TestSearchNavigationFailureFatal(t *testing.T) {
	sess := &mockSession{navErr: errors.New("dns lookup failed")}

	_, err := newTestAgent(t, sess, &scriptedPlanner{}).Search(context.Background(), testCriteria())
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionInit, types.GetErrorCode(err))
	// Teardown still runs when initialization fails after session creation.
	assert.Equal(t, 1, sess.closed)
	assert.Equal(t, 0, sess.observed)
}

func TestSearchCounterResetsOnSuccess(t *testing.T) {
	fail := errors.New("stale element")
	sess := &mockSession{
		observeText: "Search form.",
		// Attempts: two iterations fail through all 3 retries each, with a
		// successful iteration between them; the run still completes.
		actErrs: []error{
			fail, fail, fail, // iteration 1: fails, counter 1
			nil,              // iteration 2: succeeds, counter resets
			fail, fail, fail, // iteration 3: fails, counter 1 again
			nil, // iteration 4: succeeds
		},
		extractJSON: `{"providers":[]}`,
	}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "a", Tool: types.ToolInteract, Instruction: "Step one"},
		{Reasoning: "b", Tool: types.ToolInteract, Instruction: "Step two"},
		{Reasoning: "c", Tool: types.ToolInteract, Instruction: "Step three"},
		{Reasoning: "d", Tool: types.ToolInteract, Instruction: "Step four"},
		{Reasoning: "done", Tool: types.ToolClose, Instruction: "All finished here"},
	}}

	result, err := newTestAgent(t, sess, planner).Search(context.Background(), testCriteria())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ActionCount)
	assert.Equal(t, 1, sess.closed)
}

func TestSearchPlanningFailuresCountTowardAbort(t *testing.T) {
	planErr := types.NewError(types.ErrPlanInvalid, "model returned prose").WithRetryable(true)
	sess := &mockSession{observeText: "Search form."}
	planner := &scriptedPlanner{
		actions: []types.PlannedAction{{}, {}, {}},
		errs:    []error{planErr, planErr, planErr},
	}

	_, err := newTestAgent(t, sess, planner).Search(context.Background(), testCriteria())
	require.Error(t, err)
	assert.Equal(t, types.ErrTooManyFailures, types.GetErrorCode(err))
	assert.Empty(t, sess.acted)
}

func TestSearchCompletionCaseInsensitive(t *testing.T) {
	sess := &mockSession{
		observeText: "Results page.",
		extractJSON: `{"providers":[{"name":"Dr. Okafor","specialty":"Dermatology","address":"3 Pine Rd"}]}`,
	}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "done", Tool: types.ToolClose, Instruction: "Task FINISHED, close the session"},
	}}

	result, err := newTestAgent(t, sess, planner).Search(context.Background(), testCriteria())
	require.NoError(t, err)
	assert.Empty(t, sess.acted)
	assert.Equal(t, 0, result.ActionCount)
	require.Len(t, result.Providers, 1)
}

func TestSearchIterationCeiling(t *testing.T) {
	sess := &mockSession{observeText: "Search form."}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "spin", Tool: types.ToolObserve, Instruction: "Look at the page again"},
	}}

	cfg := DefaultConfig()
	cfg.VisibilityDelay = 0
	cfg.MaxIterations = 5
	a := New(factoryOf(sess, nil), planner, fastRetrier(t), nil, cfg, nil)

	_, err := a.Search(context.Background(), testCriteria())
	require.Error(t, err)
	assert.Equal(t, types.ErrTooManyFailures, types.GetErrorCode(err))
	assert.Equal(t, 1, sess.closed)
}

func TestSearchContextCancellation(t *testing.T) {
	sess := &mockSession{observeText: "Search form."}
	planner := &scriptedPlanner{actions: []types.PlannedAction{
		{Reasoning: "spin", Tool: types.ToolObserve, Instruction: "Look around"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.VisibilityDelay = 50 * time.Millisecond
	a := New(factoryOf(sess, nil), planner, fastRetrier(t), nil, cfg, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.Search(ctx, testCriteria())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sess.closed, "teardown must run on cancellation too")
}
