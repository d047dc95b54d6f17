package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carescout/carescout/llm"
	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/types"
)

// mockProvider returns canned responses in sequence.
type mockProvider struct {
	responses []string
	errs      []error
	calls     int
	requests  []*llm.ChatRequest
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	i := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, errors.New("no more responses")
	}
	return &llm.ChatResponse{Model: "mock", Content: m.responses[i]}, nil
}

func (m *mockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func testCriteria() types.SearchCriteria {
	return types.SearchCriteria{
		Specialists:  []string{"Primary Care Physician", "Internist", "Cardiologist"},
		Location:     types.Location{Latitude: 40.7128, Longitude: -74.006, Address: "New York, NY"},
		DirectoryURL: "https://directory.example.com/search",
	}
}

func newTestPlanner(t *testing.T, provider llm.Provider) *Planner {
	t.Helper()
	retrier := retry.NewExecutor(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, zap.NewNop())
	p, err := New(provider, retrier, DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestPlanNextAction(t *testing.T) {
	provider := &mockProvider{responses: []string{
		`{"reasoning":"the specialty field is empty","tool":"INTERACT","instruction":"type 'Cardiologist' into the specialty field"}`,
	}}
	p := newTestPlanner(t, provider)

	var history types.ActionHistory
	action, err := p.PlanNextAction(context.Background(), testCriteria(), "a search form", &history)

	require.NoError(t, err)
	assert.Equal(t, types.ToolInteract, action.Tool)
	assert.Equal(t, "type 'Cardiologist' into the specialty field", action.Instruction)
	assert.Equal(t, 1, provider.calls)
}

func TestPlanNextActionToleratesFencedJSON(t *testing.T) {
	provider := &mockProvider{responses: []string{
		"```json\n{\"reasoning\":\"done\",\"tool\":\"close\",\"instruction\":\"search complete\"}\n```",
	}}
	p := newTestPlanner(t, provider)

	var history types.ActionHistory
	action, err := p.PlanNextAction(context.Background(), testCriteria(), "results page", &history)

	require.NoError(t, err)
	assert.Equal(t, types.ToolClose, action.Tool)
	assert.True(t, action.SignalsCompletion())
}

func TestPlanNextActionRetriesMalformedOutput(t *testing.T) {
	provider := &mockProvider{responses: []string{
		`I think we should click the button`,
		`{"reasoning":"ok","tool":"INTERACT","instruction":"click the search button"}`,
	}}
	p := newTestPlanner(t, provider)

	var history types.ActionHistory
	action, err := p.PlanNextAction(context.Background(), testCriteria(), "a page", &history)

	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls, "malformed output consumes one retry attempt")
	assert.Equal(t, types.ToolInteract, action.Tool)
}

func TestPlanNextActionExhaustsRetries(t *testing.T) {
	provider := &mockProvider{responses: []string{
		`not json`, `still not json`, `{"tool":"TELEPORT","instruction":"x"}`,
	}}
	p := newTestPlanner(t, provider)

	var history types.ActionHistory
	_, err := p.PlanNextAction(context.Background(), testCriteria(), "a page", &history)

	require.Error(t, err)
	assert.Equal(t, 3, provider.calls)
	assert.Contains(t, err.Error(), "action planning")
}

func TestPromptIncludesCriteriaAndHistory(t *testing.T) {
	provider := &mockProvider{responses: []string{
		`{"reasoning":"r","tool":"OBSERVE","instruction":"look again"}`,
	}}
	p := newTestPlanner(t, provider)

	var history types.ActionHistory
	history.Append(types.PlannedAction{Tool: types.ToolNavigate, Instruction: "open the directory"})
	history.Append(types.PlannedAction{Tool: types.ToolInteract, Instruction: "click search"})

	_, err := p.PlanNextAction(context.Background(), testCriteria(), "current page description", &history)
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.True(t, req.JSONOnly)

	user := req.Messages[1].Content
	assert.Contains(t, user, "Primary Care Physician, Internist, Cardiologist")
	assert.Contains(t, user, "New York, NY")
	assert.Contains(t, user, "NAVIGATE: open the directory")
	assert.Contains(t, user, "INTERACT: click search")
	assert.Contains(t, user, "current page description")
}

func TestTruncateState(t *testing.T) {
	provider := &mockProvider{}
	retrier := retry.NewExecutor(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}, zap.NewNop())
	p, err := New(provider, retrier, Config{MaxStateTokens: 10}, zap.NewNop())
	require.NoError(t, err)

	long := strings.Repeat("interactive element description ", 100)
	got := p.truncateState(long)
	assert.True(t, strings.HasSuffix(got, "[... page description truncated ...]"))
	assert.Less(t, len(got), len(long))

	short := "a small page"
	assert.Equal(t, short, p.truncateState(short))
}

func TestParseActionValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", `{"reasoning":"r","tool":"WAIT","instruction":"wait for results"}`, false},
		{"missing instruction", `{"reasoning":"r","tool":"WAIT","instruction":""}`, true},
		{"unknown tool", `{"reasoning":"r","tool":"FLY","instruction":"x"}`, true},
		{"no json", `just prose`, true},
		{"broken json", `{"tool": "WAIT",`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAction(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsRetryable(err), "schema failures must be retryable")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
