package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carescout/carescout/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, zap.NewNop())
}

func TestCompletionSuccess(t *testing.T) {
	var gotReq openAIRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := openAIResponse{
			ID:    "chatcmpl-1",
			Model: "test-model",
			Choices: []openAIChoice{
				{Message: openAIMessage{Role: "assistant", Content: `{"tool":"OBSERVE"}`}},
			},
			Usage: &Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		json.NewEncoder(w).Encode(resp)
	})

	resp, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "next action?"}},
		JSONOnly: true,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"tool":"OBSERVE"}`, resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.NotNil(t, gotReq.ResponseFormat, "JSONOnly sets response_format")
}

func TestCompletionErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"server error", http.StatusBadGateway, types.ErrUpstreamError, true},
		{"bad request", http.StatusBadRequest, types.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})

			_, err := p.Completion(context.Background(), &ChatRequest{
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			})

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestCompletionEmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse{ID: "x", Model: "m"})
	})

	_, err := p.Completion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})

	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestHealthCheckUnhealthy(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	status, err := p.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
