package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carescout/carescout/types"
)

// OpenAIConfig configures the OpenAI-compatible client.
type OpenAIConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	Model       string        `yaml:"model" json:"model"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Temperature float32       `yaml:"temperature" json:"temperature"`
	// RequestsPerSecond caps outbound request rate; 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider creates a provider instance with config defaults applied.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm"), zap.String("provider", "openai")),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// HealthCheck probes the models endpoint.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("llm health check failed: status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body))
	}
	return &HealthStatus{Healthy: true, Latency: latency}, nil
}

// OpenAI wire types
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
	ResponseFormat interface{}     `json:"response_format,omitempty"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	FinishReason string        `json:"finish_reason"`
	Message      openAIMessage `json:"message"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

type openAIErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion performs a chat completion request.
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}

	body := openAIRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.JSONOnly {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrUpstreamTimeout, "llm request canceled or timed out").
				WithCause(err).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrUpstreamError, "llm request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapStatusError(resp.StatusCode, resp.Body)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode llm response").
			WithCause(err).WithRetryable(true)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "llm response has no choices").
			WithRetryable(true)
	}

	out := &ChatResponse{
		ID:      parsed.ID,
		Model:   parsed.Model,
		Content: parsed.Choices[0].Message.Content,
	}
	if parsed.Usage != nil {
		out.Usage = *parsed.Usage
	}

	p.logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	return out, nil
}

func (p *OpenAIProvider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *OpenAIProvider) mapStatusError(status int, body io.Reader) error {
	msg := readErrMsg(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, fmt.Sprintf("status=%d %s", status, msg))
	}
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var parsed openAIErrorResp
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(data))
}
