package session

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

	"github.com/carescout/carescout/types"
)

// Config configures the browser automation service client.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Headless controls whether the remote browser renders a visible window.
	Headless bool `yaml:"headless" json:"headless"`
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:7331",
		Timeout:  60 * time.Second,
		Headless: true,
	}
}

// Client talks to the remote browser automation service and creates
// sessions against it.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a service client with config defaults applied.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With(zap.String("component", "browser_session")),
	}
}

// Compile-time interface check.
var _ Factory = (*Client)(nil)

type createSessionRequest struct {
	Headless bool `json:"headless"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession opens a new remote browser session.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var resp createSessionResponse
	err := c.post(ctx, "/v1/sessions", createSessionRequest{Headless: c.cfg.Headless}, &resp)
	if err != nil {
		return nil, types.NewError(types.ErrSessionInit, "create browser session").WithCause(err)
	}
	if resp.SessionID == "" {
		return nil, types.NewError(types.ErrSessionInit, "browser service returned empty session id")
	}

	c.logger.Info("browser session created", zap.String("session_id", resp.SessionID))
	return &remoteSession{client: c, id: resp.SessionID}, nil
}

// remoteSession is a handle to one live session on the service.
type remoteSession struct {
	client *Client
	id     string
}

// Compile-time interface check.
var _ Session = (*remoteSession)(nil)

func (s *remoteSession) ID() string { return s.id }

func (s *remoteSession) Navigate(ctx context.Context, url string) error {
	return s.client.post(ctx, s.path("navigate"), map[string]string{"url": url}, nil)
}

type observeResponse struct {
	Description string `json:"description"`
}

func (s *remoteSession) Observe(ctx context.Context, instruction string) (string, error) {
	var resp observeResponse
	err := s.client.post(ctx, s.path("observe"), map[string]string{"instruction": instruction}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Description, nil
}

func (s *remoteSession) Act(ctx context.Context, instruction string) error {
	return s.client.post(ctx, s.path("act"), map[string]string{"instruction": instruction}, nil)
}

type extractRequest struct {
	Instruction string          `json:"instruction"`
	Schema      json.RawMessage `json:"schema"`
}

type extractResponse struct {
	Data json.RawMessage `json:"data"`
}

func (s *remoteSession) Extract(ctx context.Context, instruction string, schema json.RawMessage) (json.RawMessage, error) {
	var resp extractResponse
	err := s.client.post(ctx, s.path("extract"), extractRequest{Instruction: instruction, Schema: schema}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type screenshotResponse struct {
	Data []byte `json:"data"`
}

func (s *remoteSession) Screenshot(ctx context.Context) ([]byte, error) {
	var resp screenshotResponse
	err := s.client.post(ctx, s.path("screenshot"), struct{}{}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (s *remoteSession) Close(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/sessions/%s", strings.TrimRight(s.client.cfg.BaseURL, "/"), s.id)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build close request: %w", err)
	}
	s.client.buildHeaders(httpReq)

	resp, err := s.client.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("close session: status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body))
	}

	s.client.logger.Info("browser session closed", zap.String("session_id", s.id))
	return nil
}

func (s *remoteSession) path(action string) string {
	return fmt.Sprintf("/v1/sessions/%s/%s", s.id, action)
}

// post sends a JSON request to the service and decodes the response into
// out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrUpstreamTimeout, "browser service call canceled or timed out").
				WithCause(err).WithRetryable(true)
		}
		return types.NewError(types.ErrUpstreamError, "browser service call failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		e := types.NewError(types.ErrUpstreamError, fmt.Sprintf("browser service: status=%d %s", resp.StatusCode, msg))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			e = e.WithRetryable(true)
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) buildHeaders(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

type serviceError struct {
	Error string `json:"error"`
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var parsed serviceError
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(data))
}
