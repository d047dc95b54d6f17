// Package classify maps a free-text symptom description to an ordered list
// of medical specialist types via the language model. Non-medical queries
// are rejected with a fatal error. Results are cached, and identical
// concurrent queries are collapsed into a single model call.
package classify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/carescout/carescout/llm"
	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/types"
)

const systemPrompt = `You are a medical triage assistant. Given a patient's
symptom description, name the three types of medical specialists best suited
to evaluate them, ordered from most general to most specific.

If the text is not a description of medical symptoms, it is not a medical
query.

Respond with a single JSON object:
{"medical": true, "specialists": ["<most general>", "<middle>", "<most specific>"]}
or
{"medical": false}`

// specialistCount is the fixed size of the priority list.
const specialistCount = 3

// Cache is the subset of the cache manager the classifier uses. A nil
// cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CacheMetrics receives cache hit/miss counts. Optional.
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// Classifier turns symptom text into a specialist priority list.
type Classifier struct {
	provider llm.Provider
	retrier  *retry.Executor
	cache    Cache
	ttl      time.Duration
	metrics  CacheMetrics
	group    singleflight.Group
	logger   *zap.Logger
}

// Option configures optional classifier collaborators.
type Option func(*Classifier)

// WithCache enables result caching with the given TTL.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Classifier) {
		c.cache = cache
		c.ttl = ttl
	}
}

// WithMetrics wires cache hit/miss counters.
func WithMetrics(m CacheMetrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// New creates a classifier.
func New(provider llm.Provider, retrier *retry.Executor, logger *zap.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		provider: provider,
		retrier:  retrier,
		logger:   logger.With(zap.String("component", "classifier")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type classification struct {
	Medical     bool     `json:"medical"`
	Specialists []string `json:"specialists"`
}

// Classify returns the ordered specialist list for the symptom description.
// A non-medical query yields a fatal ErrNotMedicalQuery.
func (c *Classifier) Classify(ctx context.Context, symptoms string) ([]string, error) {
	key := cacheKey(symptoms)

	if c.cache != nil {
		var cached []string
		if err := c.cache.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			if c.metrics != nil {
				c.metrics.RecordCacheHit()
			}
			c.logger.Debug("classification cache hit", zap.String("key", key))
			return cached, nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
	}

	// Identical concurrent queries share one model call.
	result, err, _ := c.group.Do(key, func() (any, error) {
		return c.classify(ctx, symptoms)
	})
	if err != nil {
		return nil, err
	}
	specialists := result.([]string)

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, specialists, c.ttl); err != nil {
			c.logger.Warn("classification cache write failed", zap.Error(err))
		}
	}
	return specialists, nil
}

func (c *Classifier) classify(ctx context.Context, symptoms string) ([]string, error) {
	return retry.DoWithResult(ctx, c.retrier, "symptom classification", func(ctx context.Context) ([]string, error) {
		resp, err := c.provider.Completion(ctx, &llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: systemPrompt},
				{Role: llm.RoleUser, Content: symptoms},
			},
			JSONOnly: true,
		})
		if err != nil {
			return nil, types.NewError(types.ErrUpstreamError, "classification call failed").
				WithCause(err).WithRetryable(true)
		}

		var parsed classification
		if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
			return nil, types.NewError(types.ErrUpstreamError, "classification output is not valid JSON").
				WithCause(err).WithRetryable(true)
		}

		if !parsed.Medical {
			// Fatal, not retryable: the query itself is out of domain.
			return nil, types.NewError(types.ErrNotMedicalQuery, "description is not a medical query")
		}
		if len(parsed.Specialists) != specialistCount {
			return nil, types.NewError(types.ErrUpstreamError, "classification returned wrong specialist count").
				WithRetryable(true)
		}
		for i, s := range parsed.Specialists {
			trimmed := strings.TrimSpace(s)
			if trimmed == "" {
				return nil, types.NewError(types.ErrUpstreamError, "classification returned empty specialist").
					WithRetryable(true)
			}
			parsed.Specialists[i] = trimmed
		}

		c.logger.Info("symptoms classified", zap.Strings("specialists", parsed.Specialists))
		return parsed.Specialists, nil
	})
}

func cacheKey(symptoms string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(symptoms)), " ")
	return "classify:" + normalized
}

func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
