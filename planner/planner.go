// Package planner asks the language model for the single next browser
// action given the current page state, the search criteria, and the full
// action history. The model is treated as an external oracle behind the
// llm.Provider interface; its output is validated against a fixed schema
// and malformed output is a retryable failure.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/carescout/carescout/llm"
	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/types"
)

const systemPrompt = `You are an autonomous web-navigation agent searching an
insurance provider directory for in-network medical providers.

You control a browser one atomic action at a time. On each turn you receive
the current page description and the full log of actions already taken, and
you must choose exactly ONE next action.

Available tools:
- NAVIGATE: go to a URL
- INTERACT: perform one interaction with a visible element (click a button,
  type into one field, select one option)
- EXTRACT: read data from the current page
- OBSERVE: look at the page again without changing it
- WAIT: wait for the page to settle
- NAVIGATE_BACK: go back to the previous page
- CLOSE: end the session

Rules:
- Decompose compound goals into atomic single-interaction steps. Never
  combine two interactions into one instruction.
- Prefer the first specialist type in the priority list; fall back to later
  entries only when the directory has no match for the earlier ones.
- When the page shows a list of matching providers, the search is done: plan
  a CLOSE action whose instruction states that the search is complete.

Respond with a single JSON object:
{"reasoning": "<why this step>", "tool": "<TOOL>", "instruction": "<atomic instruction>"}`

// Config configures the planner.
type Config struct {
	// MaxStateTokens bounds how much of the page description is included in
	// the prompt; longer descriptions are truncated.
	MaxStateTokens int     `yaml:"max_state_tokens" json:"max_state_tokens"`
	Temperature    float32 `yaml:"temperature" json:"temperature"`
}

// DefaultConfig returns planner defaults.
func DefaultConfig() Config {
	return Config{
		MaxStateTokens: 6000,
		Temperature:    0.2,
	}
}

// Planner produces the next PlannedAction for a session.
type Planner struct {
	provider llm.Provider
	retrier  *retry.Executor
	cfg      Config
	encoding *tiktoken.Tiktoken
	logger   *zap.Logger
}

// New creates a planner. The retry executor bounds re-attempts on planning
// failures, including schema-invalid model output.
func New(provider llm.Provider, retrier *retry.Executor, cfg Config, logger *zap.Logger) (*Planner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxStateTokens <= 0 {
		cfg.MaxStateTokens = DefaultConfig().MaxStateTokens
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoding: %w", err)
	}

	return &Planner{
		provider: provider,
		retrier:  retrier,
		cfg:      cfg,
		encoding: encoding,
		logger:   logger.With(zap.String("component", "planner")),
	}, nil
}

// PlanNextAction asks the model for the next action. Each attempt that
// fails — transport error or schema-invalid output — counts against the
// retry budget; when the budget is exhausted the whole session fails.
func (p *Planner) PlanNextAction(ctx context.Context, criteria types.SearchCriteria, pageState string, history *types.ActionHistory) (types.PlannedAction, error) {
	prompt := p.buildPrompt(criteria, pageState, history)

	return retry.DoWithResult(ctx, p.retrier, "action planning", func(ctx context.Context) (types.PlannedAction, error) {
		resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: systemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: p.cfg.Temperature,
			JSONOnly:    true,
		})
		if err != nil {
			return types.PlannedAction{}, types.NewError(types.ErrPlanningFailed, "planning call failed").
				WithCause(err).WithRetryable(true)
		}

		action, err := parseAction(resp.Content)
		if err != nil {
			p.logger.Warn("planner output failed validation",
				zap.String("raw", truncateForLog(resp.Content)),
				zap.Error(err))
			return types.PlannedAction{}, err
		}

		p.logger.Debug("action planned",
			zap.String("tool", string(action.Tool)),
			zap.String("instruction", action.Instruction))
		return action, nil
	})
}

func (p *Planner) buildPrompt(criteria types.SearchCriteria, pageState string, history *types.ActionHistory) string {
	var b strings.Builder

	b.WriteString("GOAL: find in-network providers in the insurance directory.\n")
	fmt.Fprintf(&b, "SPECIALIST PRIORITY (most general first): %s\n", strings.Join(criteria.Specialists, ", "))
	fmt.Fprintf(&b, "LOCATION: %s (lat %.4f, lon %.4f)\n",
		criteria.Location.Address, criteria.Location.Latitude, criteria.Location.Longitude)
	fmt.Fprintf(&b, "DIRECTORY ENTRY URL: %s\n\n", criteria.DirectoryURL)

	if history.Len() > 0 {
		b.WriteString("ACTIONS TAKEN SO FAR:\n")
		b.WriteString(history.String())
		b.WriteString("\n\n")
	} else {
		b.WriteString("No actions taken yet.\n\n")
	}

	b.WriteString("CURRENT PAGE STATE:\n")
	b.WriteString(p.truncateState(pageState))
	b.WriteString("\n\nChoose the single next action.")

	return b.String()
}

// truncateState caps the page description at MaxStateTokens so long DOM
// dumps cannot crowd the action history out of the context window.
func (p *Planner) truncateState(state string) string {
	tokens := p.encoding.Encode(state, nil, nil)
	if len(tokens) <= p.cfg.MaxStateTokens {
		return state
	}
	truncated := p.encoding.Decode(tokens[:p.cfg.MaxStateTokens])
	return truncated + "\n[... page description truncated ...]"
}

// rawAction mirrors the JSON schema the model must produce.
type rawAction struct {
	Reasoning   string `json:"reasoning"`
	Tool        string `json:"tool"`
	Instruction string `json:"instruction"`
}

// parseAction validates model output against the fixed action schema.
func parseAction(content string) (types.PlannedAction, error) {
	payload := extractJSONObject(content)
	if payload == "" {
		return types.PlannedAction{}, types.NewError(types.ErrPlanInvalid, "planner output contains no JSON object").
			WithRetryable(true)
	}

	var raw rawAction
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return types.PlannedAction{}, types.NewError(types.ErrPlanInvalid, "planner output is not valid JSON").
			WithCause(err).WithRetryable(true)
	}

	tool, err := types.ParseActionTool(raw.Tool)
	if err != nil {
		return types.PlannedAction{}, types.NewError(types.ErrPlanInvalid, "planner chose unknown tool").
			WithCause(err).WithRetryable(true)
	}

	action := types.PlannedAction{
		Reasoning:   strings.TrimSpace(raw.Reasoning),
		Tool:        tool,
		Instruction: strings.TrimSpace(raw.Instruction),
	}
	if err := action.Validate(); err != nil {
		return types.PlannedAction{}, types.NewError(types.ErrPlanInvalid, "planned action failed schema validation").
			WithCause(err).WithRetryable(true)
	}
	return action, nil
}

// extractJSONObject returns the first top-level {...} block in the content,
// tolerating markdown fences some models wrap around JSON.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
