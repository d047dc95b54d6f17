package types

import (
	"fmt"
	"strings"
)

// ActionTool identifies one atomic browser action the planner may choose.
type ActionTool string

const (
	ToolNavigate     ActionTool = "NAVIGATE"
	ToolInteract     ActionTool = "INTERACT"
	ToolExtract      ActionTool = "EXTRACT"
	ToolObserve      ActionTool = "OBSERVE"
	ToolClose        ActionTool = "CLOSE"
	ToolWait         ActionTool = "WAIT"
	ToolNavigateBack ActionTool = "NAVIGATE_BACK"
)

// AllTools lists the fixed action vocabulary in a stable order.
func AllTools() []ActionTool {
	return []ActionTool{
		ToolNavigate,
		ToolInteract,
		ToolExtract,
		ToolObserve,
		ToolClose,
		ToolWait,
		ToolNavigateBack,
	}
}

// ParseActionTool converts a raw string into an ActionTool. Matching is
// case-insensitive; unknown values are rejected.
func ParseActionTool(s string) (ActionTool, error) {
	candidate := ActionTool(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range AllTools() {
		if candidate == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown action tool %q", s)
}

// PlannedAction is a single schema-validated next step chosen by the planner.
type PlannedAction struct {
	Reasoning   string     `json:"reasoning"`
	Tool        ActionTool `json:"tool"`
	Instruction string     `json:"instruction"`
}

// Validate checks the action against the fixed schema: a known tool and a
// non-empty instruction. Reasoning may be empty.
func (a PlannedAction) Validate() error {
	if _, err := ParseActionTool(string(a.Tool)); err != nil {
		return NewError(ErrPlanInvalid, "planned action has invalid tool").WithCause(err)
	}
	if strings.TrimSpace(a.Instruction) == "" {
		return NewError(ErrPlanInvalid, "planned action has empty instruction")
	}
	return nil
}

// Format renders the action as the canonical "TOOL: instruction" history entry.
func (a PlannedAction) Format() string {
	return fmt.Sprintf("%s: %s", a.Tool, a.Instruction)
}

// completion markers recognized in planned instructions
var completionMarkers = []string{"complete", "finished"}

// SignalsCompletion reports whether the instruction text contains a
// completion marker (case-insensitive substring match).
func (a PlannedAction) SignalsCompletion() bool {
	lower := strings.ToLower(a.Instruction)
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ActionHistory is the append-only record of actions planned during one
// search session. Entries are formatted "TOOL: instruction" strings and the
// history is never truncated mid-session. It is owned by a single agent
// loop and is not safe for concurrent use.
type ActionHistory struct {
	entries []string
}

// Append records a planned action. It is called before execution is
// attempted, so a failed execution still leaves a record of intent.
func (h *ActionHistory) Append(a PlannedAction) {
	h.entries = append(h.entries, a.Format())
}

// Len returns the number of recorded actions.
func (h *ActionHistory) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the recorded action strings.
func (h *ActionHistory) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// String joins the history into a newline-separated block for prompt use.
func (h *ActionHistory) String() string {
	return strings.Join(h.entries, "\n")
}
