package planner

import (
	"fmt"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// validTransitions enumerates the Planner's allowed state moves (spec.md
// §4.4): INTENT → {ANALYSIS?, PLAN_GENERATION} → GOVERNANCE_CHECK →
// {EXECUTION_READY → COMPLETED} | FAILED. ANALYSIS is optional, so INTENT
// may go straight to PLAN_GENERATION.
var validTransitions = map[State][]State{
	StateIntent:          {StateAnalysis, StatePlanGeneration, StateFailed},
	StateAnalysis:        {StatePlanGeneration, StateFailed},
	StatePlanGeneration:  {StateGovernanceCheck, StateFailed},
	StateGovernanceCheck: {StateExecutionReady, StateFailed},
	StateExecutionReady:  {StateCompleted, StateFailed},
	StateCompleted:       {},
	StateFailed:          {},
}

// toolWhitelist is the per-state tool whitelist (spec.md §4.4).
// EXECUTION_READY forbids all Planner tool use — returning nil, not a
// permissive wildcard.
var toolWhitelist = map[State][]string{
	StateIntent:          nil,
	StateAnalysis:        analysisToolWhitelist,
	StatePlanGeneration:  append(append([]string{}, analysisToolWhitelist...), planGenerationExtraTools...),
	StateGovernanceCheck: nil,
	StateExecutionReady:  nil,
	StateCompleted:       nil,
	StateFailed:          nil,
}

// Context carries the Planner's ordered transition history (spec.md §4.4).
type Context struct {
	ID      string       `json:"id"`
	State   State        `json:"state"`
	History []Transition `json:"history"`
	now     func() time.Time
}

// NewContext starts a fresh Planner context in INTENT.
func NewContext(id string) *Context {
	return &Context{ID: id, State: StateIntent, now: time.Now}
}

// Transition moves the context to `to`, recording the move in History.
// Returns an InvalidArgument error for any move not in validTransitions.
func (c *Context) Transition(to State, reason string) error {
	allowed := validTransitions[c.State]
	ok := false
	for _, s := range allowed {
		if s == to {
			ok = true
			break
		}
	}
	if !ok {
		return lcerrors.Newf(lcerrors.KindInvalidArgument, "invalid planner transition %s -> %s", c.State, to)
	}

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	c.History = append(c.History, Transition{From: c.State, To: to, Reason: reason, Timestamp: now()})
	c.State = to
	return nil
}

// ToolAllowed reports whether tool may be invoked in the context's current
// state (spec.md §4.4's per-state tool whitelists).
func (c *Context) ToolAllowed(tool string) bool {
	for _, t := range toolWhitelist[c.State] {
		if t == tool {
			return true
		}
	}
	return false
}

// Fail transitions to FAILED from any state, recording why. It is always a
// valid move regardless of validTransitions (a Planner must be able to
// fail out of ANALYSIS, PLAN_GENERATION, etc. at any point).
func (c *Context) Fail(reason string) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	from := c.State
	c.History = append(c.History, Transition{From: from, To: StateFailed, Reason: reason, Timestamp: now()})
	c.State = StateFailed
}

func (c *Context) String() string {
	return fmt.Sprintf("planner[%s]=%s (%d transitions)", c.ID, c.State, len(c.History))
}
