// Package workflow is the explicit stage-table/router-table substitute for a
// graph-execution library. Each stage is a named function over *state.State;
// each router inspects the state after its stage ran and names the next
// stage. Driving the table is a bounded loop rather than a library-managed
// executor, since no example repo provides a Go graph-execution library
// suited to this in-process, per-request shape.
package workflow

import (
	"context"
	"fmt"

	"tripctl/internal/gap"
	"tripctl/internal/state"
)

// End is the sentinel stage name meaning the graph has finished.
const End = "__end__"

// MaxResearchRetries and MaxBudgetRetries bound how many times the research
// and budget stages may be re-entered before the graph routes to the error
// handler instead.
const (
	MaxResearchRetries = 2
	MaxBudgetRetries   = 2
)

// DefaultRecursionLimit bounds total stage transitions in one run, guarding
// against a routing bug turning into an infinite loop.
const DefaultRecursionLimit = 200

// StageFunc runs one stage against the shared state, mutating it in place
// (mirroring the original node functions, which mutate state in place and
// return it). A non-nil error stops Run, which returns that error.
type StageFunc func(ctx context.Context, s *state.State) error

// StageHook is called after a stage runs successfully, before routing picks
// the next stage. Used to append an audit trail entry per transition.
type StageHook func(ctx context.Context, stage string, s *state.State)

// Graph is the compiled stage table plus router table.
type Graph struct {
	stages         map[string]StageFunc
	recursionLimit int
	onStage        StageHook
}

// New builds a Graph. Callers register stages with AddStage before Run.
func New(recursionLimit int) *Graph {
	if recursionLimit <= 0 {
		recursionLimit = DefaultRecursionLimit
	}
	return &Graph{stages: map[string]StageFunc{}, recursionLimit: recursionLimit}
}

// AddStage registers a stage function under name.
func (g *Graph) AddStage(name string, fn StageFunc) {
	g.stages[name] = fn
}

// SetStageHook installs a hook invoked after every successful stage
// transition, mirroring the original coordinator's per-node audit logging.
func (g *Graph) SetStageHook(hook StageHook) {
	g.onStage = hook
}

// RecursionLimitError is returned when a run exceeds its recursion limit
// without reaching End.
type RecursionLimitError struct {
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("workflow: exceeded recursion limit of %d stage transitions", e.Limit)
}

// Run drives the graph starting at "coordinator" until a stage routes to
// End, a stage errors, or the recursion limit is hit.
func (g *Graph) Run(ctx context.Context, s *state.State) error {
	current := "coordinator"
	for steps := 0; ; steps++ {
		if steps >= g.recursionLimit {
			return &RecursionLimitError{Limit: g.recursionLimit}
		}
		if current == End {
			return nil
		}
		stage, ok := g.stages[current]
		if !ok {
			return fmt.Errorf("workflow: no stage registered for %q", current)
		}
		if err := stage(ctx, s); err != nil {
			return err
		}
		if g.onStage != nil {
			g.onStage(ctx, current, s)
		}
		current = route(current, s)
	}
}

// route applies the router table. The coordinator stage always advances to
// planning; gap_agent and learning/error_handler edges are unconditional per
// the stage graph; planning/research/budget route conditionally.
func route(stageJustRun string, s *state.State) string {
	switch stageJustRun {
	case "coordinator":
		return "planning_agent"
	case "planning_agent":
		return routeAfterPlanning(s)
	case "research_agent":
		return routeAfterResearch(s)
	case "budget_agent":
		return routeAfterBudget(s)
	case "gap_agent":
		return "budget_agent"
	case "response_agent":
		return "learning_agent"
	case "learning_agent":
		return End
	case "error_handler":
		return End
	default:
		return End
	}
}

func routeAfterPlanning(s *state.State) string {
	if st, ok := s.AgentStatuses["planning_agent"]; ok && st.Status == state.StatusError {
		return "error_handler"
	}
	// Always research first: checking gaps before research causes
	// "everything missing" loops.
	return "research_agent"
}

func routeAfterResearch(s *state.State) string {
	if st, ok := s.AgentStatuses["research_agent"]; ok && st.Status == state.StatusError {
		return "error_handler"
	}

	if needsGap(s) {
		return "gap_agent"
	}

	if sla := s.SLASeconds; sla != nil && *sla > 0 {
		threshold := 5.0
		if ninety := *sla * 0.9; ninety > threshold {
			threshold = ninety
		}
		if s.ElapsedSeconds() > threshold {
			if hasMinimalResearchData(s.ResearchData) {
				s.NextAgent = "response_agent"
				return "response_agent"
			}
		}
	}

	switch s.NextAgent {
	case "research_agent":
		s.ResearchRetries++
		if s.ResearchRetries <= MaxResearchRetries {
			return "research_agent"
		}
		return "error_handler"
	case "budget_agent":
		return "budget_agent"
	case "response_agent":
		return "response_agent"
	default:
		return "budget_agent"
	}
}

func hasMinimalResearchData(rd state.Bucket) bool {
	if rd == nil {
		return false
	}
	if _, ok := rd["cities"]; !ok || isEmptyAny(rd["cities"]) {
		return false
	}
	hasAny := func(k string) bool {
		v, ok := rd[k]
		return ok && !isEmptyAny(v)
	}
	return hasAny("poi") || hasAny("city_fares") || hasAny("restaurants")
}

func isEmptyAny(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}

func routeAfterBudget(s *state.State) string {
	if st, ok := s.AgentStatuses["budget_agent"]; ok && st.Status == state.StatusError {
		return "error_handler"
	}

	if !isEmptyAny(s.TripData) || !isEmptyAny(s.OptimizedData) {
		return "response_agent"
	}

	if needsGap(s) {
		return "gap_agent"
	}

	if s.NextAgent == "budget_agent" {
		s.BudgetRetries++
		if s.BudgetRetries <= MaxBudgetRetries {
			return "budget_agent"
		}
		return "error_handler"
	}
	return "response_agent"
}

// needsGap mirrors _needs_gap: gap filling is considered at most once per
// run, only once research data exists, and only if IdentifyMissingData finds
// something outstanding.
func needsGap(s *state.State) bool {
	if s.GapFillingCompleted {
		return false
	}
	if isEmptyAny(s.ResearchData) {
		return false
	}
	if s.GapFillingAttempts >= 1 {
		return false
	}
	missing := gap.IdentifyMissingData(s.Snapshot()["research_data"].(state.Bucket), s.Snapshot()["planning_data"].(state.Bucket))
	if len(missing) > 0 {
		s.GapFillingAttempts++
		return true
	}
	return false
}
