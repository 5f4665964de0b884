// Package agents implements the concrete stage agents the workflow graph
// drives: coordinator-init, planning, research, budget, gap, response
// (output), learning, and the error handler. Each follows the same shape
// the original coordinator nodes use: set status, drain any pending
// messages, execute, sync buckets back onto shared state, record memory,
// emit a telemetry message, and choose next_agent.
package agents

import (
	"time"

	"tripctl/internal/agentiface"
	"tripctl/internal/memory"
	"tripctl/internal/pump"
	"tripctl/internal/state"
	"tripctl/internal/toolbridge"
)

// Registry resolves agent ids to message recipients for the pump. Every
// concrete agent in this package also satisfies pump.Recipient via
// ReceiveMessage, even though the coordinator-driven path above mostly
// bypasses the message queue in favor of direct ExecuteTask calls — the
// queue exists for telemetry fan-out (e.g. performance_data to
// learning_agent) and legacy message-style callers.
type Registry struct {
	agents map[string]pump.Recipient
}

// NewRegistry builds an empty registry; use Register to populate it.
func NewRegistry() *Registry {
	return &Registry{agents: map[string]pump.Recipient{}}
}

func (r *Registry) Register(id string, recipient pump.Recipient) {
	r.agents[id] = recipient
}

func (r *Registry) Lookup(agentID string) (pump.Recipient, bool) {
	a, ok := r.agents[agentID]
	return a, ok
}

// buildContext assembles the per-call agentiface.Context from shared state,
// mirroring the coordinator's _ctx(): a snapshot of every bucket plus
// learned preferences (gathered from agent memories) as constraints.
func buildContext(s *state.State) *agentiface.Context {
	shared := map[string]any{
		"session_id":      s.SessionID,
		"user_request":    s.UserRequest,
		"user_id":         s.UserID,
		"planning_data":   s.PlanningData,
		"research_data":   s.ResearchData,
		"trip_data":       s.TripData,
		"geocost_data":    s.GeocostData,
		"optimized_data":  s.OptimizedData,
		"budget_data":     s.BudgetData,
		"gap_data":        s.GapData,
		"fx_data":         s.FXData,
		"final_response":  s.FinalResponse,
		"tool_plan":       s.ToolPlan,
		"run_id":          s.RunID,
	}

	constraints := map[string]any{}
	for _, mem := range s.AgentMemories {
		for k, v := range mem.LearnedPreferences {
			constraints[k] = v
		}
	}

	return &agentiface.Context{
		SessionID:           s.SessionID,
		UserID:              s.UserID,
		UserRequest:         s.UserRequest,
		ConversationHistory: s.ConversationHistory,
		Shared:              shared,
		Constraints:         constraints,
		RunID:               s.RunID,
	}
}

// syncContextToState writes the mutable buckets in actx.Shared back onto s,
// mirroring _sync_context_to_state.
func syncContextToState(s *state.State, actx *agentiface.Context) {
	if v, ok := actx.Shared["planning_data"].(state.Bucket); ok {
		s.PlanningData = v
	}
	if v, ok := actx.Shared["research_data"].(state.Bucket); ok {
		s.ResearchData = v
	}
	if v, ok := actx.Shared["trip_data"].(state.Bucket); ok {
		s.TripData = v
	}
	if v, ok := actx.Shared["geocost_data"].(state.Bucket); ok {
		s.GeocostData = v
	}
	if v, ok := actx.Shared["optimized_data"].(state.Bucket); ok {
		s.OptimizedData = v
	}
	if v, ok := actx.Shared["budget_data"].(state.Bucket); ok {
		s.BudgetData = v
	}
	if v, ok := actx.Shared["gap_data"].(state.Bucket); ok {
		s.GapData = v
	}
	if v, ok := actx.Shared["fx_data"].(state.Bucket); ok {
		s.FXData = v
	}
	if v, ok := actx.Shared["final_response"].(state.Bucket); ok {
		s.FinalResponse = v
	}
	if v, ok := actx.Shared["tool_plan"].([]string); ok {
		s.ToolPlan = v
	}
}

// telemetry emits a performance_data message to learning_agent and drains it
// immediately, matching _telemetry's max_steps=2 drain.
func telemetry(s *state.State, reg pump.Registry, agentID, taskType string, success bool, responseTime float64) {
	if _, ok := reg.Lookup("learning_agent"); !ok {
		return
	}
	msg := state.NewMessage(agentID, "learning_agent", "performance_data", map[string]any{
		"agent_id":      agentID,
		"task_type":     taskType,
		"success":       success,
		"response_time": responseTime,
		"context":       map[string]any{"session_id": s.SessionID},
	})
	pump.Enqueue(s, msg)
	pump.Drain(s, reg, 2)
}

// Deps bundles the shared collaborators every stage agent needs.
type Deps struct {
	Bridge *toolbridge.Bridge
	Memory *memory.Store
	Reg    *Registry
}

func now() time.Time { return time.Now() }

func elapsedSince(t time.Time) float64 { return time.Since(t).Seconds() }
