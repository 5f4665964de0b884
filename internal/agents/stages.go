package agents

import (
	"context"
	"fmt"

	"tripctl/internal/agentiface"
	"tripctl/internal/pump"
	"tripctl/internal/state"
	"tripctl/internal/workflow"
)

// stageAgentIDs lists every agent the coordinator stage seeds status and
// memory entries for, in registration order.
var stageAgentIDs = []string{
	"planning_agent", "research_agent", "budget_agent", "gap_agent",
	"response_agent", "learning_agent",
}

// Build wires every concrete agent into both the message registry (for
// telemetry fan-out and cross-agent messages) and the workflow graph (for
// the coordinator-driven execution path), mirroring how the original
// coordinator registers agents once at startup and reuses them per request.
func Build(deps Deps, g *workflow.Graph) {
	planning := agentiface.NewMemoryEnhanced(NewPlanningAgent(deps), "planning", deps.Memory)
	research := agentiface.NewMemoryEnhanced(NewResearchAgent(deps), "research", deps.Memory)
	budget := agentiface.NewMemoryEnhanced(NewBudgetAgent(deps), "budget", deps.Memory)
	gapAgent := agentiface.NewMemoryEnhanced(NewGapAgent(deps), "gap_filling", deps.Memory)
	response := agentiface.NewMemoryEnhanced(NewResponseAgent(deps), "response", deps.Memory)
	learning := NewLearningAgent(deps)

	deps.Reg.Register("planning_agent", planning)
	deps.Reg.Register("research_agent", research)
	deps.Reg.Register("budget_agent", budget)
	deps.Reg.Register("gap_agent", gapAgent)
	deps.Reg.Register("response_agent", response)
	deps.Reg.Register("learning_agent", learning)

	g.AddStage("coordinator", CoordinatorStage(stageAgentIDs))
	g.AddStage("planning_agent", runStage("planning_agent", "planning", planning, deps))
	g.AddStage("research_agent", runStage("research_agent", "research", research, deps))
	g.AddStage("budget_agent", runStage("budget_agent", "budget", budget, deps))
	g.AddStage("gap_agent", runStage("gap_agent", "gap_filling", gapAgent, deps))
	g.AddStage("response_agent", runStage("response_agent", "response", response, deps))
	g.AddStage("learning_agent", runStage("learning_agent", "learning", learning, deps))
	g.AddStage("error_handler", ErrorHandlerStage())
}

// CoordinatorStage seeds per-agent status/memory entries and processing-step
// bookkeeping at the start of a run, mirroring coordinator_node.
func CoordinatorStage(agentIDs []string) workflow.StageFunc {
	return func(ctx context.Context, s *state.State) error {
		for _, id := range agentIDs {
			if _, ok := s.AgentMemories[id]; !ok {
				s.AgentMemories[id] = &state.AgentMemory{AgentID: id}
			}
			if _, ok := s.AgentStatuses[id]; !ok {
				s.AgentStatuses[id] = &state.AgentStatus{AgentID: id, Status: state.StatusIdle}
			}
		}
		s.AppendStep("coordination_start", map[string]any{"strategy": "sequential"})
		return nil
	}
}

// ErrorHandlerStage composes the terminal error response from every agent
// that ended in error status, mirroring error_handler_node.
func ErrorHandlerStage() workflow.StageFunc {
	return func(ctx context.Context, s *state.State) error {
		var failedAgents []string
		var errorMessages []string
		for id, st := range s.AgentStatuses {
			if st.Status == state.StatusError {
				failedAgents = append(failedAgents, id)
				errorMessages = append(errorMessages, st.ErrorMessage)
			}
		}
		if len(failedAgents) > 0 {
			s.FinalResponse = state.Bucket{
				"status":  "error",
				"message": "Error processing request",
				"details": map[string]any{
					"failed_agents":  failedAgents,
					"error_messages": errorMessages,
					"session_id":     s.SessionID,
				},
			}
		}
		return nil
	}
}

// runStage wraps a concrete agent in the common per-stage shape: set
// status, drain queued messages, execute, sync buckets back, persist
// memory, emit telemetry, choose next_agent. Mirrors each *_agent_node
// function in the coordinator.
func runStage(agentID, taskType string, ag agentiface.Agent, deps Deps) workflow.StageFunc {
	return func(ctx context.Context, s *state.State) error {
		s.SetStatus(agentID, state.StatusWorking, taskType)
		pump.Drain(s, deps.Reg, 4)

		actx := buildContext(s)
		start := now()
		result, err := ag.ExecuteTask(ctx, actx)
		elapsed := elapsedSince(start)

		syncContextToState(s, actx)

		success := err == nil
		status, _ := result["status"].(string)
		if status == "error" {
			success = false
		}

		if success {
			s.SetStatus(agentID, state.StatusCompleted, "")
			if agentID == "gap_agent" {
				s.GapFillingCompleted = true
			}
		} else {
			errMsg := fmt.Sprintf("%v", result["error"])
			if err != nil && errMsg == "<nil>" {
				errMsg = err.Error()
			}
			s.SetError(agentID, errMsg)
		}

		telemetry(s, deps.Reg, agentID, taskType, success, elapsed)

		if status == "partial_success" {
			s.NextAgent = "response_agent"
		} else if !success {
			s.NextAgent = "error_handler"
		} else {
			s.NextAgent = ""
		}

		return nil
	}
}
