package agents

import (
	"context"
	"testing"

	"tripctl/internal/agentiface"
	"tripctl/internal/memory"
	"tripctl/internal/state"
)

type fakeStageAgent struct {
	id     string
	result map[string]any
	err    error
}

func (f *fakeStageAgent) ID() string { return f.id }
func (f *fakeStageAgent) ReceiveMessage(state.Message) (*state.Message, error) { return nil, nil }
func (f *fakeStageAgent) ExecuteTask(_ context.Context, actx *agentiface.Context) (map[string]any, error) {
	return f.result, f.err
}

func TestCoordinatorStageSeedsStatusAndMemory(t *testing.T) {
	stage := CoordinatorStage([]string{"planning_agent", "research_agent"})
	s := state.New("plan a trip", "user-1", nil, nil)

	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"planning_agent", "research_agent"} {
		if s.AgentStatuses[id] == nil || s.AgentStatuses[id].Status != state.StatusIdle {
			t.Errorf("%s status = %v, want idle", id, s.AgentStatuses[id])
		}
		if s.AgentMemories[id] == nil {
			t.Errorf("%s memory not seeded", id)
		}
	}
	if len(s.ProcessingSteps) != 1 {
		t.Errorf("ProcessingSteps = %v, want 1 entry", s.ProcessingSteps)
	}
}

func TestCoordinatorStageDoesNotOverwriteExistingEntries(t *testing.T) {
	stage := CoordinatorStage([]string{"planning_agent"})
	s := state.New("plan a trip", "user-1", nil, nil)
	s.AgentStatuses["planning_agent"] = &state.AgentStatus{AgentID: "planning_agent", Status: state.StatusCompleted}

	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AgentStatuses["planning_agent"].Status != state.StatusCompleted {
		t.Error("expected existing status to be preserved")
	}
}

func TestErrorHandlerStageComposesFailureDetails(t *testing.T) {
	stage := ErrorHandlerStage()
	s := state.New("plan a trip", "user-1", nil, nil)
	s.SetError("budget_agent", "discoveries_costs failed")

	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.FinalResponse["status"] != "error" {
		t.Fatalf("FinalResponse.status = %v, want error", s.FinalResponse["status"])
	}
	details := s.FinalResponse["details"].(map[string]any)
	failed := details["failed_agents"].([]string)
	if len(failed) != 1 || failed[0] != "budget_agent" {
		t.Errorf("failed_agents = %v, want [budget_agent]", failed)
	}
}

func TestErrorHandlerStageNoOpWithoutFailures(t *testing.T) {
	stage := ErrorHandlerStage()
	s := state.New("plan a trip", "user-1", nil, nil)

	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.FinalResponse) != 0 {
		t.Errorf("expected FinalResponse to stay empty, got %v", s.FinalResponse)
	}
}

func TestRunStageSuccessSetsCompletedAndClearsNextAgent(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Reg: reg, Memory: memory.New()}
	fake := &fakeStageAgent{id: "planning_agent", result: map[string]any{"status": "success"}}
	stage := runStage("planning_agent", "planning", fake, deps)

	s := state.New("plan a trip", "user-1", nil, nil)
	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AgentStatuses["planning_agent"].Status != state.StatusCompleted {
		t.Errorf("status = %v, want completed", s.AgentStatuses["planning_agent"].Status)
	}
	if s.NextAgent != "" {
		t.Errorf("NextAgent = %q, want empty on success", s.NextAgent)
	}
}

func TestRunStageErrorSetsErrorStatusAndRoutesToErrorHandler(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Reg: reg, Memory: memory.New()}
	fake := &fakeStageAgent{id: "budget_agent", result: map[string]any{"status": "error", "error": "tool down"}}
	stage := runStage("budget_agent", "budget", fake, deps)

	s := state.New("plan a trip", "user-1", nil, nil)
	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AgentStatuses["budget_agent"].Status != state.StatusError {
		t.Errorf("status = %v, want error", s.AgentStatuses["budget_agent"].Status)
	}
	if s.AgentStatuses["budget_agent"].ErrorMessage != "tool down" {
		t.Errorf("ErrorMessage = %q, want tool down", s.AgentStatuses["budget_agent"].ErrorMessage)
	}
	if s.NextAgent != "error_handler" {
		t.Errorf("NextAgent = %q, want error_handler", s.NextAgent)
	}
}

func TestRunStagePartialSuccessRoutesToResponseAgent(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Reg: reg, Memory: memory.New()}
	fake := &fakeStageAgent{id: "budget_agent", result: map[string]any{"status": "partial_success"}}
	stage := runStage("budget_agent", "budget", fake, deps)

	s := state.New("plan a trip", "user-1", nil, nil)
	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.NextAgent != "response_agent" {
		t.Errorf("NextAgent = %q, want response_agent", s.NextAgent)
	}
}

func TestRunStageUsesGoErrorWhenResultHasNoErrorField(t *testing.T) {
	reg := NewRegistry()
	deps := Deps{Reg: reg, Memory: memory.New()}
	boom := errGoLevel("boom from go error")
	fake := &fakeStageAgent{id: "research_agent", result: map[string]any{}, err: boom}
	stage := runStage("research_agent", "research", fake, deps)

	s := state.New("plan a trip", "user-1", nil, nil)
	if err := stage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AgentStatuses["research_agent"].ErrorMessage != "boom from go error" {
		t.Errorf("ErrorMessage = %q, want boom from go error", s.AgentStatuses["research_agent"].ErrorMessage)
	}
}

type errGoLevel string

func (e errGoLevel) Error() string { return string(e) }
