package agents

import (
	"testing"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

func TestBuildContextSnapshotsBuckets(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	s.PlanningData["cities"] = []any{"Paris"}
	s.ToolPlan = []string{"city_recommender"}

	actx := buildContext(s)
	if actx.SessionID != s.SessionID {
		t.Errorf("SessionID = %q, want %q", actx.SessionID, s.SessionID)
	}
	planning, ok := actx.Shared["planning_data"].(state.Bucket)
	if !ok {
		t.Fatal("planning_data missing from shared context")
	}
	if planning["cities"] == nil {
		t.Error("expected cities to be present in planning_data snapshot")
	}
}

func TestBuildContextGathersLearnedPreferencesAsConstraints(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	s.AgentMemories["planning_agent"] = &state.AgentMemory{
		LearnedPreferences: map[string]any{"budget_tier": "luxury"},
	}

	actx := buildContext(s)
	if actx.Constraints["budget_tier"] != "luxury" {
		t.Errorf("Constraints[budget_tier] = %v, want luxury", actx.Constraints["budget_tier"])
	}
}

func TestSyncContextToStateCopiesEveryBucketIncludingFinalResponse(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	actx := &agentiface.Context{
		Shared: map[string]any{
			"planning_data":  state.Bucket{"cities": []any{"Rome"}},
			"research_data":  state.Bucket{"poi": "x"},
			"trip_data":      state.Bucket{"itinerary": []any{"day1"}},
			"geocost_data":   state.Bucket{"Rome": 1.0},
			"optimized_data": state.Bucket{"route": []any{"Rome"}},
			"budget_data":    state.Bucket{"total": 100.0},
			"gap_data":       state.Bucket{"missing": []any{}},
			"fx_data":        state.Bucket{"EUR": 1.0},
			"final_response": state.Bucket{"response_text": "here is your trip"},
			"tool_plan":      []string{"city_recommender"},
		},
	}

	syncContextToState(s, actx)

	if s.PlanningData["cities"] == nil {
		t.Error("planning_data not synced")
	}
	if s.ResearchData["poi"] != "x" {
		t.Error("research_data not synced")
	}
	if s.TripData["itinerary"] == nil {
		t.Error("trip_data not synced")
	}
	if s.GeocostData["Rome"] != 1.0 {
		t.Error("geocost_data not synced")
	}
	if s.OptimizedData["route"] == nil {
		t.Error("optimized_data not synced")
	}
	if s.BudgetData["total"] != 100.0 {
		t.Error("budget_data not synced")
	}
	if s.GapData["missing"] == nil {
		t.Error("gap_data not synced")
	}
	if s.FXData["EUR"] != 1.0 {
		t.Error("fx_data not synced")
	}
	if s.FinalResponse["response_text"] != "here is your trip" {
		t.Fatalf("final_response not synced: %v", s.FinalResponse)
	}
	if len(s.ToolPlan) != 1 || s.ToolPlan[0] != "city_recommender" {
		t.Errorf("tool_plan = %v, want [city_recommender]", s.ToolPlan)
	}
}

func TestSyncContextToStateLeavesUntouchedBucketsAlone(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	s.BudgetData["total"] = 42.0
	actx := &agentiface.Context{Shared: map[string]any{}}

	syncContextToState(s, actx)

	if s.BudgetData["total"] != 42.0 {
		t.Error("budget_data should be unchanged when absent from actx.Shared")
	}
}

type fakeRecipient struct {
	received []state.Message
}

func (f *fakeRecipient) ReceiveMessage(msg state.Message) (*state.Message, error) {
	f.received = append(f.received, msg)
	return nil, nil
}

func TestTelemetrySkippedWithoutLearningAgent(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	reg := NewRegistry()
	telemetry(s, reg, "planning_agent", "interpret", true, 0.1)
	if len(s.MessageQueue) != 0 {
		t.Errorf("expected no message enqueued without learning_agent registered, got %d", len(s.MessageQueue))
	}
}

func TestTelemetryDrainsToLearningAgent(t *testing.T) {
	s := state.New("plan a trip", "user-1", nil, nil)
	reg := NewRegistry()
	fr := &fakeRecipient{}
	reg.Register("learning_agent", fr)

	telemetry(s, reg, "planning_agent", "interpret", true, 0.25)

	if len(fr.received) != 1 {
		t.Fatalf("learning_agent received %d messages, want 1", len(fr.received))
	}
	if fr.received[0].MessageType != "performance_data" {
		t.Errorf("message type = %q, want performance_data", fr.received[0].MessageType)
	}
	if len(s.MessageQueue) != 0 {
		t.Errorf("expected queue drained, got %d remaining", len(s.MessageQueue))
	}
}
