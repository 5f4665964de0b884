package agents

import (
	"context"
	"testing"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

func TestResponseAgentFallsBackWithoutOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	a := NewResponseAgent(Deps{})
	if a.client != nil {
		t.Fatal("expected nil client when OPENAI_API_KEY is unset")
	}

	actx := &agentiface.Context{
		UserRequest: "plan a trip to Paris",
		Shared: map[string]any{
			"planning_data": state.Bucket{
				"preferences": map[string]any{"duration_days": 3.0},
				"budget_caps": map[string]any{"total": 800.0},
			},
			"research_data": state.Bucket{"cities": []any{"Paris"}},
			"budget_data":    state.Bucket{},
			"trip_data":      state.Bucket{},
		},
	}

	result, err := a.ExecuteTask(context.Background(), actx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["status"] != "success" {
		t.Fatalf("status = %v, want success", result["status"])
	}
	response := result["response"].(map[string]any)
	if response["tier"] != "basic" {
		t.Errorf("tier = %v, want basic", response["tier"])
	}
	if response["response_text"] == nil || response["response_text"] == "" {
		t.Error("expected non-empty response_text")
	}
	finalResponse := actx.Shared["final_response"].(state.Bucket)
	if finalResponse["response_text"] != response["response_text"] {
		t.Error("expected final_response to mirror the returned response")
	}
}

func TestResponseAgentFallbackReflectsCitiesAndBudget(t *testing.T) {
	a := &ResponseAgent{}
	research := state.Bucket{"cities": []any{"Berlin", "Munich"}}
	planning := state.Bucket{
		"preferences": map[string]any{"duration_days": 5.0},
		"budget_caps": map[string]any{"total": 1200.0},
		"target_currency": "USD",
	}

	resp := a.fallbackResponse(planning, research)
	summary := resp["summary"].(map[string]any)
	if summary["duration"] != 5 {
		t.Errorf("summary.duration = %v, want 5", summary["duration"])
	}
	if summary["budget"] != 1200.0 {
		t.Errorf("summary.budget = %v, want 1200.0", summary["budget"])
	}
	if summary["currency"] != "USD" {
		t.Errorf("summary.currency = %v, want USD", summary["currency"])
	}
	cities := summary["cities"].([]string)
	if len(cities) != 2 {
		t.Errorf("summary.cities = %v, want 2 entries", cities)
	}
}

func TestNormalizeCitiesFallsBackToGeocostKeys(t *testing.T) {
	a := &ResponseAgent{}
	research := state.Bucket{"geocost": map[string]any{"Lisbon": 1.0}}
	cities := a.normalizeCities(research, state.Bucket{})
	if len(cities) != 1 || cities[0] != "Lisbon" {
		t.Errorf("normalizeCities = %v, want [Lisbon]", cities)
	}
}

func TestTierOfReflectsItineraryPresence(t *testing.T) {
	if got := tierOf(map[string]any{"trip_itinerary": []any{"day1"}}); got != "full" {
		t.Errorf("tierOf(with itinerary) = %q, want full", got)
	}
	if got := tierOf(map[string]any{"trip_itinerary": []any{}}); got != "standard" {
		t.Errorf("tierOf(empty itinerary) = %q, want standard", got)
	}
}

func TestBuildPromptPicksStyleFromRequestKeywords(t *testing.T) {
	a := &ResponseAgent{}
	_, concise := a.buildPrompt("what's the fare to Tokyo", map[string]any{}, "{}")
	if concise != 500 {
		t.Errorf("maxTokens for a fare question = %d, want 500", concise)
	}
	_, comprehensive := a.buildPrompt("plan my trip to Tokyo", map[string]any{}, "{}")
	if comprehensive != 2000 {
		t.Errorf("maxTokens for a trip-planning question = %d, want 2000", comprehensive)
	}
}

func TestIsEmptyValCoversCommonShapes(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, true},
		{"empty map", map[string]any{}, true},
		{"non-empty map", map[string]any{"a": 1}, false},
		{"empty slice", []any{}, true},
		{"non-empty slice", []any{1}, false},
		{"empty string", "", true},
		{"non-empty string", "x", false},
	}
	for _, c := range cases {
		if got := isEmptyVal(c.v); got != c.want {
			t.Errorf("%s: isEmptyVal = %v, want %v", c.name, got, c.want)
		}
	}
}
