package workflow

import (
	"context"
	"errors"
	"testing"

	"tripctl/internal/state"
)

func newState() *state.State {
	return state.New("plan a trip", "user-1", nil, nil)
}

func TestRunDrivesStagesToEnd(t *testing.T) {
	g := New(DefaultRecursionLimit)
	var order []string
	add := func(name, next string) {
		g.AddStage(name, func(_ context.Context, s *state.State) error {
			order = append(order, name)
			s.NextAgent = next
			return nil
		})
	}
	add("coordinator", "")
	add("planning_agent", "")
	add("research_agent", "")
	add("budget_agent", "")
	add("response_agent", "")
	add("learning_agent", "")

	s := newState()
	s.PlanningData["cities"] = []any{"Paris"}
	s.ResearchData["cities"] = []any{"Paris"}
	s.BudgetData["total"] = 100.0
	// Force routeAfterBudget down the response path by giving trip data.
	s.TripData["itinerary"] = []any{"day1"}

	if err := g.Run(context.Background(), s); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{"coordinator", "planning_agent", "research_agent", "budget_agent", "response_agent", "learning_agent"}
	if len(order) != len(want) {
		t.Fatalf("stage order = %v, want %v", order, want)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("stage[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestRunStopsAtErrorHandler(t *testing.T) {
	g := New(DefaultRecursionLimit)
	g.AddStage("coordinator", func(_ context.Context, s *state.State) error { return nil })
	g.AddStage("planning_agent", func(_ context.Context, s *state.State) error {
		s.SetError("planning_agent", "boom")
		return nil
	})
	var handledError bool
	g.AddStage("error_handler", func(_ context.Context, s *state.State) error {
		handledError = true
		return nil
	})

	s := newState()
	if err := g.Run(context.Background(), s); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !handledError {
		t.Fatal("expected error_handler stage to run")
	}
}

func TestRunPropagatesStageError(t *testing.T) {
	g := New(DefaultRecursionLimit)
	boom := errors.New("stage failed")
	g.AddStage("coordinator", func(_ context.Context, s *state.State) error { return boom })

	s := newState()
	err := g.Run(context.Background(), s)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRunHitsRecursionLimit(t *testing.T) {
	// A limit smaller than the number of stages the normal path needs trips
	// the recursion guard before the graph ever reaches End.
	g := New(2)
	g.AddStage("coordinator", func(_ context.Context, s *state.State) error { return nil })
	g.AddStage("planning_agent", func(_ context.Context, s *state.State) error { return nil })

	s := newState()
	err := g.Run(context.Background(), s)
	var limitErr *RecursionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Run error = %v, want *RecursionLimitError", err)
	}
	if limitErr.Limit != 2 {
		t.Errorf("Limit = %d, want 2", limitErr.Limit)
	}
}

func TestSetStageHookInvokedPerTransition(t *testing.T) {
	g := New(DefaultRecursionLimit)
	g.AddStage("coordinator", func(_ context.Context, s *state.State) error { return nil })
	g.AddStage("planning_agent", func(_ context.Context, s *state.State) error {
		s.SetError("planning_agent", "fail fast")
		return nil
	})
	g.AddStage("error_handler", func(_ context.Context, s *state.State) error { return nil })

	var seen []string
	g.SetStageHook(func(_ context.Context, stage string, _ *state.State) {
		seen = append(seen, stage)
	})

	s := newState()
	if err := g.Run(context.Background(), s); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{"coordinator", "planning_agent", "error_handler"}
	if len(seen) != len(want) {
		t.Fatalf("hook calls = %v, want %v", seen, want)
	}
	for i, name := range want {
		if seen[i] != name {
			t.Errorf("hook[%d] = %q, want %q", i, seen[i], name)
		}
	}
}

func TestRouteAfterResearchRetriesThenErrors(t *testing.T) {
	s := newState()
	s.ResearchData["cities"] = []any{"Paris"}
	s.NextAgent = "research_agent"

	for i := 0; i <= MaxResearchRetries; i++ {
		next := routeAfterResearch(s)
		if i < MaxResearchRetries {
			if next != "research_agent" {
				t.Fatalf("retry %d: route = %q, want research_agent", i, next)
			}
			s.NextAgent = "research_agent"
		} else {
			if next != "error_handler" {
				t.Fatalf("final retry: route = %q, want error_handler", next)
			}
		}
	}
}

func TestRouteAfterBudgetGoesToResponseOnPartialSuccess(t *testing.T) {
	s := newState()
	s.ResearchData["cities"] = []any{"Paris"}
	s.OptimizedData["total_cost"] = 500.0

	if next := routeAfterBudget(s); next != "response_agent" {
		t.Fatalf("route = %q, want response_agent", next)
	}
}

func TestNeedsGapOnlyOncePerRun(t *testing.T) {
	s := newState()
	s.ResearchData["cities"] = []any{"Paris"}
	s.ResearchData["poi"] = map[string]any{"poi_by_city": map[string]any{}}
	s.PlanningData["cities"] = []any{"Paris"}
	// poi.discovery ran but produced nothing for Paris: gap.IdentifyMissingData
	// should find something outstanding the first time.
	if !needsGap(s) {
		t.Fatal("expected needsGap to report missing data on first check")
	}
	if needsGap(s) {
		t.Fatal("expected needsGap to be false after GapFillingAttempts increments")
	}
}

func TestHasMinimalResearchData(t *testing.T) {
	cases := []struct {
		name string
		rd   state.Bucket
		want bool
	}{
		{"nil", nil, false},
		{"no cities", state.Bucket{"poi": map[string]any{"a": 1}}, false},
		{"cities only", state.Bucket{"cities": []any{"Paris"}}, false},
		{"cities and poi", state.Bucket{"cities": []any{"Paris"}, "poi": map[string]any{"a": 1}}, true},
	}
	for _, c := range cases {
		if got := hasMinimalResearchData(c.rd); got != c.want {
			t.Errorf("%s: hasMinimalResearchData = %v, want %v", c.name, got, c.want)
		}
	}
}
