package memory

import (
	"testing"
	"time"
)

func TestStoreAndRetrieveFiltersByAgentTypeAndTags(t *testing.T) {
	s := New()
	s.Store("planning_agent", TypeEpisodic, map[string]any{"a": 1}, 0.9, []string{"x"})
	s.Store("research_agent", TypeEpisodic, map[string]any{"a": 2}, 0.5, []string{"y"})
	s.Store("planning_agent", TypeSemantic, map[string]any{"a": 3}, 0.9, []string{"x"})

	got := s.Retrieve("planning_agent", TypeEpisodic, []string{"x"}, 10)
	if len(got) != 1 {
		t.Fatalf("Retrieve = %d entries, want 1", len(got))
	}
	if got[0].Content["a"] != 1 {
		t.Errorf("Content[a] = %v, want 1", got[0].Content["a"])
	}
}

func TestRetrieveOrdersByImportanceThenRecency(t *testing.T) {
	s := New()
	s.Store("a", TypeEpisodic, map[string]any{"v": "low"}, 0.2, nil)
	s.Store("a", TypeEpisodic, map[string]any{"v": "high"}, 0.9, nil)

	got := s.Retrieve("a", TypeEpisodic, nil, 10)
	if len(got) != 2 {
		t.Fatalf("Retrieve = %d entries, want 2", len(got))
	}
	if got[0].Content["v"] != "high" {
		t.Errorf("first entry = %v, want high importance first", got[0].Content["v"])
	}
}

func TestRetrieveMarksAccessCount(t *testing.T) {
	s := New()
	s.Store("a", TypeEpisodic, map[string]any{}, 0.5, nil)
	entries := s.Retrieve("a", TypeEpisodic, nil, 10)
	if entries[0].AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", entries[0].AccessCount)
	}
}

func TestLearnFromInteractionComputesRunningRates(t *testing.T) {
	s := New()
	s.LearnFromInteraction("planning_agent", "interpret", true, 1.0, nil)
	s.LearnFromInteraction("planning_agent", "interpret", false, 3.0, nil)

	metrics := s.GetLearningMetrics("planning_agent")
	m := metrics["planning_agent/interpret"]
	if m == nil {
		t.Fatal("expected metrics for planning_agent/interpret")
	}
	if m.TotalTasks != 2 {
		t.Errorf("TotalTasks = %d, want 2", m.TotalTasks)
	}
	if m.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", m.SuccessRate)
	}
	if m.AverageResponseTime != 2.0 {
		t.Errorf("AverageResponseTime = %v, want 2.0", m.AverageResponseTime)
	}
}

func TestGetLearningMetricsFiltersByAgent(t *testing.T) {
	s := New()
	s.LearnFromInteraction("a", "x", true, 1.0, nil)
	s.LearnFromInteraction("b", "y", true, 1.0, nil)

	got := s.GetLearningMetrics("a")
	if len(got) != 1 {
		t.Fatalf("GetLearningMetrics(a) = %d entries, want 1", len(got))
	}
}

func TestLearnUserPreferenceReinforcesSameValue(t *testing.T) {
	s := New()
	s.LearnUserPreference("user-1", "budget_tier", "luxury", 0.6, "s1")
	s.LearnUserPreference("user-1", "budget_tier", "luxury", 0.6, "s2")

	prefs := s.GetUserPreferences("user-1")
	p := prefs["budget_tier"].(map[string]any)
	if p["confidence"].(float64) <= 0.6 {
		t.Errorf("confidence = %v, want increased above 0.6 after reinforcement", p["confidence"])
	}
}

func TestLearnUserPreferenceReplacesDifferentValue(t *testing.T) {
	s := New()
	s.LearnUserPreference("user-1", "budget_tier", "luxury", 0.9, "s1")
	s.LearnUserPreference("user-1", "budget_tier", "budget", 0.4, "s2")

	prefs := s.GetUserPreferences("user-1")
	p := prefs["budget_tier"].(map[string]any)
	if p["value"] != "budget" {
		t.Errorf("value = %v, want budget (replaced)", p["value"])
	}
	if p["confidence"] != 0.4 {
		t.Errorf("confidence = %v, want 0.4 (replaced, not reinforced)", p["confidence"])
	}
}

func TestLearnUserPreferenceConfidenceCapsAtOne(t *testing.T) {
	s := New()
	for i := 0; i < 20; i++ {
		s.LearnUserPreference("user-1", "pace", "relaxed", 0.5, "")
	}
	prefs := s.GetUserPreferences("user-1")
	p := prefs["pace"].(map[string]any)
	if p["confidence"].(float64) > 1.0 {
		t.Errorf("confidence = %v, want capped at 1.0", p["confidence"])
	}
}

func TestMakeFingerprintIsStableAndCaseInsensitive(t *testing.T) {
	a := MakeFingerprint("User-1", "Plan", " Paris trip ")
	b := MakeFingerprint("user-1", "plan", "paris trip")
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	c := MakeFingerprint("user-1", "plan", "rome trip")
	if a == c {
		t.Error("expected different requests to produce different fingerprints")
	}
}

func TestSaveAndLoadCachedResultDeepCopiesAcrossCalls(t *testing.T) {
	s := New()
	original := map[string]any{"cities": []any{"Paris"}}
	s.SaveCachedResult("planning_agent", "user-1", "plan", "paris trip", original)

	original["cities"].([]any)[0] = "mutated"

	loaded := s.LoadCachedResult("user-1", "plan", "paris trip", time.Hour)
	if loaded == nil {
		t.Fatal("expected a cached result")
	}
	cities := loaded["cities"].([]any)
	if cities[0] != "Paris" {
		t.Errorf("cities[0] = %v, want Paris (should not reflect the caller's mutation)", cities[0])
	}
}

func TestLoadCachedResultHonoursMaxAge(t *testing.T) {
	s := New()
	s.SaveCachedResult("planning_agent", "user-1", "plan", "paris trip", map[string]any{"a": 1})

	if got := s.LoadCachedResult("user-1", "plan", "paris trip", -time.Hour); got != nil {
		t.Errorf("expected no cached result once maxAge has already elapsed, got %v", got)
	}
}

func TestLoadCachedResultReturnsNilWhenAbsent(t *testing.T) {
	s := New()
	if got := s.LoadCachedResult("user-1", "plan", "never cached", time.Hour); got != nil {
		t.Errorf("expected nil for an uncached request, got %v", got)
	}
}

func TestStoreConversationTurnAndGetConversationHistory(t *testing.T) {
	s := New()
	s.StoreConversationTurn("session-1", "user-1", "plan a trip", map[string]any{"status": "success"}, 1)
	s.StoreConversationTurn("session-1", "user-1", "now add a day", map[string]any{"status": "success"}, 2)

	history := s.GetConversationHistory("session-1", "user-1", 10)
	if len(history) != 2 {
		t.Fatalf("GetConversationHistory = %d entries, want 2", len(history))
	}
}

func TestGetConversationHistoryFiltersBySession(t *testing.T) {
	s := New()
	s.StoreConversationTurn("session-1", "user-1", "plan a trip", nil, 1)
	s.StoreConversationTurn("session-2", "user-1", "plan another trip", nil, 1)

	history := s.GetConversationHistory("session-1", "user-1", 10)
	if len(history) != 1 {
		t.Fatalf("GetConversationHistory = %d entries, want 1", len(history))
	}
	if history[0].SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", history[0].SessionID)
	}
}

func TestGetRecentConversationsRespectsHoursBack(t *testing.T) {
	s := New()
	s.StoreConversationTurn("session-1", "user-1", "plan a trip", nil, 1)

	recent := s.GetRecentConversations("user-1", 24, 5)
	if len(recent) != 1 {
		t.Fatalf("GetRecentConversations = %d entries, want 1", len(recent))
	}
}

func TestConsolidateMemoriesPromotesImportantFrequentlyAccessedWorkingMemory(t *testing.T) {
	s := New()
	id, _ := s.Store("a", TypeWorking, map[string]any{}, 0.9, nil)
	for i := 0; i < 6; i++ {
		s.Retrieve("a", TypeWorking, nil, 10)
	}
	_ = id

	s.ConsolidateMemories()

	s.mu.Lock()
	_, stillWorking := s.working[id]
	_, nowEpisodic := s.episodic[id]
	s.mu.Unlock()

	if stillWorking {
		t.Error("expected promoted entry to be removed from working memory")
	}
	if !nowEpisodic {
		t.Error("expected promoted entry to land in episodic memory")
	}
}

func TestConsolidateMemoriesDropsStaleWorkingMemory(t *testing.T) {
	s := New()
	id, _ := s.Store("a", TypeWorking, map[string]any{}, 0.1, nil)
	s.mu.Lock()
	s.working[id].Timestamp = time.Now().Add(-48 * time.Hour)
	s.mu.Unlock()

	s.ConsolidateMemories()

	s.mu.Lock()
	_, exists := s.working[id]
	s.mu.Unlock()
	if exists {
		t.Error("expected stale working memory to be dropped")
	}
}
