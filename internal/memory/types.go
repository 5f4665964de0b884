// Package memory implements the Memory Store: four type-partitioned
// in-memory caches (episodic/semantic/procedural/working), a tag index,
// learning metrics, user preference tracking, conversation history, and a
// fingerprinted result cache — with optional MongoDB persistence and an
// optional Redis fast-path cache layered on top.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Type partitions a memory entry by its role.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
	TypeWorking    Type = "working"
)

// Entry is one stored memory, with access-tracking metadata used by
// consolidation and importance-ranked retrieval.
type Entry struct {
	ID           string
	Timestamp    time.Time
	AgentID      string
	MemoryType   Type
	Content      map[string]any
	Importance   float64
	AccessCount  int
	LastAccessed time.Time
	Tags         []string
	Associations []string
}

// Metrics tracks one (agent, task type) pair's running performance.
type Metrics struct {
	AgentID              string
	TaskType             string
	SuccessRate          float64
	AverageResponseTime  float64
	ErrorRate            float64
	TotalTasks           int
	SuccessfulTasks      int
	LastUpdated          time.Time
}

// Preference is a learned (user, preference type) -> value with a
// confidence that grows as the same value is reinforced.
type Preference struct {
	UserID          string
	PreferenceType  string
	Value           any
	Confidence      float64
	LearnedFrom     []string
	LastReinforced  time.Time
}

// ConversationTurn is one stored exchange retrievable for follow-up context.
type ConversationTurn struct {
	SessionID           string
	UserID               string
	UserRequest          string
	AgentResponse        map[string]any
	ConversationTurnNum  int
	Timestamp            time.Time
}

func newEntryID() string {
	return uuid.New().String()
}
