// Package state defines the canonical, per-request shared state the
// workflow engine drives through the agent graph.
package state

import (
	"time"

	"github.com/google/uuid"
)

// Bucket is an open-schema structured value written by exactly one stage.
// Keeping buckets as map[string]any (rather than per-bucket structs) matches
// the tool-return contract: tool results are themselves untyped maps, and
// buckets are largely assembled by merging tool results.
type Bucket = map[string]any

// AgentStatusValue is one of the lifecycle states an agent can report.
type AgentStatusValue string

const (
	StatusIdle      AgentStatusValue = "idle"
	StatusWorking   AgentStatusValue = "working"
	StatusWaiting   AgentStatusValue = "waiting"
	StatusCompleted AgentStatusValue = "completed"
	StatusError     AgentStatusValue = "error"
)

// AgentStatus tracks one agent's current lifecycle state.
type AgentStatus struct {
	AgentID      string
	Status       AgentStatusValue
	CurrentTask  string
	ErrorMessage string
	LastActivity time.Time
}

// AgentMemory is one agent's per-session record in State.AgentMemories. The
// coordinator stage creates an entry per agent with only AgentID set; no
// stage fills in the other fields.
type AgentMemory struct {
	AgentID              string
	SessionData          map[string]any
	ConversationHistory  []map[string]any
	LearnedPreferences   map[string]any
	PerformanceMetrics   map[string]any
}

// Message is one unit of inter-agent communication. Immutable once enqueued.
type Message struct {
	ID               string
	Sender           string
	Recipient        string
	MessageType      string
	Content          map[string]any
	Timestamp        time.Time
	Priority         int
	RequiresResponse bool
	ResponseTimeout  *time.Time
}

// NewMessage builds a Message with a generated id and current timestamp.
func NewMessage(sender, recipient, messageType string, content map[string]any) Message {
	return Message{
		ID:          uuid.New().String(),
		Sender:      sender,
		Recipient:   recipient,
		MessageType: messageType,
		Content:     content,
		Timestamp:   time.Now(),
		Priority:    1,
	}
}

// ConversationTurn is one stored user/agent exchange, used to seed follow-up
// requests with prior context.
type ConversationTurn struct {
	SessionID            string
	UserID               string
	UserRequest          string
	AgentResponse        map[string]any
	ConversationTurnNum  int
	Timestamp            time.Time
}

// State is the canonical, per-request mutable container the workflow engine
// drives through the stage graph. A stage may read any field and by
// convention writes only its own bucket plus routing counters/status/queue;
// nothing checks this at run time.
type State struct {
	SessionID      string
	UserID         string
	UserRequest    string
	StartTime      time.Time
	SLASeconds     *float64
	IsFollowUp     bool

	ConversationHistory []ConversationTurn

	// Data buckets, one per stage.
	PlanningData   Bucket
	ResearchData   Bucket
	BudgetData     Bucket
	TripData       Bucket
	GeocostData    Bucket
	OptimizedData  Bucket
	GapData        Bucket
	FXData         Bucket
	FinalResponse  Bucket

	ToolPlan []string

	AgentStatuses map[string]*AgentStatus
	AgentMemories map[string]*AgentMemory

	MessageQueue   []Message
	MessageHistory []Message

	ResearchRetries      int
	BudgetRetries        int
	GapFillingAttempts   int
	GapFillingCompleted  bool

	NextAgent    string
	CurrentAgent string

	ProcessingSteps []ProcessingStep

	// RunID correlates this request's stages in the audit log and telemetry.
	RunID string
}

// ProcessingStep is one append-only audit trail entry.
type ProcessingStep struct {
	Step      string
	Timestamp time.Time
	Details   map[string]any
}

// New creates a State primed with empty buckets and a fresh session id.
func New(userRequest, userID string, slaSeconds *float64, history []ConversationTurn) *State {
	return &State{
		SessionID:           uuid.New().String(),
		UserID:              userID,
		UserRequest:         userRequest,
		StartTime:           time.Now(),
		SLASeconds:          slaSeconds,
		IsFollowUp:          len(history) > 0,
		ConversationHistory: history,
		PlanningData:        Bucket{},
		ResearchData:        Bucket{},
		BudgetData:          Bucket{},
		TripData:            Bucket{},
		GeocostData:         Bucket{},
		OptimizedData:       Bucket{},
		GapData:             Bucket{},
		FXData:              Bucket{},
		FinalResponse:       Bucket{},
		ToolPlan:            []string{},
		AgentStatuses:       map[string]*AgentStatus{},
		AgentMemories:       map[string]*AgentMemory{},
		MessageQueue:        []Message{},
		MessageHistory:      []Message{},
		CurrentAgent:        "planning_agent",
		ProcessingSteps:     []ProcessingStep{},
		RunID:               uuid.New().String(),
	}
}

// ElapsedSeconds reports wall-clock time since the request started.
func (s *State) ElapsedSeconds() float64 {
	return time.Since(s.StartTime).Seconds()
}

// SetStatus records an agent's lifecycle transition.
func (s *State) SetStatus(agentID string, status AgentStatusValue, task string) {
	s.AgentStatuses[agentID] = &AgentStatus{
		AgentID:      agentID,
		Status:       status,
		CurrentTask:  task,
		LastActivity: time.Now(),
	}
}

// SetError marks an agent as failed with an explanatory message.
func (s *State) SetError(agentID, msg string) {
	s.AgentStatuses[agentID] = &AgentStatus{
		AgentID:      agentID,
		Status:       StatusError,
		ErrorMessage: msg,
		LastActivity: time.Now(),
	}
}

// Snapshot flattens planning/research/budget buckets into one map for gap
// detection, mirroring the original coordinator's "check anywhere the key
// might live" behavior: bucket-scoped keys take priority over flattened
// duplicates from other buckets.
func (s *State) Snapshot() map[string]any {
	snap := map[string]any{
		"planning_data": s.PlanningData,
		"research_data": s.ResearchData,
		"budget_data":   s.BudgetData,
	}
	for _, bucket := range []Bucket{s.PlanningData, s.ResearchData, s.BudgetData} {
		for k, v := range bucket {
			if _, exists := snap[k]; !exists {
				snap[k] = v
			}
		}
	}
	return snap
}

// AppendStep adds one audit-trail entry.
func (s *State) AppendStep(step string, details map[string]any) {
	s.ProcessingSteps = append(s.ProcessingSteps, ProcessingStep{
		Step:      step,
		Timestamp: time.Now(),
		Details:   details,
	})
}
