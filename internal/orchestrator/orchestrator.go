// Package orchestrator is the single entry point that turns a user request
// into a finished trip plan: it loads conversation history, builds the
// initial shared state, drives the workflow graph to completion, persists
// the turn, and shapes the envelope callers see.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"tripctl/audit"
	"tripctl/internal/agents"
	"tripctl/internal/logger"
	"tripctl/internal/memory"
	"tripctl/internal/state"
	"tripctl/internal/toolbridge"
	"tripctl/internal/workflow"
)

// Orchestrator owns the long-lived collaborators (tool bridge, memory store,
// agent registry, compiled graph) and exposes ProcessRequest as the one
// operation callers need.
type Orchestrator struct {
	bridge  *toolbridge.Bridge
	mem     *memory.Store
	reg     *agents.Registry
	graph   *workflow.Graph
	slaSecs *float64
	auditDB *audit.AuditDB
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithSLASeconds sets a soft deadline after which the research stage will
// shortcut to the response stage once minimal data is available.
func WithSLASeconds(sla float64) Option {
	return func(o *Orchestrator) { o.slaSecs = &sla }
}

// WithAudit records one audit_log row per stage transition via db, mirroring
// the original coordinator's processing_steps audit trail.
func WithAudit(db *audit.AuditDB) Option {
	return func(o *Orchestrator) { o.auditDB = db }
}

// New builds an Orchestrator wired against bridge (tool execution) and mem
// (the shared learning/memory store), registering every concrete agent into
// both the message registry and the compiled stage graph.
func New(bridge *toolbridge.Bridge, mem *memory.Store, opts ...Option) *Orchestrator {
	reg := agents.NewRegistry()
	graph := workflow.New(workflow.DefaultRecursionLimit)

	o := &Orchestrator{bridge: bridge, mem: mem, reg: reg, graph: graph}
	for _, opt := range opts {
		opt(o)
	}

	agents.Build(agents.Deps{Bridge: bridge, Memory: mem, Reg: reg}, graph)

	if o.auditDB != nil {
		graph.SetStageHook(func(ctx context.Context, stage string, s *state.State) {
			traceID, _ := ctx.Value(logger.TraceIDKey).(string)
			_ = o.auditDB.RecordStep(ctx, traceID, s.SessionID, "stage:"+stage, s.Snapshot())
		})
	}
	return o
}

// Result is the envelope ProcessRequest returns: a deliverable response plus
// enough bookkeeping for the caller to log and persist the interaction.
type Result struct {
	Status       string         `json:"status"`
	Response     map[string]any `json:"response,omitempty"`
	Error        string         `json:"error,omitempty"`
	SessionID    string         `json:"session_id"`
	AgentsUsed   []string       `json:"agents_used,omitempty"`
	LearningInsights map[string]any `json:"learning_insights,omitempty"`
	Logging      map[string]any `json:"logging"`
}

// ProcessRequest is the single entry point: given a user's free-text
// request, it resolves any prior conversation context, drives the full
// agent pipeline, and returns a deliverable response.
func (o *Orchestrator) ProcessRequest(ctx context.Context, userRequest, userID, sessionID string) Result {
	if sessionID == "" {
		sessionID = fmt.Sprintf("session_%s", time.Now().UTC().Format("20060102_150405"))
	}

	history := o.mem.GetConversationHistory(sessionID, userID, 5)
	if len(history) == 0 && userID != "anonymous" && userID != "" {
		history = o.mem.GetRecentConversations(userID, 24, 3)
	}

	turns := make([]state.ConversationTurn, len(history))
	for i, h := range history {
		turns[i] = state.ConversationTurn(h)
	}
	s := state.New(userRequest, userID, o.slaSecs, turns)
	s.SessionID = sessionID

	runErr := o.graph.Run(ctx, s)
	if runErr != nil {
		if _, ok := runErr.(*workflow.RecursionLimitError); ok {
			msg := fmt.Sprintf(
				"Processing took too many steps (hit recursion limit). Try breaking down your request into smaller parts. Original error: %s",
				runErr.Error(),
			)
			return Result{
				Status:    "error",
				Error:     msg,
				SessionID: sessionID,
				Logging: map[string]any{
					"context": map[string]any{"session_id": sessionID, "user_id": userID, "error": msg},
					"agents":  map[string]any{},
				},
			}
		}
		msg := runErr.Error()
		return Result{
			Status:    "error",
			Error:     msg,
			SessionID: sessionID,
			Logging: map[string]any{
				"context": map[string]any{"session_id": sessionID, "user_id": userID, "error": msg},
				"agents":  map[string]any{},
			},
		}
	}

	finalResponse := extractFinalResponse(s)
	status, errMsg := "success", ""
	if st, _ := finalResponse["status"].(string); st == "error" {
		status = "error"
		errMsg, _ = finalResponse["message"].(string)
	}

	turn := len(history) + 1
	o.mem.StoreConversationTurn(sessionID, userID, userRequest, finalResponse, turn)
	o.learnFromSession(userID, sessionID, userRequest, finalResponse)

	agentIDs := make([]string, 0, len(s.AgentStatuses))
	for id := range s.AgentStatuses {
		agentIDs = append(agentIDs, id)
	}

	learningInsights := map[string]any{
		"memory_consolidation": "completed",
		"preference_learning":  "active",
		"performance_tracking": "active",
	}

	logCtx := logger.NewContextLogger(ctx)
	logCtx.Info("request_processed",
		"session_id", sessionID,
		"user_id", userID,
		"elapsed_seconds", s.ElapsedSeconds(),
	)

	return Result{
		Status:           status,
		Response:         finalResponse,
		Error:            errMsg,
		SessionID:        sessionID,
		AgentsUsed:       agentIDs,
		LearningInsights: learningInsights,
		Logging: map[string]any{
			"context": o.buildLoggingContext(userID, s, finalResponse),
			"agents":  map[string]any{},
		},
	}
}

func extractFinalResponse(s *state.State) map[string]any {
	if s.FinalResponse != nil && len(s.FinalResponse) > 0 {
		return s.FinalResponse
	}
	return map[string]any{"message": "No response generated"}
}

// learnFromSession stores an episodic memory of the whole session and
// reinforces any preferences the final response surfaced, mirroring
// _learn_from_session.
func (o *Orchestrator) learnFromSession(userID, sessionID, userRequest string, response map[string]any) {
	_, _ = o.mem.Store("system", memory.TypeEpisodic, map[string]any{
		"user_id":      userID,
		"user_request": userRequest,
		"response":     response,
		"session_id":   sessionID,
	}, 0.8, []string{"session", "user_interaction", userID})

	prefs, ok := response["preferences"].(map[string]any)
	if !ok {
		return
	}
	for prefType, value := range prefs {
		o.mem.LearnUserPreference(userID, prefType, value, 0.7, sessionID)
	}
}

// buildLoggingContext assembles the structured logging envelope for a
// completed request. Each trip field (countries, cities, dates, travelers,
// preferences, budget_caps) is pulled from the first of four candidate
// sources that carries it, in priority order: the final response, the
// flattened state snapshot, the final response again, and the planning
// bucket. A field that no candidate carries gets its empty default.
func (o *Orchestrator) buildLoggingContext(userID string, s *state.State, finalResponse map[string]any) map[string]any {
	ctx := map[string]any{
		"session_id":      s.SessionID,
		"user_id":         userID,
		"is_follow_up":    s.IsFollowUp,
		"timestamp":       s.StartTime.UTC().Format(time.RFC3339Nano),
		"target_currency": pullDefault(s.PlanningData, "target_currency", "USD"),
	}

	candidates := []map[string]any{
		finalResponse,
		s.Snapshot(),
		finalResponse,
		s.PlanningData,
	}

	tripKeys := map[string]any{
		"countries":   []any{},
		"cities":      []any{},
		"dates":       map[string]any{},
		"travelers":   map[string]any{},
		"preferences": map[string]any{},
		"budget_caps": map[string]any{},
	}
	for _, src := range candidates {
		if src == nil {
			continue
		}
		for key := range tripKeys {
			if _, ok := ctx[key]; !ok {
				if v, found := src[key]; found {
					ctx[key] = v
				}
			}
		}
	}
	for key, def := range tripKeys {
		if _, ok := ctx[key]; !ok {
			ctx[key] = def
		}
	}

	return ctx
}

// pullDefault reads key from src if present, else returns def, matching the
// original's tolerant dict-lookup helper.
func pullDefault(src map[string]any, key string, def any) any {
	if src == nil {
		return def
	}
	if v, ok := src[key]; ok {
		return v
	}
	return def
}
