// Package agentiface defines the contract every stage agent implements,
// plus the memory-enhancing wrapper that times execution, records an
// episodic memory, updates learning metrics, and extracts user
// preferences around any agent's ExecuteTask.
package agentiface

import (
	"context"
	"time"

	"tripctl/internal/memory"
	"tripctl/internal/state"
)

// Context is the per-call view an agent receives: the shared buckets it may
// read plus the ones it is allowed to write.
type Context struct {
	SessionID           string
	UserID              string
	UserRequest         string
	ConversationHistory []state.ConversationTurn
	Shared              map[string]any
	Constraints         map[string]any
	RunID               string
}

// Agent is the minimal contract every stage implements.
type Agent interface {
	ID() string
	ExecuteTask(ctx context.Context, actx *Context) (map[string]any, error)
	ReceiveMessage(msg state.Message) (*state.Message, error)
}

// MemoryEnhanced wraps an Agent so every ExecuteTask call is timed, recorded
// as an episodic memory (importance 0.7 on success, 0.9 on error), scored
// into the agent's learning metrics, and scanned for preferences to learn.
type MemoryEnhanced struct {
	Inner    Agent
	TaskType string
	Mem      *memory.Store
}

func NewMemoryEnhanced(inner Agent, taskType string, mem *memory.Store) *MemoryEnhanced {
	return &MemoryEnhanced{Inner: inner, TaskType: taskType, Mem: mem}
}

func (m *MemoryEnhanced) ID() string { return m.Inner.ID() }

func (m *MemoryEnhanced) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return m.Inner.ReceiveMessage(msg)
}

func (m *MemoryEnhanced) ExecuteTask(ctx context.Context, actx *Context) (map[string]any, error) {
	start := time.Now()
	result, err := m.Inner.ExecuteTask(ctx, actx)
	elapsed := time.Since(start).Seconds()
	success := err == nil

	importance := 0.7
	if !success {
		importance = 0.9
	}
	content := map[string]any{
		"result_keys": keysOf(result),
		"error":       errString(err),
	}
	if m.Mem != nil {
		_, _ = m.Mem.Store(m.Inner.ID(), memory.TypeEpisodic, content, importance,
			[]string{"execution", m.Inner.ID(), m.TaskType})
		m.Mem.LearnFromInteraction(m.Inner.ID(), m.TaskType, success, elapsed, map[string]any{
			"session_id": actx.SessionID,
		})
		if success {
			extractPreferences(m.Mem, actx.UserID, actx.SessionID, result)
		}
	}
	return result, err
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// extractPreferences pulls a "preferences" map out of a stage result, if
// present, and reinforces/replaces it in the learning store.
func extractPreferences(mem *memory.Store, userID, sessionID string, result map[string]any) {
	prefs, ok := result["preferences"].(map[string]any)
	if !ok {
		return
	}
	for prefType, value := range prefs {
		mem.LearnUserPreference(userID, prefType, value, 0.6, sessionID)
	}
}
