package agents

import (
	"context"
	"fmt"

	"tripctl/internal/agentiface"
	"tripctl/internal/memory"
	"tripctl/internal/state"
)

// LearningAgent is the terminal stage: it reconciles system-wide performance
// metrics and consolidates memory. It also answers performance_data messages
// delivered through the pump (the telemetry fan-out every other stage
// emits), learning from each one as it arrives.
type LearningAgent struct {
	deps Deps
}

func NewLearningAgent(deps Deps) *LearningAgent { return &LearningAgent{deps: deps} }

func (a *LearningAgent) ID() string { return "learning_agent" }

func (a *LearningAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	switch msg.MessageType {
	case "performance_data":
		return a.handlePerformanceData(msg), nil
	case "user_feedback":
		return a.handleUserFeedback(msg), nil
	case "preference_update":
		return a.handlePreferenceUpdate(msg), nil
	default:
		return nil, nil
	}
}

func (a *LearningAgent) handlePerformanceData(msg state.Message) *state.Message {
	agentID, _ := msg.Content["agent_id"].(string)
	taskType, _ := msg.Content["task_type"].(string)
	success, _ := msg.Content["success"].(bool)
	responseTime, _ := msg.Content["response_time"].(float64)
	ctxData, _ := msg.Content["context"].(map[string]any)

	a.deps.Memory.LearnFromInteraction(agentID, taskType, success, responseTime, ctxData)
	recommendations := a.analyzePerformance(agentID, taskType)

	reply := state.NewMessage(a.ID(), agentID, "learning_recommendations", map[string]any{
		"recommendations":      recommendations,
		"performance_insights": a.performanceInsights(agentID),
	})
	return &reply
}

func (a *LearningAgent) handleUserFeedback(msg state.Message) *state.Message {
	userID, _ := msg.Content["user_id"].(string)
	if userID == "" {
		userID = "anonymous"
	}
	sessionID, _ := msg.Content["session_id"].(string)
	feedbackData, _ := msg.Content["feedback_data"].(map[string]any)

	preferences := extractPreferencesFromFeedback(feedbackData)
	for prefType, prefValue := range preferences {
		a.deps.Memory.LearnUserPreference(userID, prefType, prefValue, 0.8, sessionID)
	}

	reply := state.NewMessage(a.ID(), "planning_agent", "preference_update", map[string]any{
		"user_id":     userID,
		"preferences": preferences,
	})
	return &reply
}

func (a *LearningAgent) handlePreferenceUpdate(msg state.Message) *state.Message {
	userID, _ := msg.Content["user_id"].(string)
	preferences, _ := msg.Content["preferences"].(map[string]any)
	for prefType, raw := range preferences {
		prefData, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		confidence := 0.5
		if c, ok := prefData["confidence"].(float64); ok {
			confidence = c
		}
		a.deps.Memory.LearnUserPreference(userID, prefType, prefData["value"], confidence, "")
	}
	return nil
}

func extractPreferencesFromFeedback(feedbackData map[string]any) map[string]any {
	prefs := map[string]any{}
	if v, ok := feedbackData["budget"]; ok {
		prefs["budget_preference"] = v
	}
	if v, ok := feedbackData["accommodation_type"]; ok {
		prefs["accommodation_preference"] = v
	}
	if v, ok := feedbackData["activity_preferences"]; ok {
		prefs["activity_preference"] = v
	}
	if v, ok := feedbackData["food_preferences"]; ok {
		prefs["food_preference"] = v
	}
	return prefs
}

func (a *LearningAgent) analyzePerformance(agentID, taskType string) []map[string]any {
	metrics := a.deps.Memory.GetLearningMetrics(agentID)
	metric, ok := metrics[agentID+"/"+taskType]
	if !ok {
		return nil
	}

	var recs []map[string]any
	if metric.SuccessRate < 0.7 {
		recs = append(recs, map[string]any{
			"type":       "improve_success_rate",
			"priority":   "high",
			"suggestion": "Review error patterns and improve task execution logic",
			"metric":     fmt.Sprintf("Success rate: %.2f%%", metric.SuccessRate*100),
		})
	}
	if metric.AverageResponseTime > 30.0 {
		recs = append(recs, map[string]any{
			"type":       "improve_response_time",
			"priority":   "medium",
			"suggestion": "Optimize task execution or implement caching",
			"metric":     fmt.Sprintf("Average response time: %.1fs", metric.AverageResponseTime),
		})
	}
	if metric.ErrorRate > 0.3 {
		recs = append(recs, map[string]any{
			"type":       "reduce_errors",
			"priority":   "high",
			"suggestion": "Add more error handling and validation",
			"metric":     fmt.Sprintf("Error rate: %.2f%%", metric.ErrorRate*100),
		})
	}
	return recs
}

func (a *LearningAgent) performanceInsights(agentID string) map[string]any {
	metrics := a.deps.Memory.GetLearningMetrics(agentID)
	if len(metrics) == 0 {
		return map[string]any{"message": "No performance data available"}
	}

	var successSum, responseSum float64
	breakdown := map[string]any{}
	for key, m := range metrics {
		successSum += m.SuccessRate
		responseSum += m.AverageResponseTime
		breakdown[m.TaskType] = map[string]any{
			"success_rate":          m.SuccessRate,
			"average_response_time": m.AverageResponseTime,
			"total_tasks":           m.TotalTasks,
			"error_rate":            m.ErrorRate,
		}
		_ = key
	}

	return map[string]any{
		"total_task_types":      len(metrics),
		"overall_success_rate":  successSum / float64(len(metrics)),
		"average_response_time": responseSum / float64(len(metrics)),
		"task_breakdown":        breakdown,
	}
}

func (a *LearningAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	allMetrics := a.deps.Memory.GetLearningMetrics("")
	agents := map[string]bool{}
	for key := range allMetrics {
		for i := range key {
			if key[i] == '/' {
				agents[key[:i]] = true
				break
			}
		}
	}

	systemAnalysis := map[string]any{
		"total_agents":       len(agents),
		"total_task_types":   len(allMetrics),
		"overall_performance": overallPerformance(allMetrics),
	}

	a.deps.Memory.ConsolidateMemories()

	return map[string]any{
		"status":          "success",
		"agent_id":        a.ID(),
		"system_analysis": systemAnalysis,
		"learning_insights": map[string]any{
			"memory_consolidation":   "completed",
			"preference_learning":    "active",
			"performance_tracking":   "active",
			"recommendation_engine":  "operational",
		},
	}, nil
}

func overallPerformance(metrics map[string]*memory.Metrics) map[string]any {
	if len(metrics) == 0 {
		return map[string]any{"success_rate": 0.0, "avg_response_time": 0.0, "error_rate": 0.0}
	}
	var successSum, responseSum float64
	for _, m := range metrics {
		successSum += m.SuccessRate
		responseSum += m.AverageResponseTime
	}
	n := float64(len(metrics))
	successRate := successSum / n
	return map[string]any{
		"success_rate":       successRate,
		"avg_response_time":  responseSum / n,
		"error_rate":         1.0 - successRate,
	}
}
