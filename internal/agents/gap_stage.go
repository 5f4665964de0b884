package agents

import (
	"context"

	"tripctl/internal/agentiface"
	"tripctl/internal/gap"
	"tripctl/internal/state"
)

// GapAgent fills missing research data via the gap_data tool, or synthesizes
// neutral placeholders when the tool is unavailable or fails, so the
// pipeline always keeps moving rather than looping forever on bad data.
type GapAgent struct {
	deps Deps
}

func NewGapAgent(deps Deps) *GapAgent { return &GapAgent{deps: deps} }

func (a *GapAgent) ID() string { return "gap_agent" }

func (a *GapAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return nil, nil
}

func (a *GapAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	research, _ := actx.Shared["research_data"].(state.Bucket)
	if research == nil {
		research = state.Bucket{}
	}
	planning, _ := actx.Shared["planning_data"].(state.Bucket)
	if planning == nil {
		planning = state.Bucket{}
	}

	missing := gap.IdentifyMissingData(research, planning)
	if len(missing) == 0 {
		return map[string]any{
			"status":       "success",
			"agent_id":     a.ID(),
			"message":      "No missing data identified",
			"filled_items": 0,
		}, nil
	}

	gapArgs := map[string]any{
		"message": actx.UserRequest,
		"request_snapshot": map[string]any{
			"research_data": research,
			"planning_data": planning,
		},
		"missing":               missingAsAny(missing),
		"max_queries_per_item":  2,
	}

	result := a.deps.Bridge.ExecuteTool(ctx, "gap_data", gapArgs, nil)
	if status, _ := result["status"].(string); status == "success" {
		patches := extractPatches(result)
		items := extractItems(result)
		filledData, _ := result["result"].(map[string]any)

		applied := 0
		if len(patches) > 0 {
			applied = gap.ApplyPatches(research, patches)
			actx.Shared["research_data"] = research
		}

		filledItems := len(items)
		if filledItems == 0 {
			filledItems = len(missing)
		}

		return map[string]any{
			"status":          "success",
			"agent_id":        a.ID(),
			"filled_items":    filledItems,
			"patches_applied": applied,
			"gap_data":        filledData,
		}, nil
	}

	err := errString2(result, "Unknown gap filling error")
	synthesized := gap.SynthesizePatches(missing)
	applied := 0
	if len(synthesized) > 0 {
		applied = gap.ApplyPatches(research, synthesized)
		actx.Shared["research_data"] = research
	}

	return map[string]any{
		"status":          "success",
		"agent_id":        a.ID(),
		"filled_items":    0,
		"patches_applied": applied,
		"gap_data": map[string]any{
			"items":    []any{},
			"errors":   []any{err},
			"fallback": true,
		},
	}, nil
}

func missingAsAny(items []gap.MissingItem) []any {
	out := make([]any, len(items))
	for i, m := range items {
		out[i] = map[string]any{
			"path":        m.Path,
			"description": m.Description,
			"context":     m.Context,
		}
	}
	return out
}

// extractPatches mirrors the coordinator's tolerant unwrap of the gap tool's
// response shape: result.patches, or the double-wrapped result.result.patches.
func extractPatches(resp map[string]any) map[string]any {
	res, _ := resp["result"].(map[string]any)
	if res == nil {
		return nil
	}
	if patches, ok := res["patches"].(map[string]any); ok && len(patches) > 0 {
		return patches
	}
	if inner, ok := res["result"].(map[string]any); ok {
		if patches, ok := inner["patches"].(map[string]any); ok && len(patches) > 0 {
			return patches
		}
	}
	return nil
}

func extractItems(resp map[string]any) []any {
	res, _ := resp["result"].(map[string]any)
	if res == nil {
		return nil
	}
	if items, ok := res["items"].([]any); ok {
		return items
	}
	if inner, ok := res["result"].(map[string]any); ok {
		if items, ok := inner["items"].([]any); ok {
			return items
		}
	}
	return nil
}
