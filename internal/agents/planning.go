package agents

import (
	"context"
	"fmt"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

// interpreterToLegacy maps the interpreter tool's 6 canonical tool names to
// the legacy ids the rest of the pipeline expects.
var interpreterToLegacy = map[string]string{
	"cities.recommender":    "city_recommender",
	"poi.discovery":         "poi_discovery",
	"restaurants.discovery": "restaurants_discovery",
	"fares.city":            "city_fare",
	"fares.intercity":       "intercity_fare",
	"fx.oracle":             "currency",
}

// PlanningAgent interprets the raw user request into a structured plan
// (countries, cities, travelers, constraints) and a tool execution plan.
type PlanningAgent struct {
	deps Deps
}

func NewPlanningAgent(deps Deps) *PlanningAgent { return &PlanningAgent{deps: deps} }

func (a *PlanningAgent) ID() string { return "planning_agent" }

func (a *PlanningAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return nil, nil
}

func (a *PlanningAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	result := a.deps.Bridge.ExecuteTool(ctx, "interpreter", map[string]any{"user_request": actx.UserRequest}, nil)
	if status, _ := result["status"].(string); status == "error" {
		return map[string]any{"status": "error", "error": result["error"], "agent_id": a.ID()}, fmt.Errorf("interpreter: %v", result["error"])
	}

	planData, _ := result["result"].(map[string]any)
	if planData == nil {
		planData = map[string]any{"intent": "unknown"}
	}

	if cities, ok := planData["cities"].([]any); !ok || len(cities) == 0 {
		planData["cities"] = flattenCitiesFromCountries(planData["countries"])
	}

	legacyPlan := mapInterpreterToolsToLegacy(planData["tool_plan"])
	if len(legacyPlan) == 0 {
		legacyPlan = fallbackToolPlan(planData)
	}
	planData["tool_plan"] = toAnySlice(legacyPlan)

	actx.Shared["planning_data"] = state.Bucket(planData)
	actx.Shared["tool_plan"] = legacyPlan

	return map[string]any{
		"status":        "success",
		"agent_id":      a.ID(),
		"planning_data": state.Bucket(planData),
		"tool_plan":     legacyPlan,
	}, nil
}

func flattenCitiesFromCountries(raw any) []any {
	countries, _ := raw.([]any)
	var flat []any
	seen := map[string]bool{}
	for _, c := range countries {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		cities, _ := cm["cities"].([]any)
		for _, city := range cities {
			name, ok := city.(string)
			if !ok || name == "" || seen[name] {
				continue
			}
			seen[name] = true
			flat = append(flat, name)
		}
	}
	return flat
}

func mapInterpreterToolsToLegacy(raw any) []string {
	tools, _ := raw.([]any)
	var out []string
	seen := map[string]bool{}
	for _, t := range tools {
		name, ok := t.(string)
		if !ok {
			continue
		}
		mapped, ok := interpreterToLegacy[name]
		if !ok || seen[mapped] {
			continue
		}
		seen[mapped] = true
		out = append(out, mapped)
	}
	return out
}

// fallbackToolPlan mirrors _create_tool_plan: used only when the
// interpreter itself didn't choose tools.
func fallbackToolPlan(planData map[string]any) []string {
	var plan []string
	if countries, _ := planData["countries"].([]any); len(countries) > 0 {
		plan = append(plan, "city_recommender")
	}
	if cities, _ := planData["cities"].([]any); len(cities) > 0 {
		plan = append(plan, "poi_discovery", "restaurants_discovery", "city_fare", "intercity_fare")
	}
	if planData["target_currency"] != nil {
		plan = append(plan, "currency")
	} else if countries, _ := planData["countries"].([]any); len(countries) > 0 {
		plan = append(plan, "currency")
	}
	plan = append(plan, "discoveries_costs", "optimizer", "trip_maker", "writer_report")
	return plan
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
