package agents

import (
	"context"
	"fmt"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

// BudgetAgent runs the 4-step cost pipeline: discoveries_costs -> city_graph
// -> optimizer -> trip_maker. It tolerates a missing or failing trip_maker
// step by returning a partial_success envelope with whatever downstream
// stages already produced.
type BudgetAgent struct {
	deps Deps
}

func NewBudgetAgent(deps Deps) *BudgetAgent { return &BudgetAgent{deps: deps} }

func (a *BudgetAgent) ID() string { return "budget_agent" }

func (a *BudgetAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return nil, nil
}

func (a *BudgetAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	research, _ := actx.Shared["research_data"].(state.Bucket)
	if research == nil {
		research = state.Bucket{}
	}
	planning, _ := actx.Shared["planning_data"].(state.Bucket)
	if planning == nil {
		planning = state.Bucket{}
	}

	cities, _ := research["cities"].([]any)
	if len(cities) == 0 {
		return a.errEnvelope("Invalid research data structure: missing cities"), fmt.Errorf("invalid research data")
	}

	poiByCity := nestedMap(research, "poi", "poi_by_city")
	restaurantsByCity := nestedMap(research, "restaurants", "names_by_city")
	cityFaresByCity := nestedMap(research, "city_fares", "city_fares")
	intercityHops := nestedSlice(research, "intercity", "hops")
	fx, _ := research["fx"].(map[string]any)

	costPayload := map[string]any{
		"request": map[string]any{
			"cities":      cities,
			"countries":   planning["countries"],
			"travelers":   planning["travelers"],
			"musts":       planning["musts"],
			"preferences": planning["preferences"],
		},
		"poi_by_city":         poiByCity,
		"restaurants_by_city":  restaurantsByCity,
		"city_fares_by_city":   cityFaresByCity,
		"intercity_by_city":    intercityHops,
		"fx":                   fx,
	}

	costResult := a.deps.Bridge.ExecuteTool(ctx, "discoveries_costs", costPayload, nil)
	if status, _ := costResult["status"].(string); status != "success" {
		return a.errEnvelope(errString2(costResult, "Unknown cost calculation error")), fmt.Errorf("discoveries_costs failed")
	}
	costData, _ := costResult["result"].(map[string]any)
	actx.Shared["budget_data"] = state.Bucket(costData)

	discovery := map[string]any{"cities": map[string]any{}}
	discoveryCities, _ := discovery["cities"].(map[string]any)
	for _, c := range cities {
		name, ok := c.(string)
		if !ok {
			continue
		}
		discoveryCities[name] = map[string]any{
			"pois":  cityPOIs(poiByCity, name),
			"fares": cityFaresByCity[name],
		}
	}

	cityGraphPayload := map[string]any{
		"request": map[string]any{
			"cities":      cities,
			"countries":   planning["countries"],
			"travelers":   planning["travelers"],
			"musts":       planning["musts"],
			"preferences": planning["preferences"],
			"discovery":   discovery,
		},
	}

	cityGraphResult := a.deps.Bridge.ExecuteTool(ctx, "city_graph", cityGraphPayload, nil)
	if status, _ := cityGraphResult["status"].(string); status != "success" {
		return a.errEnvelope(errString2(cityGraphResult, "City graph creation failed")), fmt.Errorf("city_graph failed")
	}
	geocostData := extractGeocost(cityGraphResult)
	actx.Shared["geocost_data"] = state.Bucket(geocostData)

	optimizerPayload := map[string]any{
		"request": map[string]any{
			"cities":      cities,
			"countries":   planning["countries"],
			"travelers":   planning["travelers"],
			"musts":       planning["musts"],
			"preferences": planning["preferences"],
			"geocost":     geocostData,
		},
	}

	optimizerResult := a.deps.Bridge.ExecuteTool(ctx, "optimizer", optimizerPayload, nil)
	if status, _ := optimizerResult["status"].(string); status != "success" {
		return a.errEnvelope(errString2(optimizerResult, "Optimization failed")), fmt.Errorf("optimizer failed")
	}
	optimizedData, _ := optimizerResult["result"].(map[string]any)
	actx.Shared["optimized_data"] = state.Bucket(optimizedData)

	tripMakerPayload := map[string]any{
		"request": map[string]any{
			"cities":      cities,
			"countries":   planning["countries"],
			"travelers":   planning["travelers"],
			"musts":       planning["musts"],
			"preferences": planning["preferences"],
			"dates":       planning["dates"],
			"discovery":   discovery,
			"geocost":     geocostData,
		},
	}

	tripResult := a.deps.Bridge.ExecuteTool(ctx, "trip_maker", tripMakerPayload, nil)
	if status, _ := tripResult["status"].(string); status == "success" {
		tripData, _ := tripResult["result"].(map[string]any)
		actx.Shared["trip_data"] = state.Bucket(tripData)
		return map[string]any{
			"status":         "success",
			"agent_id":       a.ID(),
			"budget_data":    state.Bucket(costData),
			"geocost_data":   state.Bucket(geocostData),
			"optimized_data": state.Bucket(optimizedData),
			"trip_data":      state.Bucket(tripData),
		}, nil
	}

	return map[string]any{
		"status":         "partial_success",
		"agent_id":       a.ID(),
		"budget_data":    state.Bucket(costData),
		"geocost_data":   state.Bucket(geocostData),
		"optimized_data": state.Bucket(optimizedData),
		"trip_error":     errString2(tripResult, "Unknown trip creation error"),
	}, nil
}

func (a *BudgetAgent) errEnvelope(msg string) map[string]any {
	return map[string]any{"status": "error", "error": msg, "agent_id": a.ID()}
}

func errString2(result map[string]any, fallback string) string {
	if e, ok := result["error"].(string); ok && e != "" {
		return e
	}
	return fallback
}

func nestedMap(bucket state.Bucket, outer, inner string) map[string]any {
	sub, ok := bucket[outer].(state.Bucket)
	if !ok {
		if subAny, ok := bucket[outer].(map[string]any); ok {
			sub = state.Bucket(subAny)
		} else {
			return map[string]any{}
		}
	}
	v, _ := sub[inner].(map[string]any)
	if v == nil {
		return map[string]any{}
	}
	return v
}

func nestedSlice(bucket state.Bucket, outer, inner string) []any {
	sub, ok := bucket[outer].(state.Bucket)
	if !ok {
		if subAny, ok := bucket[outer].(map[string]any); ok {
			sub = state.Bucket(subAny)
		} else {
			return []any{}
		}
	}
	v, _ := sub[inner].([]any)
	return v
}

// cityPOIs tolerates a bare list or a {"pois": [...]} wrapper per city.
func cityPOIs(poiByCity map[string]any, city string) []any {
	v, ok := poiByCity[city]
	if !ok {
		return []any{}
	}
	if list, ok := v.([]any); ok {
		return list
	}
	if m, ok := v.(map[string]any); ok {
		if list, ok := m["pois"].([]any); ok {
			return list
		}
	}
	return []any{}
}

func extractGeocost(cityGraphResult map[string]any) map[string]any {
	res, _ := cityGraphResult["result"].(map[string]any)
	if res == nil {
		return map[string]any{}
	}
	req, _ := res["request"].(map[string]any)
	if req == nil {
		return map[string]any{}
	}
	geocost, _ := req["geocost"].(map[string]any)
	if geocost == nil {
		return map[string]any{}
	}
	return geocost
}
