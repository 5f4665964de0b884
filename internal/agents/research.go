package agents

import (
	"context"
	"fmt"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

// ResearchAgent fans the tool plan out across the discovery tools (cities,
// POIs, restaurants, fares, currency) and deep-merges their results into the
// shared research bucket.
type ResearchAgent struct {
	deps Deps
}

func NewResearchAgent(deps Deps) *ResearchAgent { return &ResearchAgent{deps: deps} }

func (a *ResearchAgent) ID() string { return "research_agent" }

func (a *ResearchAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return nil, nil
}

func (a *ResearchAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	planningData, _ := actx.Shared["planning_data"].(state.Bucket)
	if planningData == nil {
		planningData = state.Bucket{}
	}
	toolPlan := uniqueStrings(toStringSlice(planningData["tool_plan"]))

	countries, _ := planningData["countries"].([]any)
	citiesRaw, _ := planningData["cities"].([]any)
	if len(countries) == 0 && len(citiesRaw) == 0 {
		return map[string]any{"status": "error", "error": "Invalid planning data: need 'countries' or 'cities'", "agent_id": a.ID()},
			fmt.Errorf("invalid planning data")
	}

	research := state.Bucket{}

	if len(citiesRaw) > 0 {
		research["cities"] = citiesRaw
		if len(countries) > 0 {
			if countryName := countryNameOf(countries[0]); countryName != "" {
				research["city_country_map"] = cityCountryMap(citiesRaw, countryName)
			}
		}
	} else if contains(toolPlan, "city_recommender") && len(countries) > 0 {
		cities := a.discoverCities(ctx, planningData, countries)
		if cities != nil {
			research["cities"] = cities["cities"]
			research["city_country_map"] = cities["city_country_map"]
		}
	}

	cities, _ := research["cities"].([]any)
	if len(cities) > 0 {
		if contains(toolPlan, "poi_discovery") {
			if poi := a.discoverPOIs(ctx, planningData, research); poi != nil {
				research["poi"] = state.Bucket{"poi_by_city": poi}
			}
		}
		if contains(toolPlan, "restaurants_discovery") {
			if r := a.discoverRestaurants(ctx, planningData, research); r != nil {
				research["restaurants"] = r
			}
		}
		if contains(toolPlan, "city_fare") {
			if fares := a.gatherCityFares(ctx, planningData, research); fares != nil {
				research["city_fares"] = state.Bucket{"city_fares": fares}
			}
		}
		if contains(toolPlan, "intercity_fare") {
			if hops := a.gatherIntercityFares(ctx, planningData, research); hops != nil {
				research["intercity"] = state.Bucket{"hops": hops}
			}
		}
	}

	if contains(toolPlan, "currency") {
		if fx := a.gatherCurrency(ctx, planningData); fx != nil {
			research["fx"] = fx
		}
	}

	existing, _ := actx.Shared["research_data"].(state.Bucket)
	merged := deepMergeBucket(existing, research)
	actx.Shared["research_data"] = merged

	return map[string]any{
		"status":        "success",
		"agent_id":      a.ID(),
		"research_data": merged,
	}, nil
}

func (a *ResearchAgent) discoverCities(ctx context.Context, planningData state.Bucket, countries []any) map[string]any {
	args := map[string]any{
		"countries":   normalizeCountries(countries),
		"dates":       planningData["dates"],
		"travelers":   planningData["travelers"],
		"musts":       planningData["musts"],
		"preferences": planningData["preferences"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "city_recommender", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	return res
}

func (a *ResearchAgent) discoverPOIs(ctx context.Context, planningData, research state.Bucket) map[string]any {
	cities := research["cities"]
	args := map[string]any{
		"cities":           cities,
		"city_country_map": research["city_country_map"],
		"travelers":        planningData["travelers"],
		"musts":            planningData["musts"],
		"preferences":      planningData["preferences"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "poi_discovery", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	if res == nil {
		return nil
	}
	byCity, _ := res["poi_by_city"].(map[string]any)
	return byCity
}

func (a *ResearchAgent) discoverRestaurants(ctx context.Context, planningData, research state.Bucket) map[string]any {
	cities, _ := research["cities"].([]any)
	poiBlock, _ := research["poi"].(state.Bucket)
	var poiByCity map[string]any
	if poiBlock != nil {
		poiByCity, _ = poiBlock["poi_by_city"].(map[string]any)
	}
	poisByCity := map[string]any{}
	for _, c := range cities {
		name, _ := c.(string)
		if poiByCity != nil {
			poisByCity[name] = poiByCity[name]
		} else {
			poisByCity[name] = []any{}
		}
	}
	args := map[string]any{
		"cities":       cities,
		"pois_by_city": poisByCity,
		"travelers":    planningData["travelers"],
		"musts":        planningData["musts"],
		"preferences":  planningData["preferences"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "restaurants_discovery", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	if res == nil {
		return nil
	}
	names, ok := res["names_by_city"]
	if !ok {
		return nil
	}
	return map[string]any{
		"names_by_city":   names,
		"links_by_city":   res["links_by_city"],
		"details_by_city": res["details_by_city"],
	}
}

func (a *ResearchAgent) gatherCityFares(ctx context.Context, planningData, research state.Bucket) map[string]any {
	args := map[string]any{
		"cities":           research["cities"],
		"city_country_map": research["city_country_map"],
		"preferences":      planningData["preferences"],
		"travelers":        planningData["travelers"],
		"musts":            planningData["musts"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "city_fare", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	if res == nil {
		return nil
	}
	fares, ok := res["city_fares"].(map[string]any)
	if !ok {
		return nil
	}
	return fares
}

func (a *ResearchAgent) gatherIntercityFares(ctx context.Context, planningData, research state.Bucket) []any {
	args := map[string]any{
		"cities":           research["cities"],
		"city_country_map": research["city_country_map"],
		"preferences":      planningData["preferences"],
		"travelers":        planningData["travelers"],
		"musts":            planningData["musts"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "intercity_fare", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	if res == nil {
		return nil
	}
	intercity, _ := res["intercity"].(map[string]any)
	if intercity == nil {
		return nil
	}
	hops, _ := intercity["hops"].([]any)
	return hops
}

func (a *ResearchAgent) gatherCurrency(ctx context.Context, planningData state.Bucket) map[string]any {
	target := planningData["target_currency"]
	if target == nil {
		target = "EUR"
	}
	countries, _ := planningData["countries"].([]any)
	args := map[string]any{
		"target_currency": target,
		"countries":       normalizeCountries(countries),
		"preferences":     planningData["preferences"],
	}
	result := a.deps.Bridge.ExecuteTool(ctx, "currency", args, nil)
	if status, _ := result["status"].(string); status != "success" {
		return nil
	}
	res, _ := result["result"].(map[string]any)
	if res == nil {
		return nil
	}
	fx, _ := res["fx"].(map[string]any)
	return fx
}

func normalizeCountries(countries []any) []any {
	out := make([]any, 0, len(countries))
	for _, c := range countries {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name := countryNameOf(cm)
		out = append(out, map[string]any{"country": name})
	}
	return out
}

func countryNameOf(c any) string {
	cm, ok := c.(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := cm["country"].(string); ok && v != "" {
		return v
	}
	if v, ok := cm["name"].(string); ok {
		return v
	}
	return ""
}

func cityCountryMap(cities []any, country string) map[string]any {
	out := map[string]any{}
	for _, c := range cities {
		if name, ok := c.(string); ok {
			out[name] = country
		}
	}
	return out
}

func toStringSlice(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// deepMergeBucket merges src into a copy of dst: nested buckets merge
// recursively, everything else is replaced.
func deepMergeBucket(dst, src state.Bucket) state.Bucket {
	out := state.Bucket{}
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if sub, ok := v.(state.Bucket); ok {
			if existing, ok := out[k].(state.Bucket); ok {
				out[k] = deepMergeBucket(existing, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}
