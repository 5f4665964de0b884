// Package gap implements single-pass gap detection and patch-based repair
// over the research bucket: which expected fields are missing given which
// research tools have already run, and how to synthesize neutral
// placeholders when the gap-filling tool itself fails.
package gap

import "strings"

// MaxItemsPerPass caps how many missing items one gap-filling attempt will
// try to resolve, preventing unbounded recursion through the workflow.
const MaxItemsPerPass = 8

// MissingItem describes one field the research stage was expected to
// populate but didn't.
type MissingItem struct {
	Path        string
	Description string
	Context     map[string]any
}

// doneTools derives which research tools have actually produced data, purely
// from what is present in researchData — this is more reliable than trusting
// the planning stage's intended tool_plan.
func doneTools(researchData map[string]any) map[string]bool {
	done := map[string]bool{}
	if v, ok := researchData["poi"]; ok && !isEmpty(v) {
		done["poi.discovery"] = true
	}
	if v, ok := researchData["restaurants"]; ok && !isEmpty(v) {
		done["restaurants.discovery"] = true
	}
	if v, ok := researchData["city_fares"]; ok && !isEmpty(v) {
		done["fares.city"] = true
	}
	if v, ok := researchData["intercity"]; ok && !isEmpty(v) {
		done["fares.intercity"] = true
	}
	if v, ok := researchData["fx"]; ok && !isEmpty(v) {
		done["fx.oracle"] = true
	}
	return done
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	default:
		return false
	}
}

func cityList(planningData map[string]any) []string {
	raw, _ := planningData["cities"].([]any)
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func byCity(researchData map[string]any, key, nestedKey string) map[string]any {
	v, ok := researchData[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if nested, ok := m[nestedKey].(map[string]any); ok {
		return nested
	}
	return m
}

// IdentifyMissingData inspects researchData/planningData for fields a
// finished research pass should have populated per city, given which tools
// actually ran (derived from the data present, not from the tool plan).
func IdentifyMissingData(researchData, planningData map[string]any) []MissingItem {
	if researchData == nil {
		researchData = map[string]any{}
	}
	if planningData == nil {
		planningData = map[string]any{}
	}
	done := doneTools(researchData)
	cities := cityList(planningData)

	var missing []MissingItem

	if done["fares.city"] {
		cityFares, _ := researchData["city_fares"].(map[string]any)
		for _, city := range cities {
			if cityFares == nil || isEmpty(cityFares[city]) {
				missing = append(missing, MissingItem{
					Path:        "city_fares[city=" + city + "]",
					Description: "missing local transit fares for " + city,
				})
			}
		}
	}

	if done["fares.intercity"] {
		if isEmpty(researchData["intercity"]) && len(cities) > 1 {
			missing = append(missing, MissingItem{
				Path:        "intercity",
				Description: "missing intercity fare legs",
			})
		}
	}

	if done["poi.discovery"] {
		pois := byCity(researchData, "poi", "poi_by_city")
		for _, city := range cities {
			if pois == nil || isEmpty(pois[city]) {
				missing = append(missing, MissingItem{
					Path:        "poi.poi_by_city[city=" + city + "]",
					Description: "missing points of interest for " + city,
				})
			}
		}
	}

	if done["restaurants.discovery"] {
		restaurants := byCity(researchData, "restaurants", "names_by_city")
		for _, city := range cities {
			if restaurants == nil || isEmpty(restaurants[city]) {
				missing = append(missing, MissingItem{
					Path:        "restaurants.names_by_city[city=" + city + "]",
					Description: "missing restaurant recommendations for " + city,
				})
			}
		}
	}

	if len(missing) > MaxItemsPerPass {
		missing = missing[:MaxItemsPerPass]
	}
	return missing
}

// synthLeafKinds is the set of substrings that mark a path as plural/listy,
// driving whether SynthesizePatches fills it with a list or a map.
var synthLeafKinds = []string{"poi", "restaurants", "fares", "items", "list", "prices"}

// SynthesizePatches builds neutral placeholder patches for items that could
// not be filled by the gap tool, so the workflow can advance instead of
// looping forever on permanently-missing data.
func SynthesizePatches(missing []MissingItem) map[string]any {
	patches := map[string]any{}
	for _, item := range missing {
		if item.Path == "" {
			continue
		}
		if isListy(item.Path) {
			patches[item.Path] = []any{}
		} else {
			patches[item.Path] = map[string]any{}
		}
	}
	return patches
}

func isListy(path string) bool {
	lower := strings.ToLower(path)
	for _, k := range synthLeafKinds {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
