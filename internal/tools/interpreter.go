// Package tools holds the default tool callables registered against the
// toolbridge.Bridge at startup. Every concrete domain tool (city discovery,
// fares, optimizer, trip maker, gap filling) is an external collaborator the
// bridge dials by name and is not implemented here; the interpreter is the
// one tool this repo ships a real implementation of, since planning_agent
// cannot run at all without it.
package tools

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tripctl/internal/toolbridge"
)

// allowedTools is the fixed inventory the interpreter may select from; any
// tool name outside this set returned by the model is dropped.
var allowedTools = []string{
	"cities.recommender", "fx.oracle", "fares.city", "fares.intercity",
	"poi.discovery", "restaurants.discovery",
}

var toolGuide = map[string]any{
	"cities.recommender":    map[string]any{"what": "Suggest cities to visit given country/season/themes.", "needs": []string{}, "provides": []string{"cities", "city_country_map"}},
	"fx.oracle":             map[string]any{"what": "Infer native currencies and USD spot rates, builds target multipliers.", "needs": []string{"target_currency"}, "provides": []string{"fx"}},
	"fares.city":            map[string]any{"what": "Local transit and taxi fares per city.", "needs": []string{"cities"}, "provides": []string{"city_fares"}},
	"fares.intercity":       map[string]any{"what": "Durations/prices for intercity travel.", "needs": []string{"cities"}, "provides": []string{"intercity"}},
	"poi.discovery":         map[string]any{"what": "Attractions and points of interest in a city.", "needs": []string{"cities"}, "provides": []string{"pois"}},
	"restaurants.discovery": map[string]any{"what": "Restaurants near POIs or city centers.", "needs": []string{"cities"}, "provides": []string{"restaurants"}},
}

const interpreterSystemPrompt = "You are a strict JSON information extractor and travel-intent classifier. " +
	"You must only choose tools from the provided inventory. Output ONLY JSON. No prose."

// NewInterpreterTool returns a ToolFunc that turns a free-text user_request
// into the structured interpretation the rest of the pipeline expects
// (intent, countries, musts, preferences, budget_caps, target_currency,
// tool_plan). When client is nil or the call fails it falls back to a
// deterministic keyword heuristic so planning can still proceed offline.
func NewInterpreterTool(client *openai.Client, model string) toolbridge.ToolFunc {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		message, _ := args["user_request"].(string)

		if client == nil {
			return success(heuristicFallback(message, "missing OPENAI_API_KEY; heuristic fallback")), nil
		}

		interp, err := interpretWithLLM(ctx, client, model, message)
		if err != nil {
			return success(heuristicFallback(message, "openai call failed: "+err.Error())), nil
		}
		return success(interp), nil
	}
}

func success(result map[string]any) map[string]any {
	return map[string]any{"status": "success", "result": result}
}

func interpretWithLLM(ctx context.Context, client *openai.Client, model, message string) (map[string]any, error) {
	guide, _ := json.MarshalIndent(toolGuide, "", "  ")
	allowed, _ := json.Marshal(allowedTools)

	prompt := strings.Join([]string{
		"Interpret the user's travel message. Extract normalized fields and classify intent.",
		"Rules: ISO dates only; if only a relative duration or season is given, leave dates empty and set",
		"preferences.duration_days or preferences.duration_hint instead. Travelers default to 1 adult, 0 children.",
		"Do not fabricate cities or dates. target_currency defaults to EUR unless stated otherwise.",
		"Select a minimal ordered tool_plan using ONLY these tools: " + string(allowed),
		"Respond with STRICT JSON: {\"intent\":\"...\",\"countries\":[{\"country\":\"...\",\"cities\":[\"...\"]}],",
		"\"dates\":{},\"travelers\":{\"adults\":1,\"children\":0},\"musts\":[],\"preferences\":{},",
		"\"budget_caps\":{},\"target_currency\":\"EUR\",\"requires\":[],\"tool_plan\":[],\"notes\":[]}",
		"Tool inventory:",
		string(guide),
		"User message:",
		message,
	}, "\n")

	callCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, err := client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: interpreterSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errEmptyChoices
	}

	data := salvageJSON(resp.Choices[0].Message.Content)
	normalizeInterpretation(data)
	filterToolPlan(data)
	ensureFXTool(data)
	applyRequiresGuardrails(data)
	enrichFromText(message, data)
	return data, nil
}

var errEmptyChoices = errToolErr("openai: empty choices")

type errToolErr string

func (e errToolErr) Error() string { return string(e) }

func salvageJSON(text string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out
	}
	if m := jsonObjectPattern.FindString(text); m != "" {
		var fallback map[string]any
		if err := json.Unmarshal([]byte(m), &fallback); err == nil {
			return fallback
		}
	}
	return map[string]any{}
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func normalizeInterpretation(data map[string]any) {
	if data["intent"] == nil {
		data["intent"] = "unknown"
	}
	if _, ok := data["budget_caps"].(map[string]any); !ok {
		if s, ok := data["budget_caps"].(string); ok {
			if s == "USD" || s == "EUR" || s == "GBP" || s == "JPY" {
				if _, hasCur := data["target_currency"]; !hasCur {
					data["target_currency"] = s
				}
			}
		}
		data["budget_caps"] = map[string]any{}
	}
	if _, ok := data["preferences"].(map[string]any); !ok {
		data["preferences"] = map[string]any{}
	}
	if data["target_currency"] == nil || data["target_currency"] == "" {
		data["target_currency"] = "EUR"
	}
	if _, ok := data["countries"].([]any); !ok {
		data["countries"] = []any{}
	}
	if _, ok := data["musts"].([]any); !ok {
		data["musts"] = []any{}
	}
	if _, ok := data["notes"].([]any); !ok {
		data["notes"] = []any{}
	}

	intentFixups := map[string]string{
		"fares.city": "city_fares", "fares.intercity": "intercity_fares",
		"poi.discovery": "poi_lookup", "restaurants.discovery": "restaurants_nearby",
		"cities.recommender": "recommend_cities",
	}
	if intent, ok := data["intent"].(string); ok {
		if mapped, ok := intentFixups[intent]; ok {
			data["intent"] = mapped
		}
	}
}

func filterToolPlan(data map[string]any) {
	raw, _ := data["tool_plan"].([]any)
	allowedSet := map[string]bool{}
	for _, t := range allowedTools {
		allowedSet[t] = true
	}
	seen := map[string]bool{}
	filtered := make([]any, 0, len(raw))
	for _, v := range raw {
		name, ok := v.(string)
		if !ok || !allowedSet[name] || seen[name] {
			continue
		}
		seen[name] = true
		filtered = append(filtered, name)
	}
	data["tool_plan"] = filtered
}

func needsFX(data map[string]any) bool {
	currency, _ := data["target_currency"].(string)
	if strings.ToUpper(currency) != "" && strings.ToUpper(currency) != "EUR" {
		return true
	}
	caps, _ := data["budget_caps"].(map[string]any)
	return len(caps) > 0
}

func ensureFXTool(data map[string]any) {
	if !needsFX(data) {
		return
	}
	plan, _ := data["tool_plan"].([]any)
	for _, v := range plan {
		if v == "fx.oracle" {
			return
		}
	}
	insertAfter := []string{"fares.city", "fares.intercity", "poi.discovery", "restaurants.discovery"}
	idx := -1
	for _, name := range insertAfter {
		for i, v := range plan {
			if v == name && i > idx {
				idx = i
			}
		}
	}
	if idx >= 0 {
		out := make([]any, 0, len(plan)+1)
		out = append(out, plan[:idx+1]...)
		out = append(out, "fx.oracle")
		out = append(out, plan[idx+1:]...)
		data["tool_plan"] = out
	} else {
		data["tool_plan"] = append(plan, "fx.oracle")
	}
}

func applyRequiresGuardrails(data map[string]any) {
	plan, _ := data["tool_plan"].([]any)
	countries, _ := data["countries"].([]any)
	preferences, _ := data["preferences"].(map[string]any)
	dates, _ := data["dates"].(map[string]any)

	needsCities := false
	for _, v := range plan {
		if v == "fares.city" || v == "poi.discovery" || v == "restaurants.discovery" {
			needsCities = true
		}
	}

	reqs := map[string]bool{}
	if raw, ok := data["requires"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				reqs[s] = true
			}
		}
	}

	if needsCities && len(countries) == 0 {
		reqs["cities_or_country"] = true
	}

	hasIntercity := false
	for _, v := range plan {
		if v == "fares.intercity" {
			hasIntercity = true
		}
	}
	if hasIntercity {
		total := 0
		for _, c := range countries {
			if cm, ok := c.(map[string]any); ok {
				if cities, ok := cm["cities"].([]any); ok {
					total += len(cities)
				}
			}
		}
		if total < 2 {
			reqs["two_cities"] = true
		}
	}

	hasExactDates := dates["start"] != nil && dates["end"] != nil
	_, hasDurDays := preferences["duration_days"]
	_, hasDurHint := preferences["duration_hint"]
	_, hasDateHint := preferences["date_hint"]
	hasDuration := hasDurDays || hasDurHint || hasDateHint

	intent, _ := data["intent"].(string)
	if (intent == "plan_trip" || intent == "intercity_fares") && !hasExactDates && !hasDuration {
		reqs["dates"] = true
	}

	out := make([]any, 0, len(reqs))
	for k := range reqs {
		out = append(out, k)
	}
	data["requires"] = out
}

var durationPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(day|days)\b`)
var weekPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(week|weeks)\b`)

func enrichFromText(message string, data map[string]any) {
	preferences, _ := data["preferences"].(map[string]any)
	if preferences == nil {
		preferences = map[string]any{}
		data["preferences"] = preferences
	}
	lower := strings.ToLower(message)

	setDefault := func(key string, val any) {
		if _, ok := preferences[key]; !ok {
			preferences[key] = val
		}
	}

	switch {
	case strings.Contains(lower, "luxury") || strings.Contains(lower, "5-star") || strings.Contains(lower, "splurge"):
		setDefault("budget_tier", "luxury")
	case strings.Contains(lower, "mid-range") || strings.Contains(lower, "moderate") || strings.Contains(lower, "mid"):
		setDefault("budget_tier", "mid")
	case strings.Contains(lower, "cheap") || strings.Contains(lower, "affordable") || strings.Contains(lower, "budget"):
		setDefault("price_tier", "budget")
	}

	if strings.Contains(lower, "weekend") {
		setDefault("date_hint", "weekend")
	}
	if strings.Contains(lower, "kid") || strings.Contains(lower, "family") || strings.Contains(lower, "children") {
		setDefault("kid_friendly", true)
	}

	if m := weekPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			setDefault("duration_days", n*7)
		}
	} else if m := durationPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			setDefault("duration_days", n)
		}
	}
}

var minimalToolPlans = map[string][]string{
	"plan_trip":           {"cities.recommender", "poi.discovery", "fares.city", "restaurants.discovery"},
	"recommend_cities":    {"cities.recommender"},
	"poi_lookup":          {"poi.discovery"},
	"restaurants_nearby":  {"restaurants.discovery"},
	"city_fares":          {"fares.city"},
	"intercity_fares":     {"fares.intercity"},
	"itinerary_edit":      {"poi.discovery"},
	"general_question":    {},
	"unknown":             {},
}

// heuristicFallback produces a best-effort interpretation purely from
// keyword matching, used when no OpenAI client is configured or the LLM
// call failed.
func heuristicFallback(message, note string) map[string]any {
	lower := strings.ToLower(message)
	intent := "unknown"
	switch {
	case strings.Contains(lower, "trip") || strings.Contains(lower, "itinerary") || strings.Contains(lower, "plan") || strings.Contains(lower, "days") || strings.Contains(lower, "nights"):
		intent = "plan_trip"
	case strings.Contains(lower, "restaurant") || strings.Contains(lower, "eat"):
		intent = "restaurants_nearby"
	case strings.Contains(lower, "taxi") || strings.Contains(lower, "metro") || strings.Contains(lower, "fare"):
		intent = "city_fares"
	case strings.Contains(lower, " from ") && strings.Contains(lower, " to "):
		intent = "intercity_fares"
	}

	plan := minimalToolPlans[intent]
	planAny := make([]any, len(plan))
	for i, p := range plan {
		planAny[i] = p
	}

	data := map[string]any{
		"intent":          intent,
		"countries":       []any{},
		"dates":           map[string]any{},
		"travelers":       map[string]any{"adults": 1, "children": 0},
		"musts":           []any{},
		"preferences":     map[string]any{},
		"budget_caps":     map[string]any{},
		"target_currency": "EUR",
		"requires":        []any{"llm_interpretation"},
		"tool_plan":       planAny,
		"notes":           []any{note},
	}

	enrichFromText(message, data)
	ensureFXTool(data)
	applyRequiresGuardrails(data)
	return data
}

// envOrDefault reads an environment variable, returning def when unset.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// BuildInterpreterFromEnv constructs the interpreter tool callable, wiring a
// real OpenAI client when OPENAI_API_KEY is set (honoring an optional
// OPENAI_BASE_URL override and OPENAI_MODEL choice) and falling back to the
// deterministic heuristic path otherwise.
func BuildInterpreterFromEnv() toolbridge.ToolFunc {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return NewInterpreterTool(nil, "")
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	client := openai.NewClientWithConfig(cfg)
	return NewInterpreterTool(client, envOrDefault("OPENAI_MODEL", "gpt-4o-mini"))
}
