package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tripctl/internal/agentiface"
	"tripctl/internal/state"
)

// ResponseAgent synthesizes every upstream bucket into the final
// human-readable answer, optionally narrated by an LLM and otherwise
// rendered from a deterministic fallback template.
type ResponseAgent struct {
	deps   Deps
	client *openai.Client
}

// NewResponseAgent builds a client from OPENAI_API_KEY when present; a nil
// client means every call falls back to the deterministic template.
func NewResponseAgent(deps Deps) *ResponseAgent {
	a := &ResponseAgent{deps: deps}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg := openai.DefaultConfig(key)
		a.client = openai.NewClientWithConfig(cfg)
	}
	return a
}

func (a *ResponseAgent) ID() string { return "response_agent" }

func (a *ResponseAgent) ReceiveMessage(msg state.Message) (*state.Message, error) {
	return nil, nil
}

func (a *ResponseAgent) ExecuteTask(ctx context.Context, actx *agentiface.Context) (map[string]any, error) {
	planning := bucketOr(actx.Shared["planning_data"])
	research := bucketOr(actx.Shared["research_data"])
	budget := bucketOr(actx.Shared["budget_data"])
	trip := bucketOr(actx.Shared["trip_data"])

	summary := a.prepareSummary(planning, research, trip)

	var response map[string]any
	if a.client != nil {
		response = a.generateAIResponse(ctx, actx.UserRequest, summary, planning, research, budget, trip)
	} else {
		response = a.fallbackResponse(planning, research)
	}

	actx.Shared["final_response"] = state.Bucket(response)

	return map[string]any{
		"status":    "success",
		"agent_id":  a.ID(),
		"response":  response,
		"trip_data": trip,
	}, nil
}

func bucketOr(v any) state.Bucket {
	if b, ok := v.(state.Bucket); ok && b != nil {
		return b
	}
	return state.Bucket{}
}

func (a *ResponseAgent) prepareSummary(planning, research, trip state.Bucket) map[string]any {
	cities := a.normalizeCities(research, planning)
	preferences, _ := planning["preferences"].(map[string]any)
	duration := 0
	if preferences != nil {
		if d, ok := preferences["duration_days"].(float64); ok {
			duration = int(d)
		}
	}
	budgetCaps, _ := planning["budget_caps"].(map[string]any)
	totalBudget := 0.0
	if budgetCaps != nil {
		if t, ok := budgetCaps["total"].(float64); ok {
			totalBudget = t
		}
	}
	currency, _ := planning["target_currency"].(string)
	if currency == "" {
		currency = "EUR"
	}

	return map[string]any{
		"cities":          cities,
		"duration":        duration,
		"budget":          totalBudget,
		"currency":        currency,
		"musts":           planning["musts"],
		"preferences":     preferences,
		"pois":            nestedMap(research, "poi", "poi_by_city"),
		"restaurants":     nestedMap(research, "restaurants", "names_by_city"),
		"city_fares":      nestedMap(research, "city_fares", "city_fares"),
		"intercity_fares": nestedSlice(research, "intercity", "hops"),
		"trip_itinerary":  trip,
	}
}

func (a *ResponseAgent) normalizeCities(research, planning state.Bucket) []any {
	if cities, ok := research["cities"].([]any); ok && len(cities) > 0 {
		return cities
	}
	if geocost, ok := research["geocost"].(map[string]any); ok && len(geocost) > 0 {
		out := make([]any, 0, len(geocost))
		for k := range geocost {
			out = append(out, k)
		}
		return out
	}
	return []any{}
}

func (a *ResponseAgent) generateAIResponse(ctx context.Context, userRequest string, summary map[string]any, planning, research, budget, trip state.Bucket) map[string]any {
	packet := map[string]any{
		"meta": map[string]any{
			"user_request": userRequest,
			"note":         "Use only data present in this packet. Omit anything not present.",
		},
		"normalized_summary": summary,
		"raw": map[string]any{
			"planning_data": planning,
			"research_data": research,
			"budget_data":   budget,
			"trip_data":     trip,
		},
	}
	packetJSON, err := json.MarshalIndent(packet, "", "  ")
	if err != nil {
		return a.fallbackResponse(planning, research)
	}

	prompt, maxTokens := a.buildPrompt(userRequest, summary, string(packetJSON))

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You are a careful travel assistant. Use ONLY the facts present in the DATA PACKET. " +
					"Do NOT invent attractions, prices, dates, or names. If a fact is not present, omit it.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	})
	if err != nil || len(resp.Choices) == 0 {
		return a.fallbackResponse(planning, research)
	}

	return map[string]any{
		"status":        "success",
		"tier":          tierOf(summary),
		"response_text": resp.Choices[0].Message.Content,
		"summary":       responseSummary(summary),
		"trip_data":     summary["trip_itinerary"],
		"preferences":   summary["preferences"],
	}
}

func (a *ResponseAgent) buildPrompt(userRequest string, summary map[string]any, packetJSON string) (string, int) {
	lower := strings.ToLower(userRequest)
	isSimple := containsAny(lower, "fare", "price", "cost", "how much", "restaurant", "poi", "attraction", "what is", "tell me about")
	isComplex := containsAny(lower, "plan", "itinerary", "trip", "travel", "visit", "vacation", "holiday", "journey", "tour", "explore", "discover", "schedule", "days")

	style := "BALANCED"
	maxTokens := 1000
	switch {
	case isSimple && !isComplex:
		style = "CONCISE"
		maxTokens = 500
	case isComplex:
		style = "COMPREHENSIVE"
		maxTokens = 2000
	}

	prompt := fmt.Sprintf(`You must answer using ONLY facts from the DATA PACKET below. If a detail is not present, omit it. Never invent names, prices, or times.

REQUEST:
%s

RESPONSE STYLE: %s
- If CONCISE: 2-3 sentences max, direct answer only.
- If BALANCED: 1-2 short paragraphs, highlights only.
- If COMPREHENSIVE: multi-paragraph narration with day-by-day flow, weaving in POIs, restaurants, fares, and costs when present.

SUMMARY SNAPSHOT:
- Cities: %v
- Budget total: %v %v

DATA PACKET (JSON; authoritative, use only this data):
%s`, userRequest, style, summary["cities"], summary["budget"], summary["currency"], packetJSON)

	return prompt, maxTokens
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func tierOf(summary map[string]any) string {
	if itin, ok := summary["trip_itinerary"]; ok && !isEmptyVal(itin) {
		return "full"
	}
	return "standard"
}

func responseSummary(summary map[string]any) map[string]any {
	return map[string]any{
		"cities":              summary["cities"],
		"duration":            summary["duration"],
		"budget":              summary["budget"],
		"currency":            summary["currency"],
		"has_itinerary":       !isEmptyVal(summary["trip_itinerary"]),
		"has_pois":            !isEmptyVal(summary["pois"]),
		"has_restaurants":     !isEmptyVal(summary["restaurants"]),
		"has_transportation":  !isEmptyVal(summary["city_fares"]) || !isEmptyVal(summary["intercity_fares"]),
	}
}

func isEmptyVal(v any) bool {
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

func (a *ResponseAgent) fallbackResponse(planning, research state.Bucket) map[string]any {
	cities, _ := research["cities"].([]any)
	cityNames := make([]string, 0, len(cities))
	for _, c := range cities {
		if s, ok := c.(string); ok {
			cityNames = append(cityNames, s)
		}
	}
	preferences, _ := planning["preferences"].(map[string]any)
	duration := 0
	if preferences != nil {
		if d, ok := preferences["duration_days"].(float64); ok {
			duration = int(d)
		}
	}
	budgetCaps, _ := planning["budget_caps"].(map[string]any)
	var budget float64
	if budgetCaps != nil {
		if t, ok := budgetCaps["total"].(float64); ok {
			budget = t
		}
	}
	currency, _ := planning["target_currency"].(string)
	if currency == "" {
		currency = "EUR"
	}

	destinations := "N/A"
	if len(cityNames) > 0 {
		destinations = strings.Join(cityNames, ", ")
	}

	text := fmt.Sprintf(
		"Travel Plan Summary (fallback)\nDestinations: %s\nDuration: %d days | Budget: %.2f %s\nNote: the AI narrator was unavailable; this is a minimal fallback message.",
		destinations, duration, budget, currency,
	)

	hasPOIs := !isEmptyVal(nestedMap(research, "poi", "poi_by_city"))
	hasRestaurants := !isEmptyVal(nestedMap(research, "restaurants", "names_by_city"))
	_, hasCityFares := research["city_fares"]
	_, hasIntercity := research["intercity"]

	return map[string]any{
		"status":        "success",
		"tier":          "basic",
		"response_text": text,
		"summary": map[string]any{
			"cities":             cityNames,
			"duration":           duration,
			"budget":             budget,
			"currency":           currency,
			"has_itinerary":      false,
			"has_pois":           hasPOIs,
			"has_restaurants":    hasRestaurants,
			"has_transportation": hasCityFares || hasIntercity,
		},
		"trip_data":   []any{},
		"preferences": preferences,
	}
}
