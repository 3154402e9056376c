// Package budget implements per-request cost/token accounting and rate
// limiting (spec §4.7).
package budget

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// knownModels is the cost table consulted by Estimate. Agents that report a
// model not listed here are charged nothing, the same conservative default
// the upstream pricing table uses for models it doesn't recognize.
var knownModels = map[string]ModelPricing{
	"gemini-2.0-flash-exp":  {0.0, 0.0},
	"gemini-1.5-pro":        {1.25, 5.00},
	"gemini-2.5-flash":      {0.075, 0.30},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	"claude-3-7-sonnet":     {3.00, 15.00},
	"claude-sonnet-4-5":     {3.00, 15.00},
	"gpt-4o":                {2.50, 10.00},
	"gpt-4o-mini":           {0.15, 0.60},
}

// Estimate returns the estimated USD cost for the given token counts on model.
func Estimate(model string, promptTokens, completionTokens int64) float64 {
	p, ok := knownModels[model]
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}

// RegisterModel adds or overrides pricing for model, for deployments that
// route to a model not in the built-in table.
func RegisterModel(model string, p ModelPricing) {
	knownModels[model] = p
}
