package llm

import "strings"

// modelPricing is dollars per million tokens (prompt, completion).
type modelPricing struct {
	prompt     float64
	completion float64
}

// Pricing is matched by substring so dated model suffixes resolve to their
// family. Unknown models fall back to a conservative default.
var pricingTable = []struct {
	match   string
	pricing modelPricing
}{
	{"gpt-4o-mini", modelPricing{0.15, 0.60}},
	{"gpt-4o", modelPricing{2.50, 10.00}},
	{"gpt-4-turbo", modelPricing{10.00, 30.00}},
	{"gpt-3.5", modelPricing{0.50, 1.50}},
	{"claude-opus", modelPricing{15.00, 75.00}},
	{"claude-sonnet", modelPricing{3.00, 15.00}},
	{"claude-haiku", modelPricing{0.80, 4.00}},
}

var defaultPricing = modelPricing{3.00, 15.00}

func estimateCost(model string, promptTokens, completionTokens int) float64 {
	m := strings.ToLower(model)
	pricing := defaultPricing
	for _, entry := range pricingTable {
		if strings.Contains(m, entry.match) {
			pricing = entry.pricing
			break
		}
	}
	return float64(promptTokens)/1e6*pricing.prompt + float64(completionTokens)/1e6*pricing.completion
}
