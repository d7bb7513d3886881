// Package pricing maps model names to per-token USD prices.
package pricing

// price holds USD per 1M tokens for one model.
type price struct {
	input  float64
	output float64
}

// table is the static model price list. Treated as immutable after init.
var table = map[string]price{
	// OpenAI
	"gpt-4-turbo-preview": {10.0, 30.0},
	"gpt-4-turbo":         {10.0, 30.0},
	"gpt-4o":              {5.0, 15.0},
	"gpt-4o-mini":         {0.15, 0.60},
	"gpt-4":               {30.0, 60.0},
	"gpt-3.5-turbo":       {0.5, 1.5},

	// Anthropic
	"claude-3-opus-20240229":     {15.0, 75.0},
	"claude-3-sonnet-20240229":   {3.0, 15.0},
	"claude-3-haiku-20240307":    {0.25, 1.25},
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
}

// Known reports whether the model has an entry in the price table.
func Known(model string) bool {
	_, ok := table[model]
	return ok
}

// Cost returns the USD cost of a single LM call. Unknown models cost 0 so
// that accounting stays non-fatal; callers should flag them via Known.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := table[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.input + float64(outputTokens)/1_000_000*p.output
}
