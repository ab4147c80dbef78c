package oracle

import "strings"

// Price is the cost of a model in USD per million tokens.
type Price struct {
	InputPer1M  float64 `json:"input_per_1m" yaml:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m" yaml:"output_per_1m"`
}

// FallbackPrice is charged for models missing from the table.
var FallbackPrice = Price{InputPer1M: 3.0, OutputPer1M: 15.0}

// Pricing maps model names to prices.
type Pricing map[string]Price

// DefaultPricing returns the builtin price table.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-sonnet-4-20250514":   {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-3-5-sonnet-20241022": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.0},
		"claude-3-opus-20240229":     {InputPer1M: 15.0, OutputPer1M: 75.0},
		"gpt-4o":                     {InputPer1M: 2.5, OutputPer1M: 10.0},
		"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.6},
		"gpt-4.1":                    {InputPer1M: 2.0, OutputPer1M: 8.0},
		"gpt-4.1-mini":               {InputPer1M: 0.4, OutputPer1M: 1.6},
	}
}

// Lookup returns the price of model. Provider prefixes such as
// "anthropic/" are ignored.
func (p Pricing) Lookup(model string) Price {
	if price, ok := p[model]; ok {
		return price
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		if price, ok := p[model[i+1:]]; ok {
			return price
		}
	}
	return FallbackPrice
}

// Cost returns the USD cost of one call.
func (p Pricing) Cost(model string, inputTokens, outputTokens int) float64 {
	price := p.Lookup(model)
	return (float64(inputTokens)*price.InputPer1M + float64(outputTokens)*price.OutputPer1M) / 1_000_000
}
