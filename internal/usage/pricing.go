package usage

import "github.com/nugget/wellpen/internal/config"

// DefaultPricingKey names the pricing entry used for unlisted models.
const DefaultPricingKey = "default"

// Rate is a per-million-token price.
type Rate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Pricing is a model-keyed price table with a fallback rate.
type Pricing struct {
	Models  map[string]Rate
	Default Rate
}

// PricingFromConfig builds a Pricing from the config table. The
// "default" entry becomes the fallback rate.
func PricingFromConfig(entries map[string]config.PricingEntry) Pricing {
	p := Pricing{Models: make(map[string]Rate, len(entries))}
	for name, e := range entries {
		r := Rate{InputPerMillion: e.InputPerMillion, OutputPerMillion: e.OutputPerMillion}
		if name == DefaultPricingKey {
			p.Default = r
			continue
		}
		p.Models[name] = r
	}
	return p
}

// RateFor returns the rate for model, falling back to the default.
func (p Pricing) RateFor(model string) Rate {
	if r, ok := p.Models[model]; ok {
		return r
	}
	return p.Default
}

// ComputeCost calculates the USD cost of one call. Unknown models are
// billed at the default rate rather than rejected.
func ComputeCost(model string, inputTokens, outputTokens int, pricing Pricing) float64 {
	r := pricing.RateFor(model)
	return float64(inputTokens)/1_000_000.0*r.InputPerMillion +
		float64(outputTokens)/1_000_000.0*r.OutputPerMillion
}
