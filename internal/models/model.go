package models

// Provider identifiers for the model catalog. A provider is the upstream
// service behind one or more models; each has its own credential source and
// quota detection strategy.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGoogle     = "google"
	ProviderLocal      = "local"
)

// Capability tags describing model strengths. The capability matrix uses
// these to find substitutes when the preferred providers are out of quota.
const (
	CapDeepReasoning    = "deep-reasoning"
	CapMathematical     = "mathematical"
	CapCodeGeneration   = "code-generation"
	CapStructuredOutput = "structured-output"
	CapCreative         = "creative"
	CapLongContext      = "long-context"
	CapMultimodal       = "multimodal"
	CapFast             = "fast"
	CapCheap            = "cheap"
)

// Model is a catalog entry: identity, pricing per million tokens, context
// window, and the capability tags it carries. The catalog is read-only after
// initialization.
type Model struct {
	ID              string   `json:"id"`
	Provider        string   `json:"provider"`
	InputPricePerM  float64  `json:"inputPricePerM"`
	OutputPricePerM float64  `json:"outputPricePerM"`
	ContextWindow   int      `json:"contextWindow"`
	Capabilities    []string `json:"capabilities"`
}

// HasCapability reports whether the model carries the given tag.
func (m Model) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAllCapabilities reports whether the model carries every given tag.
func (m Model) HasAllCapabilities(caps []string) bool {
	for _, c := range caps {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

// Cost returns the USD cost for the given token counts at this model's rates.
func (m Model) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputPricePerM/1_000_000 +
		float64(outputTokens)*m.OutputPricePerM/1_000_000
}
