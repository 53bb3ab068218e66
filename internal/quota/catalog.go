// Package quota owns the static model catalog and the per-provider quota
// snapshot. Detection is a small polymorphism: every provider has a credential
// source (keychain, credential file, or environment variable) and an optional
// live probe; all I/O failures degrade the status instead of erroring.
package quota

import "github.com/harrison/ralph-ultra/internal/models"

// Catalog returns the static model catalog. Prices are USD per million
// tokens; the slice order is the provider rank used to break cost ties during
// capability-match fallback.
func Catalog() []models.Model {
	return []models.Model{
		{
			ID:              "claude-opus-4-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  15.00,
			OutputPricePerM: 75.00,
			ContextWindow:   200_000,
			Capabilities: []string{
				models.CapDeepReasoning, models.CapMathematical,
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapCreative, models.CapMultimodal,
			},
		},
		{
			ID:              "claude-sonnet-4-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  3.00,
			OutputPricePerM: 15.00,
			ContextWindow:   200_000,
			Capabilities: []string{
				models.CapDeepReasoning, models.CapCodeGeneration,
				models.CapStructuredOutput, models.CapMultimodal,
			},
		},
		{
			ID:              "claude-haiku-3-5",
			Provider:        models.ProviderAnthropic,
			InputPricePerM:  0.25,
			OutputPricePerM: 1.25,
			ContextWindow:   200_000,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapFast, models.CapCheap,
			},
		},
		{
			ID:              "gpt-4o",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  2.50,
			OutputPricePerM: 10.00,
			ContextWindow:   128_000,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapCreative, models.CapMultimodal,
			},
		},
		{
			ID:              "gpt-4o-mini",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  0.15,
			OutputPricePerM: 0.60,
			ContextWindow:   128_000,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapStructuredOutput,
				models.CapFast, models.CapCheap,
			},
		},
		{
			ID:              "o3-mini",
			Provider:        models.ProviderOpenAI,
			InputPricePerM:  1.10,
			OutputPricePerM: 4.40,
			ContextWindow:   200_000,
			Capabilities: []string{
				models.CapDeepReasoning, models.CapMathematical,
				models.CapStructuredOutput,
			},
		},
		{
			ID:              "gemini-2.0-flash",
			Provider:        models.ProviderGoogle,
			InputPricePerM:  0.10,
			OutputPricePerM: 0.40,
			ContextWindow:   1_000_000,
			Capabilities: []string{
				models.CapLongContext, models.CapFast, models.CapCheap,
				models.CapMultimodal,
			},
		},
		{
			ID:              "gemini-2.5-pro",
			Provider:        models.ProviderGoogle,
			InputPricePerM:  1.25,
			OutputPricePerM: 5.00,
			ContextWindow:   1_000_000,
			Capabilities: []string{
				models.CapLongContext, models.CapDeepReasoning,
				models.CapCodeGeneration, models.CapMultimodal,
			},
		},
		{
			ID:              "deepseek/deepseek-coder",
			Provider:        models.ProviderOpenRouter,
			InputPricePerM:  0.14,
			OutputPricePerM: 0.28,
			ContextWindow:   64_000,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapFast, models.CapCheap,
			},
		},
		{
			ID:              "qwen2.5-coder:32b",
			Provider:        models.ProviderLocal,
			InputPricePerM:  0,
			OutputPricePerM: 0,
			ContextWindow:   32_768,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapCheap,
			},
		},
		{
			ID:              "codellama:13b",
			Provider:        models.ProviderLocal,
			InputPricePerM:  0,
			OutputPricePerM: 0,
			ContextWindow:   16_384,
			Capabilities: []string{
				models.CapCodeGeneration, models.CapCheap, models.CapFast,
			},
		},
	}
}

// ProviderRank returns the catalog rank of a provider (lower is preferred).
// Unlisted providers rank last.
func ProviderRank(provider string) int {
	order := []string{
		models.ProviderAnthropic,
		models.ProviderOpenAI,
		models.ProviderGoogle,
		models.ProviderOpenRouter,
		models.ProviderLocal,
	}
	for i, p := range order {
		if p == provider {
			return i
		}
	}
	return len(order)
}
