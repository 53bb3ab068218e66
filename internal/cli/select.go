package cli

import (
	"context"
	"fmt"
)

// Preferences collects every configured CLI preference, strongest first:
// the project's explicit choice and fallback list, then the global settings.
type Preferences struct {
	ProjectCLI      string
	ProjectFallback []string
	GlobalCLI       string
	GlobalFallback  []string
}

// HealthProber answers whether a CLI binary is currently usable.
// *HealthChecker is the production implementation.
type HealthProber interface {
	Healthy(ctx context.Context, id string) bool
}

// Select picks the CLI to launch with. The provider-derived candidate is
// tried first; on health failure the configured fallback lists are walked
// before the built-in scan order. The first healthy CLI wins.
func Select(ctx context.Context, checker HealthProber, candidate string, prefs Preferences) (string, error) {
	seen := make(map[string]bool)
	chain := make([]string, 0, 2+len(prefs.ProjectFallback)+len(prefs.GlobalFallback)+len(BuiltinOrder))

	// Unknown ids in fallback lists are skipped rather than fatal; explicit
	// project overrides are validated by the caller before selection.
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" || seen[id] || !Known(id) {
				continue
			}
			seen[id] = true
			chain = append(chain, id)
		}
	}

	add(candidate)
	add(prefs.ProjectCLI)
	add(prefs.ProjectFallback...)
	add(prefs.GlobalCLI)
	add(prefs.GlobalFallback...)
	add(BuiltinOrder...)

	for _, id := range chain {
		if checker.Healthy(ctx, id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("no healthy cli found (tried %d candidates)", len(chain))
}
