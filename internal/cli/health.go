package cli

import (
	"context"
	"os/exec"
	"sync"
	"time"
)

const (
	// healthCheckTimeout bounds a single --version probe.
	healthCheckTimeout = 3 * time.Second
	// healthCacheTTL is an absolute expiry: results are reused for this
	// window and re-probed after, healthy or not.
	healthCacheTTL = 5 * time.Minute
)

// runner executes a CLI probe. Swapped in tests.
type runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

type healthEntry struct {
	healthy   bool
	checkedAt time.Time
}

// HealthChecker probes CLIs with `--version` and caches the verdict.
type HealthChecker struct {
	mu    sync.Mutex
	cache map[string]healthEntry
	run   runner
	now   func() time.Time
}

// NewHealthChecker creates a checker backed by real process execution.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		cache: make(map[string]healthEntry),
		run:   execRunner,
		now:   time.Now,
	}
}

// Healthy reports whether the CLI responds to --version within the probe
// timeout. Cached results are honored until the absolute TTL passes; there
// is no early retry for cached failures.
func (h *HealthChecker) Healthy(ctx context.Context, id string) bool {
	if !Known(id) {
		return false
	}

	h.mu.Lock()
	entry, ok := h.cache[id]
	now := h.now()
	if ok && now.Sub(entry.checkedAt) < healthCacheTTL {
		h.mu.Unlock()
		return entry.healthy
	}
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	healthy := h.run(probeCtx, id, "--version") == nil

	h.mu.Lock()
	h.cache[id] = healthEntry{healthy: healthy, checkedAt: now}
	h.mu.Unlock()
	return healthy
}

// Invalidate drops the cached verdict for one CLI.
func (h *HealthChecker) Invalidate(id string) {
	h.mu.Lock()
	delete(h.cache, id)
	h.mu.Unlock()
}
