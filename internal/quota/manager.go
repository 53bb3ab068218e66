package quota

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
)

// Cache TTLs. The full snapshot is refreshed at most every five minutes; the
// usage-window sub-quota is allowed a much shorter staleness.
const (
	snapshotTTL    = 5 * time.Minute
	usageWindowTTL = 30 * time.Second
)

// Manager owns the model catalog and the provider → quota snapshot. It is
// safe for concurrent use; consumers receive frozen snapshot copies.
type Manager struct {
	mu        sync.Mutex
	bus       *bus.Bus
	catalog   []models.Model
	byID      map[string]models.Model
	detectors []Detector

	snapshot  models.QuotaSnapshot
	fetchedAt time.Time

	usageWindow   *models.Quota
	usageFetched  time.Time
	usageProvider string
}

// Option configures a Manager.
type Option func(*Manager)

// WithDetectors replaces the default provider detectors. Used in tests.
func WithDetectors(ds ...Detector) Option {
	return func(m *Manager) { m.detectors = ds }
}

// WithCatalog replaces the default model catalog. Used in tests.
func WithCatalog(catalog []models.Model) Option {
	return func(m *Manager) { m.setCatalog(catalog) }
}

// NewManager builds a Manager with the static catalog and the default
// per-provider detectors. The event bus may be nil.
func NewManager(eventBus *bus.Bus, opts ...Option) *Manager {
	client := &http.Client{}
	homeDir, _ := os.UserHomeDir()

	m := &Manager{
		bus:           eventBus,
		usageProvider: models.ProviderOpenRouter,
		detectors: []Detector{
			&anthropicDetector{env: os.Getenv, homeDir: homeDir, runCmd: runSecurityCmd},
			&openAIDetector{env: os.Getenv, client: client, baseURL: "https://api.openai.com"},
			&openRouterDetector{env: os.Getenv, client: client, baseURL: "https://openrouter.ai"},
			&googleDetector{env: os.Getenv},
			&localDetector{client: client, baseURL: "http://localhost:11434"},
		},
	}
	m.setCatalog(Catalog())

	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) setCatalog(catalog []models.Model) {
	m.catalog = catalog
	m.byID = make(map[string]models.Model, len(catalog))
	for _, model := range catalog {
		m.byID[model.ID] = model
	}
}

// Refresh probes each provider and returns a frozen snapshot copy. Within the
// TTL the cached snapshot is returned unless force is set. Probes never
// throw; failures degrade the provider's status.
func (m *Manager) Refresh(ctx context.Context, force bool) models.QuotaSnapshot {
	m.mu.Lock()
	if !force && m.snapshot != nil && time.Since(m.fetchedAt) < snapshotTTL {
		cached := m.snapshot.Clone()
		m.mu.Unlock()
		return cached
	}
	previous := m.snapshot
	detectors := m.detectors
	m.mu.Unlock()

	fresh := make(models.QuotaSnapshot, len(detectors))
	for _, d := range detectors {
		fresh[d.Provider()] = d.Detect(ctx)
	}

	m.mu.Lock()
	m.snapshot = fresh
	m.fetchedAt = time.Now()
	m.mu.Unlock()

	m.publishChanges(previous, fresh)
	return fresh.Clone()
}

// Snapshot returns the current cached snapshot without probing. May be empty
// before the first Refresh.
func (m *Manager) Snapshot() models.QuotaSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return models.QuotaSnapshot{}
	}
	return m.snapshot.Clone()
}

// UsageWindow returns the short-lived usage sub-quota for the credit-metered
// provider, refreshing it when older than 30 seconds.
func (m *Manager) UsageWindow(ctx context.Context) *models.Quota {
	m.mu.Lock()
	if m.usageWindow != nil && time.Since(m.usageFetched) < usageWindowTTL {
		cached := *m.usageWindow
		m.mu.Unlock()
		return &cached
	}
	detectors := m.detectors
	provider := m.usageProvider
	m.mu.Unlock()

	for _, d := range detectors {
		if d.Provider() != provider {
			continue
		}
		q := d.Detect(ctx)
		m.mu.Lock()
		m.usageWindow = &q
		m.usageFetched = time.Now()
		m.mu.Unlock()
		result := q
		return &result
	}
	return nil
}

// publishChanges emits quota-update when the snapshot changed and
// quota-warning for every provider that crossed into limited or exhausted.
func (m *Manager) publishChanges(previous, fresh models.QuotaSnapshot) {
	if m.bus == nil {
		return
	}

	changed := previous == nil || len(previous) != len(fresh)
	if !changed {
		for provider, q := range fresh {
			if prev, ok := previous[provider]; !ok || prev.Status != q.Status {
				changed = true
				break
			}
		}
	}
	if changed {
		m.bus.Emit(bus.QuotaUpdate{Snapshot: fresh.Clone()})
	}

	for provider, q := range fresh {
		if q.Status != models.QuotaLimited && q.Status != models.QuotaExhausted {
			continue
		}
		prevStatus := models.QuotaUnknown
		if previous != nil {
			prevStatus = previous.StatusFor(provider)
		}
		if prevStatus != q.Status {
			m.bus.Emit(bus.QuotaWarning{
				Provider: provider,
				Status:   q.Status,
				Details:  q.Details,
			})
		}
	}
}

// GetModelInfo returns the catalog entry for a model id, or nil.
func (m *Manager) GetModelInfo(id string) *models.Model {
	if model, ok := m.byID[id]; ok {
		entry := model
		return &entry
	}
	return nil
}

// Models returns the full catalog in rank order.
func (m *Manager) Models() []models.Model {
	out := make([]models.Model, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// ModelsByCapability returns all catalog models carrying the given tag.
func (m *Manager) ModelsByCapability(cap string) []models.Model {
	var out []models.Model
	for _, model := range m.catalog {
		if model.HasCapability(cap) {
			out = append(out, model)
		}
	}
	return out
}

// EstimateCost computes the USD cost of the given token counts on a model.
// Free-tier models return 0.
func (m *Manager) EstimateCost(modelID string, inputTokens, outputTokens int) (float64, error) {
	model, ok := m.byID[modelID]
	if !ok {
		return 0, fmt.Errorf("unknown model %q", modelID)
	}
	return model.Cost(inputTokens, outputTokens), nil
}
