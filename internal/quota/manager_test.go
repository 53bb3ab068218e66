package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
)

// stubDetector returns a canned quota and counts probes.
type stubDetector struct {
	mu       sync.Mutex
	provider string
	quota    models.Quota
	calls    int
}

func (d *stubDetector) Provider() string { return d.provider }

func (d *stubDetector) Detect(context.Context) models.Quota {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	q := d.quota
	q.Provider = d.provider
	return q
}

func (d *stubDetector) set(status models.QuotaStatus, details string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quota = models.Quota{Status: status, Details: details}
}

func (d *stubDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestRefreshCachesWithinTTL(t *testing.T) {
	stub := &stubDetector{provider: models.ProviderAnthropic}
	stub.set(models.QuotaAvailable, "stub")
	m := NewManager(nil, WithDetectors(stub))

	first := m.Refresh(context.Background(), false)
	second := m.Refresh(context.Background(), false)
	assert.Equal(t, 1, stub.callCount())
	assert.Equal(t, first, second)

	m.Refresh(context.Background(), true)
	assert.Equal(t, 2, stub.callCount())
}

func TestRefreshReturnsFrozenCopies(t *testing.T) {
	stub := &stubDetector{provider: models.ProviderAnthropic}
	stub.set(models.QuotaAvailable, "stub")
	m := NewManager(nil, WithDetectors(stub))

	snapshot := m.Refresh(context.Background(), false)
	snapshot[models.ProviderAnthropic] = models.Quota{Status: models.QuotaExhausted}

	assert.Equal(t, models.QuotaAvailable, m.Snapshot().StatusFor(models.ProviderAnthropic))
}

func TestRefreshEmitsQuotaUpdateOnChange(t *testing.T) {
	stub := &stubDetector{provider: models.ProviderAnthropic}
	stub.set(models.QuotaAvailable, "stub")
	eventBus := bus.New()
	var updates []bus.QuotaUpdate
	eventBus.On(bus.KindQuotaUpdate, func(e bus.Event) {
		updates = append(updates, e.(bus.QuotaUpdate))
	})

	m := NewManager(eventBus, WithDetectors(stub))
	m.Refresh(context.Background(), true)
	require.Len(t, updates, 1)

	// Same statuses: no new update event.
	m.Refresh(context.Background(), true)
	assert.Len(t, updates, 1)

	stub.set(models.QuotaLimited, "running low")
	m.Refresh(context.Background(), true)
	require.Len(t, updates, 2)
	assert.Equal(t, models.QuotaLimited, updates[1].Snapshot.StatusFor(models.ProviderAnthropic))
}

func TestRefreshEmitsQuotaWarningOnCrossing(t *testing.T) {
	stub := &stubDetector{provider: models.ProviderOpenRouter}
	stub.set(models.QuotaAvailable, "plenty")
	eventBus := bus.New()
	var warnings []bus.QuotaWarning
	eventBus.On(bus.KindQuotaWarning, func(e bus.Event) {
		warnings = append(warnings, e.(bus.QuotaWarning))
	})

	m := NewManager(eventBus, WithDetectors(stub))
	m.Refresh(context.Background(), true)
	assert.Empty(t, warnings)

	stub.set(models.QuotaExhausted, "0.00 credits remaining")
	m.Refresh(context.Background(), true)
	require.Len(t, warnings, 1)
	assert.Equal(t, models.ProviderOpenRouter, warnings[0].Provider)
	assert.Equal(t, models.QuotaExhausted, warnings[0].Status)
	assert.Equal(t, "0.00 credits remaining", warnings[0].Details)

	// Staying exhausted does not repeat the warning.
	m.Refresh(context.Background(), true)
	assert.Len(t, warnings, 1)
}

func TestUsageWindowCaches(t *testing.T) {
	stub := &stubDetector{provider: models.ProviderOpenRouter}
	stub.set(models.QuotaAvailable, "42.00 credits remaining")
	m := NewManager(nil, WithDetectors(stub))

	first := m.UsageWindow(context.Background())
	require.NotNil(t, first)
	second := m.UsageWindow(context.Background())
	require.NotNil(t, second)
	assert.Equal(t, 1, stub.callCount())
	assert.Equal(t, *first, *second)
}

func TestGetModelInfo(t *testing.T) {
	m := NewManager(nil)

	info := m.GetModelInfo("claude-sonnet-4-5")
	require.NotNil(t, info)
	assert.Equal(t, models.ProviderAnthropic, info.Provider)

	// The returned entry is a copy; mutating it leaves the catalog alone.
	info.Provider = "tampered"
	again := m.GetModelInfo("claude-sonnet-4-5")
	require.NotNil(t, again)
	assert.Equal(t, models.ProviderAnthropic, again.Provider)

	assert.Nil(t, m.GetModelInfo("no-such-model"))
}

func TestEstimateCost(t *testing.T) {
	m := NewManager(nil)

	cost, err := m.EstimateCost("claude-sonnet-4-5", 1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 18.0, cost, 1e-9)

	cost, err = m.EstimateCost("qwen2.5-coder:32b", 1_000_000, 1_000_000)
	require.NoError(t, err)
	assert.Zero(t, cost)

	_, err = m.EstimateCost("no-such-model", 1, 1)
	require.Error(t, err)
}

func TestModelsByCapability(t *testing.T) {
	m := NewManager(nil)
	for _, model := range m.ModelsByCapability(models.CapMathematical) {
		assert.True(t, model.HasCapability(models.CapMathematical), model.ID)
	}
	assert.NotEmpty(t, m.ModelsByCapability(models.CapCodeGeneration))
	assert.Empty(t, m.ModelsByCapability("no-such-capability"))
}

func TestProviderRankOrder(t *testing.T) {
	assert.Less(t, ProviderRank(models.ProviderAnthropic), ProviderRank(models.ProviderOpenAI))
	assert.Less(t, ProviderRank(models.ProviderOpenRouter), ProviderRank(models.ProviderLocal))
	assert.Equal(t, 5, ProviderRank("someone-else"))
}
