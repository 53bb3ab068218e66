package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/planner"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// staticQuota answers a fixed quota verdict for one provider.
type staticQuota struct {
	provider string
	status   models.QuotaStatus
}

func (d staticQuota) Provider() string { return d.provider }
func (d staticQuota) Detect(context.Context) models.Quota {
	return models.Quota{Provider: d.provider, Status: d.status}
}

// healthyAll reports every CLI as usable.
type healthyAll struct{}

func (healthyAll) Healthy(context.Context, string) bool { return true }

// fakeSessions plays back a scripted session. Every sent command appends the
// scripted stream lines and the completion marker to the session log, the
// same way the multiplexer tee would.
type fakeSessions struct {
	lines []string
	exit  int

	mu      sync.Mutex
	logPath string
	sent    []string
	killed  int
}

func (f *fakeSessions) Available() bool { return true }

func (f *fakeSessions) HasSession(context.Context, string) bool { return false }

func (f *fakeSessions) CreateSession(_ context.Context, _, _, logPath string) error {
	f.mu.Lock()
	f.logPath = logPath
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) SendCommand(_ context.Context, _, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, command)

	var b strings.Builder
	for _, line := range f.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s:%d\n", tmux.CompletionMarker, f.exit)

	file, err := os.OpenFile(f.logPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(b.String())
	return err
}

func (f *fakeSessions) KillSession(context.Context, string) error {
	f.mu.Lock()
	f.killed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) ListSessions(context.Context) ([]string, error) { return nil, nil }

func (f *fakeSessions) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// eventLog records every bus event for later inspection.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) record(ev bus.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bus.Event, len(l.events))
	copy(out, l.events)
	return out
}

// waitFor blocks until an event of the given kind has been recorded.
func (l *eventLog) waitFor(t *testing.T, kind bus.Kind) bus.Event {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range l.snapshot() {
			if ev.Kind() == kind {
				return ev
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %s event arrived", kind)
	return nil
}

func kindIndex(events []bus.Event, kind bus.Kind) int {
	for i, ev := range events {
		if ev.Kind() == kind {
			return i
		}
	}
	return -1
}

// newScenarioEngine wires an engine to the fake multiplexer with the delays
// and remote status check stubbed out.
func newScenarioEngine(t *testing.T, fake *fakeSessions) (*Engine, *eventLog, string) {
	t.Helper()
	dir := t.TempDir()
	b := bus.New()
	events := &eventLog{}
	b.OnAll(events.record)

	e, err := New(Options{
		ProjectDir: dir,
		Bus:        b,
		Quotas: quota.NewManager(nil,
			quota.WithDetectors(staticQuota{models.ProviderAnthropic, models.QuotaAvailable})),
		Planner:  planner.New(nil, quota.Catalog()),
		Settings: config.DefaultSettings(),
		Tmux:     fake,
		Health:   healthyAll{},
	})
	require.NoError(t, err)
	e.sleep = func(time.Duration) {}
	e.fetchStatus = func(context.Context) (string, error) { return "operational", nil }
	t.Cleanup(e.Close)
	return e, events, dir
}

func oneStoryPRD(testCommand string) *models.PRD {
	return &models.PRD{
		Project:    "demo",
		BranchName: "main",
		UserStories: []models.UserStory{{
			ID:    "S-1",
			Title: "wire the endpoint",
			AcceptanceCriteria: models.NewStructuredCriteria([]models.AcceptanceCriterion{
				{ID: "AC-1", Text: "unit tests pass", TestCommand: testCommand},
			}),
		}},
	}
}

func TestRunStoryLifecycleAllPass(t *testing.T) {
	fake := &fakeSessions{
		lines: []string{`{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}`},
	}
	e, events, dir := newScenarioEngine(t, fake)
	savePRD(t, dir, oneStoryPRD("make test"))
	e.runTest = func(context.Context, string, string) error { return nil }

	require.NoError(t, e.Run(context.Background(), RunOptions{}))

	done := events.waitFor(t, bus.KindExecutionComplete).(bus.ExecutionComplete)
	assert.Equal(t, 1, done.StoriesPassed)
	assert.Equal(t, 1, done.StoriesTotal)

	all := events.snapshot()
	started := kindIndex(all, bus.KindStoryStarted)
	progress := kindIndex(all, bus.KindStoryProgress)
	require.GreaterOrEqual(t, started, 0)
	require.GreaterOrEqual(t, progress, 0)
	assert.Less(t, started, progress, "story-started must precede the first progress event")

	completed := all[kindIndex(all, bus.KindStoryCompleted)].(bus.StoryCompleted)
	assert.True(t, completed.Success)
	assert.Equal(t, 1, completed.ACPassed)
	assert.Equal(t, 1, completed.ACTotal)

	prd, err := models.LoadPRD(filepath.Join(dir, models.PRDFileName))
	require.NoError(t, err)
	assert.True(t, prd.UserStories[0].Passes)
	require.NotNil(t, prd.UserStories[0].AcceptanceCriteria.Items[0].LastRun)

	// The completed PRD moves to the archive.
	entries, err := os.ReadDir(filepath.Join(dir, ArchiveDirName))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRunStoryRetriesThenSkips(t *testing.T) {
	fake := &fakeSessions{exit: 1}
	e, events, dir := newScenarioEngine(t, fake)
	savePRD(t, dir, oneStoryPRD("make test"))
	e.runTest = func(context.Context, string, string) error { return errors.New("exit status 1") }

	require.NoError(t, e.Run(context.Background(), RunOptions{}))
	events.waitFor(t, bus.KindExecutionComplete)

	var failures []bus.StoryFailed
	for _, ev := range events.snapshot() {
		if f, ok := ev.(bus.StoryFailed); ok {
			failures = append(failures, f)
		}
	}
	require.Len(t, failures, MaxRetriesPerStory)
	for i, f := range failures {
		assert.Equal(t, i+1, f.RetryCount)
		assert.Contains(t, f.Reasons, "AC AC-1 failed")
	}
	assert.False(t, failures[0].Skipped)
	assert.False(t, failures[1].Skipped)
	assert.True(t, failures[2].Skipped)

	prd, err := models.LoadPRD(filepath.Join(dir, models.PRDFileName))
	require.NoError(t, err)
	assert.True(t, prd.UserStories[0].Skipped)
	assert.False(t, prd.UserStories[0].Passes)

	assert.Len(t, fake.sentCommands(), MaxRetriesPerStory)
	assert.Equal(t, StateIdle, e.GetStatus().State)
}

func TestResumeQuickDeathClearsStoredSession(t *testing.T) {
	fake := &fakeSessions{
		lines: []string{`{"type":"system","session_id":"sess-new"}`},
		exit:  1,
	}
	e, events, dir := newScenarioEngine(t, fake)
	savePRD(t, dir, oneStoryPRD("make test"))
	e.runTest = func(context.Context, string, string) error { return errors.New("exit status 1") }

	progress := &models.ExecutionProgress{StartedAt: time.Now().UTC()}
	entry := progress.Story("S-1")
	entry.Paused = true
	entry.SessionID = "sess-old"
	require.NoError(t, progress.Save(filepath.Join(dir, models.ProgressFileName)))

	require.NoError(t, e.Run(context.Background(), RunOptions{}))
	events.waitFor(t, bus.KindExecutionComplete)

	resumed := events.waitFor(t, bus.KindExecutionResumed).(bus.ExecutionResumed)
	assert.Equal(t, "sess-old", resumed.SessionID)

	sent := fake.sentCommands()
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[0], "--resume sess-old")
	// A resume that dies inside the quick-session window invalidates the
	// stored session; every relaunch starts fresh.
	for _, command := range sent[1:] {
		assert.NotContains(t, command, "--resume")
	}

	final, err := models.LoadProgress(filepath.Join(dir, models.ProgressFileName))
	require.NoError(t, err)
	assert.Empty(t, final.Story("S-1").SessionID)
}
