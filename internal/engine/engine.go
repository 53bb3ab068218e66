// Package engine drives story execution for one project: it plans, launches
// external CLI sessions in a terminal multiplexer, tails their output,
// verifies acceptance criteria, and persists every outcome. One Engine per
// open project; a mutex serializes all operations on its mutable state.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/capability"
	"github.com/harrison/ralph-ultra/internal/cli"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/cost"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/logger"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/planner"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/stream"
	"github.com/harrison/ralph-ultra/internal/tasktype"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// State is the engine process state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StatePaused   State = "paused"
	// StateExternal means a live session with our name exists that this
	// engine did not start; it is tailed but not owned.
	StateExternal State = "external"
)

const (
	// MaxRetriesPerStory bounds failed attempts before a story is skipped.
	MaxRetriesPerStory = 3
	// MaxIterations bounds total launches per story.
	MaxIterations = 10

	monitorInterval       = 3 * time.Second
	stoppingWatchdogTicks = 3
	quickSessionThreshold = 10 * time.Second
	interStoryDelay       = 1 * time.Second
	retryDelay            = 2 * time.Second
	complexityGraceDelay  = 5 * time.Second
	apiStatusGraceDelay   = 3 * time.Second

	// Complexity gate thresholds: long descriptions, many criteria, or
	// scope-creep keywords earn a warning and a grace delay.
	complexityWordThreshold = 120
	complexityACThreshold   = 6

	// SessionLogFileName is the tee target under <project>/logs/.
	SessionLogFileName = "ralph-session.log"
)

var complexityKeywords = []string{
	"migration", "rewrite", "entire", "architecture", "infrastructure", "distributed",
}

// SessionRunner is the multiplexer surface the engine drives. *tmux.Client
// is the production implementation.
type SessionRunner interface {
	Available() bool
	HasSession(ctx context.Context, name string) bool
	CreateSession(ctx context.Context, name, workDir, logPath string) error
	SendCommand(ctx context.Context, name, command string) error
	KillSession(ctx context.Context, name string) error
	ListSessions(ctx context.Context) ([]string, error)
}

// Options wires an Engine's collaborators.
type Options struct {
	ProjectDir string
	Bus        *bus.Bus
	Quotas     *quota.Manager
	Planner    *planner.Planner
	Costs      *cost.Tracker
	Learning   *learning.Recorder
	Settings   *config.Settings
	ConfigRoot string
	Log        *logger.FileLogger
	Tmux       SessionRunner
	Health     cli.HealthProber
}

// RunOptions tune one launch.
type RunOptions struct {
	// SkipComplexityGate bypasses the complexity warning delay.
	SkipComplexityGate bool
	// SkipStatusGate bypasses the remote API status warning delay.
	SkipStatusGate bool
}

// Status is the engine's externally visible state snapshot.
type Status struct {
	State       State     `json:"state"`
	StoryID     string    `json:"storyId,omitempty"`
	SessionName string    `json:"sessionName,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	Debug       bool      `json:"debug"`
}

// Engine executes stories for a single project.
type Engine struct {
	projectDir string
	bus        *bus.Bus
	quotas     *quota.Manager
	planner    *planner.Planner
	costs      *cost.Tracker
	learning   *learning.Recorder
	settings   *config.Settings
	configRoot string
	log        *logger.FileLogger
	tmux       SessionRunner
	health     cli.HealthProber

	mu          sync.Mutex
	state       State
	storyID     string
	sessionName string
	launchedAt  time.Time
	resumed     bool
	modelID     string
	provider    string
	taskType    string
	complexity  string
	storyTitle  string
	estCost     float64
	promptFile  string
	debug       bool

	iterations map[string]int
	retries    map[string]int

	planKey string
	plan    *models.ExecutionPlan

	parser *stream.Parser
	ring   *stream.Ring
	tailer *tailer

	stoppingTicks int
	monitorStop   chan struct{}
	monitorDone   chan struct{}

	now         func() time.Time
	sleep       func(time.Duration)
	runTest     testRunner
	fetchStatus func(context.Context) (string, error)
}

// New builds an Engine. Start must be called before use.
func New(opts Options) (*Engine, error) {
	if opts.ProjectDir == "" {
		return nil, fmt.Errorf("project directory required")
	}
	if opts.Bus == nil || opts.Quotas == nil || opts.Planner == nil {
		return nil, fmt.Errorf("bus, quota manager, and planner are required")
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		projectDir:  opts.ProjectDir,
		bus:         opts.Bus,
		quotas:      opts.Quotas,
		planner:     opts.Planner,
		costs:       opts.Costs,
		learning:    opts.Learning,
		settings:    opts.Settings,
		configRoot:  opts.ConfigRoot,
		log:         log,
		tmux:        opts.Tmux,
		health:      opts.Health,
		state:       StateIdle,
		iterations:  make(map[string]int),
		retries:     make(map[string]int),
		parser:      stream.NewParser(),
		ring:        stream.NewRing(),
		now:         time.Now,
		sleep:       time.Sleep,
		runTest:     shellTestRunner,
		fetchStatus: fetchAnthropicStatus,
	}, nil
}

// Start launches the session monitor. Idempotent only in the sense that it
// must be called exactly once before Close.
func (e *Engine) Start() {
	e.monitorStop = make(chan struct{})
	e.monitorDone = make(chan struct{})
	go e.monitorLoop()
}

// Close stops the monitor and tailer. It does not kill a paused session;
// paused sessions are resumable across engine restarts.
func (e *Engine) Close() {
	if e.monitorStop != nil {
		close(e.monitorStop)
		<-e.monitorDone
	}
	e.mu.Lock()
	t := e.tailer
	e.tailer = nil
	e.mu.Unlock()
	if t != nil {
		t.halt()
	}
}

// SetDebugMode toggles verbose engine logging.
func (e *Engine) SetDebugMode(enabled bool) {
	e.mu.Lock()
	e.debug = enabled
	e.mu.Unlock()
	e.log.SetDebug(enabled)
}

// GetStatus returns a consistent snapshot of the engine state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:       e.state,
		StoryID:     e.storyID,
		SessionName: e.sessionName,
		StartedAt:   e.launchedAt,
		Debug:       e.debug,
	}
}

// GetLiveOutput returns the structured output ring, oldest first.
func (e *Engine) GetLiveOutput() []stream.Record {
	return e.ring.Snapshot()
}

// GetAgentActivity returns the live activity derived from the stream.
func (e *Engine) GetAgentActivity() models.AgentActivity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parser.Activity()
}

// HasPausedSession reports whether the story has a resumable paused entry.
func (e *Engine) HasPausedSession(storyID string) bool {
	progress, err := models.LoadProgress(e.progressPath())
	if err != nil {
		return false
	}
	entry := progress.Find(storyID)
	return entry != nil && entry.Paused && entry.SessionID != ""
}

// ListBackups returns PRD backup ring entries, newest first.
func (e *Engine) ListBackups() ([]BackupInfo, error) {
	return listBackups(e.projectDir)
}

// RestoreFromBackup replaces the live PRD with a backup ring entry. Refused
// while a story is executing.
func (e *Engine) RestoreFromBackup(name string) error {
	e.mu.Lock()
	busy := e.state == StateRunning || e.state == StateStopping
	e.mu.Unlock()
	if busy {
		return configErr("cannot restore while execution is active", nil)
	}
	return restoreBackup(e.projectDir, name)
}

// Run launches the next runnable story.
func (e *Engine) Run(ctx context.Context, opts RunOptions) error {
	return e.launch(ctx, "", opts)
}

// RunStory launches a specific story by id.
func (e *Engine) RunStory(ctx context.Context, storyID string, opts RunOptions) error {
	if storyID == "" {
		return configErr("story id required", nil)
	}
	return e.launch(ctx, storyID, opts)
}

// RetryCurrent relaunches the current story from a paused state.
func (e *Engine) RetryCurrent(ctx context.Context) error {
	e.mu.Lock()
	storyID := e.storyID
	state := e.state
	e.mu.Unlock()
	if storyID == "" {
		return configErr("no current story to retry", nil)
	}
	if state != StatePaused && state != StateIdle {
		return configErr(fmt.Sprintf("cannot retry in state %s", state), nil)
	}
	return e.launch(ctx, storyID, RunOptions{})
}

// Stop is the user-initiated cancel: kill the session, persist the resume
// token and AC status as paused, and settle in the paused state.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return configErr(fmt.Sprintf("cannot stop in state %s", e.state), nil)
	}
	e.state = StateStopping
	e.stoppingTicks = 0
	storyID := e.storyID
	sessionName := e.sessionName
	sessionID := e.parser.SessionID()
	t := e.tailer
	e.tailer = nil
	e.mu.Unlock()

	if t != nil {
		t.halt()
	}
	if e.tmux != nil {
		if err := e.tmux.KillSession(ctx, sessionName); err != nil {
			e.log.Warn("kill session on stop: %v", err)
		}
	}

	passing, failing := e.criteriaStatus(storyID)
	if err := e.persistPaused(storyID, sessionID, passing, failing); err != nil {
		e.log.Error("persist paused progress: %v", err)
	}

	e.mu.Lock()
	e.state = StatePaused
	e.removePromptFile()
	e.mu.Unlock()

	e.log.Info("stopped story %s; session %s preserved for resume", storyID, sessionID)
	e.bus.Emit(bus.ExecutionPaused{StoryID: storyID, SessionID: sessionID})
	e.bus.Emit(bus.ExecutionStopped{Reason: "user stop"})
	return nil
}

// launch is the single entry for Run/RunStory/retry. It validates state,
// picks the story, selects model and CLI, starts the multiplexer session,
// and arms the tailer.
func (e *Engine) launch(ctx context.Context, storyID string, opts RunOptions) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StatePaused:
	case StateExternal:
		// Reclaim the orphan before taking over.
		name := e.sessionName
		t := e.tailer
		e.tailer = nil
		e.mu.Unlock()
		if t != nil {
			t.halt()
		}
		if e.tmux != nil {
			if err := e.tmux.KillSession(ctx, name); err != nil {
				return envErr("reclaim external session", err)
			}
		}
		e.mu.Lock()
		e.state = StateIdle
	default:
		state := e.state
		e.mu.Unlock()
		return configErr(fmt.Sprintf("cannot launch in state %s", state), nil)
	}
	e.mu.Unlock()

	prd, err := models.LoadPRD(e.prdPath())
	if err != nil {
		e.toIdle()
		return configErr("load PRD", err)
	}

	if len(prd.UserStories) == 0 || prd.AllPassing() {
		e.emitComplete(prd)
		return nil
	}

	var story *models.UserStory
	if storyID != "" {
		if story = prd.Story(storyID); story == nil {
			e.toIdle()
			return configErr(fmt.Sprintf("story %s not found", storyID), nil)
		}
	} else if story = prd.NextStory(); story == nil {
		e.emitComplete(prd)
		return nil
	}

	// Iteration cap: a story that keeps coming back gets skipped, not
	// relaunched forever.
	e.mu.Lock()
	iterations := e.iterations[story.ID]
	e.mu.Unlock()
	if iterations >= MaxIterations {
		return e.skipStory(ctx, prd, story, "iteration cap reached")
	}

	if _, err := backupPRD(e.projectDir, e.now()); err != nil {
		e.log.Error("PRD backup failed: %v", err)
	}

	progress, err := models.LoadProgress(e.progressPath())
	if err != nil {
		e.toIdle()
		return persistErr("load progress", err)
	}
	entry := progress.Story(story.ID)
	resume := entry.Paused && entry.SessionID != ""

	if !opts.SkipComplexityGate && !resume {
		e.complexityGate(story)
	}
	if !opts.SkipStatusGate {
		e.statusGate()
	}

	alloc := e.allocate(prd, story)

	cliID, err := e.selectCLI(ctx, prd, alloc.RecommendedModel.Provider)
	if err != nil {
		e.toIdle()
		return err
	}

	prompt := e.buildPrompt(story, entry, resume)
	promptPath, err := writePromptFile(prompt)
	if err != nil {
		e.toIdle()
		return persistErr("write prompt file", err)
	}

	resumeToken := ""
	if resume && cli.SupportsResume(cliID) {
		resumeToken = entry.SessionID
	}
	command, err := cli.BuildCommand(cli.LaunchSpec{
		CLI:         cliID,
		ModelID:     alloc.RecommendedModel.ModelID,
		Provider:    alloc.RecommendedModel.Provider,
		PromptPath:  promptPath,
		ResumeToken: resumeToken,
	})
	if err != nil {
		os.Remove(promptPath)
		e.toIdle()
		return configErr("build CLI command", err)
	}

	sessionName := tmux.SessionName(prd.BranchName)
	logPath := e.sessionLogPath()
	if err := e.startSession(ctx, sessionName, logPath, command); err != nil {
		os.Remove(promptPath)
		e.toIdle()
		return err
	}

	e.mu.Lock()
	e.state = StateRunning
	e.storyID = story.ID
	e.storyTitle = story.Title
	e.sessionName = sessionName
	e.launchedAt = e.now()
	e.resumed = resume
	e.modelID = alloc.RecommendedModel.ModelID
	e.provider = alloc.RecommendedModel.Provider
	e.taskType = alloc.TaskType
	e.complexity = story.Complexity
	e.estCost = alloc.EstimatedCostUSD
	e.promptFile = promptPath
	e.iterations[story.ID]++
	e.stoppingTicks = 0
	e.parser = stream.NewParser()
	e.ring.Reset()
	t := newTailer(logPath, e.onStreamLine, e.onSessionComplete, e.log)
	e.tailer = t
	attempt := e.iterations[story.ID]
	e.mu.Unlock()

	if e.costs != nil {
		e.costs.StartStory(story.ID, alloc.RecommendedModel.ModelID,
			alloc.RecommendedModel.Provider, alloc.EstimatedCostUSD, e.retryCount(story.ID))
	}

	entry.Attempts++
	entry.LastAttempt = e.now().UTC()
	entry.Paused = false
	if err := progress.Save(e.progressPath()); err != nil {
		e.log.Error("save progress: %v", err)
	}

	e.log.Info("launched story %s attempt %d with %s via %s (session %s)",
		story.ID, attempt, alloc.RecommendedModel.ModelID, cliID, sessionName)
	e.bus.Emit(bus.ExecutionStarted{Project: prd.Project, StoryID: story.ID})
	e.bus.Emit(bus.StoryStarted{
		StoryID:  story.ID,
		Title:    story.Title,
		ModelID:  alloc.RecommendedModel.ModelID,
		Provider: alloc.RecommendedModel.Provider,
		Attempt:  attempt,
		Resumed:  resume,
	})
	if resume {
		e.bus.Emit(bus.ExecutionResumed{StoryID: story.ID, SessionID: entry.SessionID})
	}

	// Arm the tailer only after the lifecycle events are out, so the first
	// progress event can never precede story-started.
	t.start()
	return nil
}

// allocate plans the whole PRD and returns this story's allocation. The plan
// is cached across launches and regenerated only when the PRD, quota
// snapshot, mode, or learning history changes. A plan failure degrades to
// the capability matrix default rather than aborting.
func (e *Engine) allocate(prd *models.PRD, story *models.UserStory) models.Allocation {
	quotas := e.quotas.Refresh(context.Background(), false)

	learningRuns := 0
	if e.learning != nil {
		if n, err := e.learning.RecordCount(); err == nil {
			learningRuns = n
		}
	}
	key := planCacheKey(prd, quotas, e.mode(), learningRuns)

	e.mu.Lock()
	plan := e.plan
	hit := plan != nil && e.planKey == key
	e.mu.Unlock()

	if !hit {
		var querier planner.LearningQuerier
		if e.learning != nil {
			querier = e.learning
		}
		fresh, err := e.planner.GeneratePlan(prd, quotas, e.mode(), querier)
		if err != nil {
			e.log.Warn("plan generation failed, using direct recommendation: %v", err)
			plan = nil
		} else {
			plan = fresh
			e.mu.Lock()
			e.plan = fresh
			e.planKey = key
			e.mu.Unlock()
		}
	}

	if plan != nil {
		if alloc := plan.Allocation(story.ID); alloc != nil {
			return *alloc
		}
	}

	taskType := tasktype.Detect(*story)
	rec := capability.GetRecommendedModel(e.quotas.Models(), taskType, e.mode(), quotas)
	return models.Allocation{
		StoryID:          story.ID,
		TaskType:         taskType,
		RecommendedModel: rec,
		Confidence:       0.5,
	}
}

// planCacheKey fingerprints every input the planner consumes.
func planCacheKey(prd *models.PRD, quotas models.QuotaSnapshot, mode models.ExecutionMode, learningRuns int) string {
	h := sha256.New()
	if raw, err := json.Marshal(prd); err == nil {
		h.Write(raw)
	}
	providers := make([]string, 0, len(quotas))
	for provider := range quotas {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	for _, provider := range providers {
		fmt.Fprintf(h, "%s=%s;", provider, quotas[provider].Status)
	}
	fmt.Fprintf(h, "mode=%s;runs=%d", mode, learningRuns)
	return hex.EncodeToString(h.Sum(nil))
}

// selectCLI maps the provider to a CLI family, then walks the fallback
// chain by health.
func (e *Engine) selectCLI(ctx context.Context, prd *models.PRD, provider string) (string, error) {
	if prd.CLI != "" && !cli.Known(prd.CLI) {
		return "", configErr(fmt.Sprintf("unknown cli %q in PRD", prd.CLI), nil)
	}

	candidate := cli.ForProvider(provider)
	if e.settings != nil && !e.settings.EnableOpenCodeRouting && candidate == cli.OpenCode {
		// Routing through the generic CLI is opt-in; without it the
		// chain starts at the configured preferences.
		candidate = ""
	}

	prefs := cli.Preferences{ProjectCLI: prd.CLI, ProjectFallback: prd.CLIFallbackOrder}
	if e.settings != nil {
		prefs.GlobalCLI = e.settings.PreferredCLI
		prefs.GlobalFallback = e.settings.CLIFallbackOrder
	}

	checker := e.health
	if checker == nil {
		checker = cli.NewHealthChecker()
	}
	selected, err := cli.Select(ctx, checker, candidate, prefs)
	if err != nil {
		return "", envErr("no healthy cli", err)
	}
	return selected, nil
}

// startSession truncates the session log and creates the multiplexer
// session with the command armed.
func (e *Engine) startSession(ctx context.Context, name, logPath, command string) error {
	if e.tmux == nil || !e.tmux.Available() {
		return envErr("terminal multiplexer unavailable", nil)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return persistErr("create log directory", err)
	}
	// The engine owns truncation; the tailer cursor restarts at zero.
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return persistErr("truncate session log", err)
	}
	if err := e.tmux.CreateSession(ctx, name, e.projectDir, logPath); err != nil {
		return envErr("create multiplexer session", err)
	}
	if err := e.tmux.SendCommand(ctx, name, command); err != nil {
		killErr := e.tmux.KillSession(ctx, name)
		if killErr != nil {
			e.log.Warn("cleanup after send failure: %v", killErr)
		}
		return envErr("send command to session", err)
	}
	return nil
}

// buildPrompt picks fresh or resume form.
func (e *Engine) buildPrompt(story *models.UserStory, entry *models.StoryProgress, resume bool) string {
	if resume {
		return buildResumePrompt(story, entry.PassingACs, entry.FailingACs)
	}
	principles := ""
	if e.configRoot != "" {
		loaded, err := config.LoadPrinciples(e.configRoot)
		if err != nil {
			e.log.Warn("load principles: %v", err)
		} else {
			principles = loaded
		}
	}
	return buildStoryPrompt(story, principles)
}

// complexityGate warns and waits when a story smells bigger than its
// declared complexity.
func (e *Engine) complexityGate(story *models.UserStory) {
	var reasons []string
	if words := len(strings.Fields(story.Description)); words > complexityWordThreshold {
		reasons = append(reasons, fmt.Sprintf("description is %d words", words))
	}
	if n := len(story.AcceptanceCriteria.Items); n > complexityACThreshold {
		reasons = append(reasons, fmt.Sprintf("%d acceptance criteria", n))
	}
	corpus := strings.ToLower(story.Title + " " + story.Description)
	for _, kw := range complexityKeywords {
		if strings.Contains(corpus, kw) {
			reasons = append(reasons, fmt.Sprintf("keyword %q", kw))
			break
		}
	}
	if len(reasons) == 0 {
		return
	}
	msg := fmt.Sprintf("story %s looks large (%s); consider splitting it", story.ID, strings.Join(reasons, ", "))
	e.log.Warn("%s", msg)
	e.ring.Append(stream.Record{Type: stream.RecordSystem, Content: msg, At: e.now().UTC()})
	e.sleep(complexityGraceDelay)
}

// statusGate checks the remote API status, refreshing the cached verdict
// when stale, and warns and waits on degraded or outage. A fetch failure is
// never a launch blocker.
func (e *Engine) statusGate() {
	if e.settings == nil {
		return
	}
	cache := e.settings.AnthropicStatusCache
	if cache == nil || e.now().Sub(cache.Timestamp) > statusCacheTTL {
		ctx, cancel := context.WithTimeout(context.Background(), statusFetchTimeout)
		defer cancel()
		status, err := e.fetchStatus(ctx)
		if err != nil {
			e.log.Warn("status check failed, proceeding: %v", err)
			return
		}
		cache = &config.StatusCache{Status: status, Timestamp: e.now().UTC()}
		e.settings.AnthropicStatusCache = cache
		if e.configRoot != "" {
			if err := e.settings.Save(e.configRoot); err != nil {
				e.log.Warn("persist status cache: %v", err)
			}
		}
	}
	status := strings.ToLower(cache.Status)
	if status != "degraded" && status != "outage" {
		return
	}
	msg := fmt.Sprintf("provider status is %s; proceeding after a short delay", status)
	e.log.Warn("%s", msg)
	e.ring.Append(stream.Record{Type: stream.RecordSystem, Content: msg, At: e.now().UTC()})
	e.sleep(apiStatusGraceDelay)
}

// onStreamLine feeds one raw session-log line through the parser and
// publishes resulting records.
func (e *Engine) onStreamLine(line string) {
	e.mu.Lock()
	records := e.parser.Feed(line)
	activity := e.parser.Activity()
	storyID := e.storyID
	e.mu.Unlock()

	if len(records) == 0 {
		return
	}
	e.ring.Append(records...)
	for _, rec := range records {
		if rec.Type == stream.RecordSystem {
			e.log.Debug("stream anomaly: %s", rec.Content)
		}
		e.bus.Emit(bus.StoryProgress{StoryID: storyID, Message: rec.Content, Activity: activity})
	}
}

// onSessionComplete fires from the tailer when the completion marker
// appears. Verification runs on its own goroutine so the tailer can wind
// down.
func (e *Engine) onSessionComplete(exitCode int) {
	go e.VerifyAndContinue(context.Background(), exitCode)
}

// VerifyAndContinue is the end-of-session path: evaluate criteria, persist
// results, record cost and learning, then advance, retry, or skip.
func (e *Engine) VerifyAndContinue(ctx context.Context, exitCode int) {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StateExternal {
		e.mu.Unlock()
		return
	}
	storyID := e.storyID
	sessionName := e.sessionName
	duration := e.now().Sub(e.launchedAt)
	resumed := e.resumed
	modelID := e.modelID
	provider := e.provider
	taskType := e.taskType
	complexity := e.complexity
	storyTitle := e.storyTitle
	activity := e.parser.Activity()
	sessionID := e.parser.SessionID()
	t := e.tailer
	e.tailer = nil
	e.removePromptFile()
	e.mu.Unlock()

	if t != nil {
		t.halt()
	}

	e.log.Info("session for %s ended after %s (exit %d)", storyID, duration.Round(time.Second), exitCode)

	progress, err := models.LoadProgress(e.progressPath())
	if err != nil {
		e.log.Error("load progress: %v", err)
		progress = &models.ExecutionProgress{StartedAt: e.now().UTC()}
	}
	entry := progress.Story(storyID)

	// A resume that dies almost immediately means the stored session is
	// unusable; forget it so the next attempt starts fresh.
	if resumed && duration < quickSessionThreshold {
		e.log.Warn("resumed session ended in %s; clearing stored session id", duration.Round(time.Second))
		entry.SessionID = ""
		sessionID = ""
	}

	prd, err := models.LoadPRD(e.prdPath())
	if err != nil {
		e.log.Error("load PRD for verification: %v", err)
		e.toIdle()
		return
	}
	story := prd.Story(storyID)
	if story == nil {
		e.log.Error("story %s vanished from PRD", storyID)
		e.toIdle()
		return
	}

	v := e.evaluateStory(ctx, story, exitCode == 0)
	if v.RunnerBroken {
		e.killSession(ctx, sessionName)
		e.toIdle()
		return
	}

	if err := prd.Save(e.prdPath()); err != nil {
		e.log.Error("persist PRD after verification: %v", err)
	}
	if prd.AllPassing() {
		if _, err := archivePRD(e.projectDir, e.now()); err != nil {
			e.log.Error("archive completed PRD: %v", err)
		}
	}

	inTok, outTok := activity.Metrics.TotalInputTokens, activity.Metrics.TotalOutputTokens
	if inTok == 0 && outTok == 0 {
		inTok, outTok = extractTokenUsage(e.sessionLogPath())
	}
	actualCost := activity.Metrics.CostUSD
	if actualCost == 0 && (inTok > 0 || outTok > 0) {
		if est, err := e.quotas.EstimateCost(modelID, inTok, outTok); err == nil {
			actualCost = est
		}
	}

	success := v.AllPass()
	if e.costs != nil {
		if err := e.costs.EndStory(storyID, actualCost, inTok, outTok, success); err != nil {
			e.log.Error("finalize cost record: %v", err)
		}
	}
	if e.learning != nil {
		rate := 0.0
		if v.Total > 0 {
			rate = float64(v.Passed) / float64(v.Total)
		}
		record := models.ModelPerformanceRecord{
			Project:         prd.Project,
			StoryID:         storyID,
			StoryTitle:      storyTitle,
			TaskType:        taskType,
			Complexity:      complexity,
			Provider:        provider,
			ModelID:         modelID,
			DurationMinutes: duration.Minutes(),
			InputTokens:     inTok,
			OutputTokens:    outTok,
			TotalTokens:     inTok + outTok,
			CostUSD:         actualCost,
			Success:         success,
			RetryCount:      e.retryCount(storyID),
			ACTotal:         v.Total,
			ACPassed:        v.Passed,
			ACPassRate:      rate,
			Timestamp:       e.now().UTC(),
		}
		if err := e.learning.RecordRun(record); err != nil {
			e.log.Error("record learning run: %v", err)
		}
	}

	if success {
		e.finishStory(ctx, prd, story, progress, entry, v, actualCost, sessionName)
		return
	}
	e.retryOrSkip(ctx, prd, story, progress, entry, v, sessionID, sessionName)
}

// finishStory handles the all-pass branch: clear counters, persist, kill
// the session, and move on.
func (e *Engine) finishStory(ctx context.Context, prd *models.PRD, story *models.UserStory,
	progress *models.ExecutionProgress, entry *models.StoryProgress, v verification,
	costUSD float64, sessionName string) {

	e.mu.Lock()
	delete(e.iterations, story.ID)
	delete(e.retries, story.ID)
	e.mu.Unlock()

	entry.Passed = true
	entry.Paused = false
	entry.SessionID = ""
	entry.PassingACs = v.PassingACs
	entry.FailingACs = nil
	if err := progress.Save(e.progressPath()); err != nil {
		e.log.Error("save progress: %v", err)
	}

	e.killSession(ctx, sessionName)
	e.bus.Emit(bus.StoryCompleted{
		StoryID:  story.ID,
		Success:  true,
		ACPassed: v.Passed,
		ACTotal:  v.Total,
		CostUSD:  costUSD,
	})

	if prd.AllPassing() {
		e.toIdle()
		e.emitComplete(prd)
		return
	}

	e.toIdle()
	e.sleep(interStoryDelay)
	if err := e.launch(ctx, "", RunOptions{}); err != nil {
		e.log.Error("launch next story: %v", err)
	}
}

// retryOrSkip handles the failing branch: either pause for a resumed retry
// or mark the story skipped and advance.
func (e *Engine) retryOrSkip(ctx context.Context, prd *models.PRD, story *models.UserStory,
	progress *models.ExecutionProgress, entry *models.StoryProgress, v verification,
	sessionID, sessionName string) {

	e.mu.Lock()
	e.retries[story.ID]++
	retryCount := e.retries[story.ID]
	iterations := e.iterations[story.ID]
	e.mu.Unlock()

	reasons := make([]string, 0, len(v.FailingACs))
	for _, id := range v.FailingACs {
		reasons = append(reasons, fmt.Sprintf("AC %s failed", id))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "session ended without passing criteria")
	}

	entry.Passed = false
	entry.Paused = true
	entry.SessionID = sessionID
	entry.PassingACs = v.PassingACs
	entry.FailingACs = v.FailingACs
	entry.FailureReasons = append(entry.FailureReasons, reasons...)
	if err := progress.Save(e.progressPath()); err != nil {
		e.log.Error("save progress: %v", err)
	}

	if retryCount >= MaxRetriesPerStory || iterations >= MaxIterations {
		e.bus.Emit(bus.StoryFailed{
			StoryID:    story.ID,
			RetryCount: retryCount,
			Skipped:    true,
			Reasons:    reasons,
		})
		e.killSession(ctx, sessionName)
		if err := e.skipStory(ctx, prd, story, "retry limit reached"); err != nil {
			e.log.Error("skip story: %v", err)
		}
		return
	}

	e.log.Info("story %s failed (retry %d/%d); relaunching", story.ID, retryCount, MaxRetriesPerStory)
	e.bus.Emit(bus.StoryFailed{StoryID: story.ID, RetryCount: retryCount, Reasons: reasons})

	e.mu.Lock()
	e.state = StatePaused
	e.mu.Unlock()

	e.sleep(retryDelay)
	if err := e.launch(ctx, story.ID, RunOptions{SkipComplexityGate: true}); err != nil {
		e.log.Error("relaunch story %s: %v", story.ID, err)
	}
}

// skipStory marks the story skipped in the PRD and advances to the next.
func (e *Engine) skipStory(ctx context.Context, prd *models.PRD, story *models.UserStory, reason string) error {
	e.log.Warn("skipping story %s: %s", story.ID, reason)
	story.Skipped = true
	if err := prd.Save(e.prdPath()); err != nil {
		return persistErr("persist skipped story", err)
	}

	e.mu.Lock()
	delete(e.iterations, story.ID)
	delete(e.retries, story.ID)
	e.mu.Unlock()
	e.toIdle()

	if prd.NextStory() == nil {
		e.emitComplete(prd)
		return nil
	}
	e.sleep(interStoryDelay)
	return e.launch(ctx, "", RunOptions{})
}

// monitorLoop verifies session liveness at a fixed cadence, adopts external
// sessions, and force-resets a stuck stopping state.
func (e *Engine) monitorLoop() {
	defer close(e.monitorDone)
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.monitorStop:
			return
		case <-ticker.C:
			e.monitorTick()
		}
	}
}

func (e *Engine) monitorTick() {
	e.mu.Lock()
	state := e.state
	sessionName := e.sessionName
	storyID := e.storyID
	activity := e.parser.Activity()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), monitorInterval)
	defer cancel()

	switch state {
	case StateStopping:
		e.mu.Lock()
		e.stoppingTicks++
		stuck := e.stoppingTicks >= stoppingWatchdogTicks
		if stuck {
			e.state = StateIdle
			e.stoppingTicks = 0
		}
		e.mu.Unlock()
		if stuck {
			e.log.Warn("state stuck in stopping; forced reset to idle")
		}

	case StateRunning:
		if e.tmux != nil && !e.tmux.HasSession(ctx, sessionName) {
			// Session vanished without the completion marker.
			e.log.Warn("session %s disappeared; running verification", sessionName)
			go e.VerifyAndContinue(context.Background(), 1)
		}

	case StateIdle:
		if e.tmux == nil {
			break
		}
		names, err := e.tmux.ListSessions(ctx)
		if err == nil && len(names) > 0 {
			e.adoptExternal(names[0])
		}

	case StateExternal:
		if e.tmux != nil && !e.tmux.HasSession(ctx, sessionName) {
			e.mu.Lock()
			t := e.tailer
			e.tailer = nil
			e.state = StateIdle
			e.sessionName = ""
			e.mu.Unlock()
			if t != nil {
				t.halt()
			}
			e.log.Info("external session ended")
		}

	case StatePaused:
		// Paused sessions were killed deliberately; no liveness checks.
	}

	e.bus.Emit(bus.StateSnapshot{State: string(state), StoryID: storyID, Activity: activity})
}

// adoptExternal attaches the tailer to a session this engine did not start.
func (e *Engine) adoptExternal(name string) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	e.state = StateExternal
	e.sessionName = name
	e.parser = stream.NewParser()
	e.ring.Reset()
	t := newTailer(e.sessionLogPath(), e.onStreamLine, e.onSessionComplete, e.log)
	e.tailer = t
	e.mu.Unlock()
	t.start()
	e.log.Info("adopted external session %s", name)
}

// criteriaStatus reads the current per-criterion pass flags for a story.
func (e *Engine) criteriaStatus(storyID string) (passing, failing []string) {
	prd, err := models.LoadPRD(e.prdPath())
	if err != nil {
		return nil, nil
	}
	story := prd.Story(storyID)
	if story == nil || story.AcceptanceCriteria.Freeform() {
		return nil, nil
	}
	for _, ac := range story.AcceptanceCriteria.Items {
		if ac.Passes {
			passing = append(passing, ac.ID)
		} else {
			failing = append(failing, ac.ID)
		}
	}
	return passing, failing
}

func (e *Engine) persistPaused(storyID, sessionID string, passing, failing []string) error {
	progress, err := models.LoadProgress(e.progressPath())
	if err != nil {
		return err
	}
	entry := progress.Story(storyID)
	entry.Paused = true
	entry.SessionID = sessionID
	entry.PassingACs = passing
	entry.FailingACs = failing
	return progress.Save(e.progressPath())
}

func (e *Engine) emitComplete(prd *models.PRD) {
	passed := 0
	for _, s := range prd.UserStories {
		if s.Passes {
			passed++
		}
	}
	e.log.Info("execution complete: %d/%d stories passing", passed, len(prd.UserStories))
	e.bus.Emit(bus.ExecutionComplete{
		Project:       prd.Project,
		StoriesPassed: passed,
		StoriesTotal:  len(prd.UserStories),
	})
}

func (e *Engine) killSession(ctx context.Context, name string) {
	if e.tmux == nil || name == "" {
		return
	}
	if err := e.tmux.KillSession(ctx, name); err != nil {
		e.log.Warn("kill session %s: %v", name, err)
	}
}

func (e *Engine) toIdle() {
	e.mu.Lock()
	e.state = StateIdle
	e.stoppingTicks = 0
	t := e.tailer
	e.tailer = nil
	e.removePromptFile()
	e.mu.Unlock()
	if t != nil {
		go t.halt()
	}
}

// removePromptFile deletes the temporary prompt file. Caller holds e.mu.
func (e *Engine) removePromptFile() {
	if e.promptFile != "" {
		os.Remove(e.promptFile)
		e.promptFile = ""
	}
}

func (e *Engine) retryCount(storyID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries[storyID]
}

func (e *Engine) mode() models.ExecutionMode {
	if e.settings != nil {
		return e.settings.Mode()
	}
	return models.ModeBalanced
}

func (e *Engine) prdPath() string {
	return filepath.Join(e.projectDir, models.PRDFileName)
}

func (e *Engine) progressPath() string {
	return filepath.Join(e.projectDir, models.ProgressFileName)
}

func (e *Engine) sessionLogPath() string {
	return filepath.Join(e.projectDir, "logs", SessionLogFileName)
}
