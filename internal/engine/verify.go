package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/harrison/ralph-ultra/internal/models"
)

// acTestTimeout bounds each acceptance criterion's test command.
const acTestTimeout = 30 * time.Second

// testRunner executes one AC test command in the project directory.
// Swapped in tests.
type testRunner func(ctx context.Context, dir, command string) error

func shellTestRunner(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	return cmd.Run()
}

// verification is the outcome of evaluating one story's criteria.
type verification struct {
	PassingACs []string
	FailingACs []string
	Total      int
	Passed     int
	// RunnerBroken marks the test environment itself as inaccessible, as
	// opposed to tests that ran and failed.
	RunnerBroken bool
}

// AllPass reports a fully green verification.
func (v verification) AllPass() bool { return v.Passed == v.Total }

// evaluateStory runs each typed criterion's test command with a hard
// timeout and mutates the criteria in place (passes, lastRun). String-form
// criteria carry no commands and pass on a clean session end.
func (e *Engine) evaluateStory(ctx context.Context, story *models.UserStory, sessionClean bool) verification {
	now := e.now().UTC()

	if story.AcceptanceCriteria.Freeform() {
		n := len(story.AcceptanceCriteria.Items)
		if sessionClean {
			story.Passes = true
			return verification{Total: n, Passed: n}
		}
		return verification{Total: n}
	}

	var v verification
	for i := range story.AcceptanceCriteria.Items {
		ac := &story.AcceptanceCriteria.Items[i]
		v.Total++

		if ac.TestCommand == "" {
			ac.Passes = true
			ac.LastRun = &now
			v.Passed++
			v.PassingACs = append(v.PassingACs, ac.ID)
			continue
		}

		testCtx, cancel := context.WithTimeout(ctx, acTestTimeout)
		start := e.now()
		err := e.runTest(testCtx, e.projectDir, ac.TestCommand)
		cancel()

		if err != nil && runnerInaccessible(err) {
			v.RunnerBroken = true
			e.log.Warn("test runner inaccessible for %s: %v", ac.ID, err)
			return v
		}

		ac.Passes = err == nil
		ac.LastRun = &now
		if ac.Passes {
			v.Passed++
			v.PassingACs = append(v.PassingACs, ac.ID)
			e.log.Debug("AC %s passed in %s", ac.ID, e.now().Sub(start).Round(time.Millisecond))
		} else {
			v.FailingACs = append(v.FailingACs, ac.ID)
			e.log.Info("AC %s failed (%v)", ac.ID, err)
		}
	}

	story.RecomputePasses()
	return v
}

// runnerInaccessible distinguishes "the command could not be started at
// all" from an ordinary failing test.
func runnerInaccessible(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return true
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission)
}

// Session-log token patterns, most specific first.
var (
	inputTokensRe  = regexp.MustCompile(`"input_tokens"\s*:\s*(\d+)`)
	outputTokensRe = regexp.MustCompile(`"output_tokens"\s*:\s*(\d+)`)
	totalTokensRe  = regexp.MustCompile(`(?i)total[_ ]tokens\D{0,5}(\d+)`)
)

// extractTokenUsage pulls token counts out of the raw session log. Explicit
// input/output counts win; a bare total is apportioned 33/67 input/output;
// anything else yields zeros.
func extractTokenUsage(logPath string) (inputTokens, outputTokens int) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0, 0
	}

	inputTokens = sumMatches(inputTokensRe, data)
	outputTokens = sumMatches(outputTokensRe, data)
	if inputTokens > 0 || outputTokens > 0 {
		return inputTokens, outputTokens
	}

	if m := totalTokensRe.FindSubmatch(data); m != nil {
		total, err := strconv.Atoi(string(m[1]))
		if err == nil && total > 0 {
			inputTokens = total / 3
			return inputTokens, total - inputTokens
		}
	}
	return 0, 0
}

func sumMatches(re *regexp.Regexp, data []byte) int {
	sum := 0
	for _, m := range re.FindAllSubmatch(data, -1) {
		n, err := strconv.Atoi(string(m[1]))
		if err == nil {
			sum += n
		}
	}
	return sum
}
