// Package tasktype classifies a user story into one of fourteen task types.
// Classification is keyword based: each type carries a keyword list, matches
// are word-boundary exact, and occurrences in the story title count three
// times as much as occurrences in the description or acceptance criteria.
package tasktype

import (
	"regexp"
	"strings"

	"github.com/harrison/ralph-ultra/internal/models"
)

// Task type tags. The declared order doubles as the tie-breaker: when two
// types score equally the one listed first wins.
const (
	ComplexIntegration = "complex-integration"
	Mathematical       = "mathematical"
	BackendAPI         = "backend-api"
	BackendLogic       = "backend-logic"
	FrontendUI         = "frontend-ui"
	FrontendLogic      = "frontend-logic"
	Database           = "database"
	Testing            = "testing"
	Documentation      = "documentation"
	Refactoring        = "refactoring"
	Bugfix             = "bugfix"
	DevOps             = "devops"
	Config             = "config"
	Unknown            = "unknown"
)

// All lists every task type in declared (tie-break) order.
var All = []string{
	ComplexIntegration,
	Mathematical,
	BackendAPI,
	BackendLogic,
	FrontendUI,
	FrontendLogic,
	Database,
	Testing,
	Documentation,
	Refactoring,
	Bugfix,
	DevOps,
	Config,
	Unknown,
}

// keywords maps each scored task type to its keyword list. Multi-word entries
// match as exact phrases.
var keywords = map[string][]string{
	ComplexIntegration: {
		"integration", "integrate", "orchestration", "orchestrate",
		"webhook", "workflow", "pipeline", "end-to-end", "third-party",
	},
	Mathematical: {
		"algorithm", "calculation", "calculate", "compute", "formula",
		"statistics", "optimization", "matrix", "probability", "numeric",
	},
	BackendAPI: {
		"api", "endpoint", "rest", "graphql", "route", "handler",
		"service", "http", "grpc", "request",
	},
	BackendLogic: {
		"business logic", "validation", "processing", "worker", "queue",
		"scheduler", "backend", "server", "cron", "job",
	},
	FrontendUI: {
		"ui", "layout", "css", "styling", "component", "button", "modal",
		"page", "screen", "responsive",
	},
	FrontendLogic: {
		"state management", "form", "client-side", "frontend", "browser",
		"react", "hook", "rendering", "event handler",
	},
	Database: {
		"database", "schema", "sql", "query", "table", "index",
		"migration", "postgres", "sqlite", "orm",
	},
	Testing: {
		"test", "tests", "testing", "coverage", "unit test", "e2e",
		"assertion", "mock", "fixture",
	},
	Documentation: {
		"documentation", "docs", "readme", "changelog", "guide",
		"document", "comment",
	},
	Refactoring: {
		"refactor", "refactoring", "cleanup", "simplify", "restructure",
		"rename", "extract", "decouple",
	},
	Bugfix: {
		"bug", "fix", "bugfix", "crash", "broken", "regression",
		"incorrect", "defect",
	},
	DevOps: {
		"deploy", "deployment", "docker", "ci", "cd", "kubernetes",
		"infrastructure", "container", "release", "terraform",
	},
	Config: {
		"config", "configuration", "settings", "option", "flag",
		"environment variable", "env var",
	},
}

// titleWeight is how much more a title match counts than a body match.
const titleWeight = 3

var patternCache = buildPatternCache()

func buildPatternCache() map[string]*regexp.Regexp {
	cache := make(map[string]*regexp.Regexp)
	for _, list := range keywords {
		for _, kw := range list {
			if _, ok := cache[kw]; ok {
				continue
			}
			cache[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	return cache
}

// Detect classifies the story. The highest keyword score wins; ties break by
// declared order; a zero maximum yields Unknown.
func Detect(story models.UserStory) string {
	title := strings.ToLower(story.Title)

	var body strings.Builder
	body.WriteString(strings.ToLower(story.Description))
	for _, c := range story.AcceptanceCriteria.Items {
		body.WriteString(" ")
		body.WriteString(strings.ToLower(c.Text))
	}
	bodyText := body.String()

	best := Unknown
	bestScore := 0
	for _, taskType := range All {
		list, ok := keywords[taskType]
		if !ok {
			continue
		}

		score := 0
		for _, kw := range list {
			re := patternCache[kw]
			score += titleWeight * len(re.FindAllStringIndex(title, -1))
			score += len(re.FindAllStringIndex(bodyText, -1))
		}

		// Strict greater-than keeps the declared order as tie-breaker.
		if score > bestScore {
			bestScore = score
			best = taskType
		}
	}

	if bestScore == 0 {
		return Unknown
	}
	return best
}

// Keywords returns the keyword list for a task type. Exposed for the plan
// preview command.
func Keywords(taskType string) []string {
	list := keywords[taskType]
	out := make([]string, len(list))
	copy(out, list)
	return out
}
