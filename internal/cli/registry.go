// Package cli models the supported external coding CLIs: which executables
// exist, how to build launch commands for them, and which of them are
// currently healthy.
package cli

import (
	"fmt"
	"strings"

	"github.com/harrison/ralph-ultra/internal/models"
)

// Supported CLI identifiers.
const (
	Claude   = "claude"
	OpenCode = "opencode"
	Codex    = "codex"
	Gemini   = "gemini"
	Aider    = "aider"
	Cody     = "cody"
)

// BuiltinOrder is the canonical fallback scan order, consulted after all
// configured fallback lists are exhausted.
var BuiltinOrder = []string{Claude, OpenCode, Codex, Gemini, Aider, Cody}

// Known reports whether id names a supported CLI.
func Known(id string) bool {
	switch id {
	case Claude, OpenCode, Codex, Gemini, Aider, Cody:
		return true
	}
	return false
}

// LaunchSpec is everything command construction needs for one session.
type LaunchSpec struct {
	CLI         string
	ModelID     string
	Provider    string
	PromptPath  string
	ResumeToken string
}

// BuildCommand renders the shell command sent into the multiplexer session.
// The prompt travels by file reference via command substitution, never
// inline, so arbitrarily large prompts survive the keystroke path.
func BuildCommand(spec LaunchSpec) (string, error) {
	if !Known(spec.CLI) {
		return "", fmt.Errorf("unknown cli %q", spec.CLI)
	}
	if spec.PromptPath == "" {
		return "", fmt.Errorf("prompt path required")
	}

	prompt := fmt.Sprintf(`"$(cat %s)"`, shellQuotePath(spec.PromptPath))

	switch spec.CLI {
	case Claude:
		parts := []string{
			"claude", "-p", prompt,
			"--output-format", "stream-json",
			"--verbose",
			"--dangerously-skip-permissions",
		}
		if flag := AnthropicModelFlag(spec.ModelID); flag != "" {
			parts = append(parts, "--model", flag)
		}
		if spec.ResumeToken != "" {
			parts = append(parts, "--resume", spec.ResumeToken)
		}
		return strings.Join(parts, " "), nil

	case OpenCode:
		parts := []string{"opencode", "run", prompt}
		if spec.ModelID != "" {
			parts = append(parts, "--model", PrefixedModel(spec.Provider, spec.ModelID))
		}
		if spec.ResumeToken != "" {
			parts = append(parts, "--session", spec.ResumeToken)
		}
		return strings.Join(parts, " "), nil

	case Codex:
		parts := []string{"codex", "exec", prompt, "--json", "--full-auto"}
		if spec.ModelID != "" {
			parts = append(parts, "--model", spec.ModelID)
		}
		return strings.Join(parts, " "), nil

	case Gemini:
		parts := []string{"gemini", "--prompt", prompt, "--yolo"}
		if spec.ModelID != "" {
			parts = append(parts, "--model", spec.ModelID)
		}
		return strings.Join(parts, " "), nil

	case Aider:
		parts := []string{"aider", "--message", prompt, "--yes-always", "--no-pretty"}
		if spec.ModelID != "" {
			parts = append(parts, "--model", PrefixedModel(spec.Provider, spec.ModelID))
		}
		return strings.Join(parts, " "), nil

	case Cody:
		parts := []string{"cody", "chat", "-m", prompt}
		if spec.ModelID != "" {
			parts = append(parts, "--model", spec.ModelID)
		}
		return strings.Join(parts, " "), nil
	}
	return "", fmt.Errorf("unknown cli %q", spec.CLI)
}

// SupportsResume reports whether the CLI accepts a session resume token.
func SupportsResume(id string) bool {
	return id == Claude || id == OpenCode
}

// ForProvider maps a model's provider to the preferred CLI family: the
// Anthropic-family CLI for Anthropic models, the generic CLI otherwise.
func ForProvider(provider string) string {
	if provider == models.ProviderAnthropic {
		return Claude
	}
	return OpenCode
}

// AnthropicModelFlag derives the short model alias the Anthropic-family CLI
// accepts ("opus", "sonnet", "haiku") from a full model id.
func AnthropicModelFlag(modelID string) string {
	lower := strings.ToLower(modelID)
	for _, class := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lower, class) {
			return class
		}
	}
	return ""
}

// PrefixedModel renders the provider-qualified model string generic CLIs
// expect, e.g. "anthropic/claude-sonnet-4-5".
func PrefixedModel(provider, modelID string) string {
	if provider == "" || strings.Contains(modelID, "/") {
		return modelID
	}
	return provider + "/" + modelID
}

// shellQuotePath single-quotes a path for safe interpolation inside the
// command-substitution prompt reference.
func shellQuotePath(path string) string {
	if !strings.ContainsAny(path, " \t'\"$`\\") {
		return path
	}
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
