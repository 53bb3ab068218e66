// Package tmux manages the terminal-multiplexer sessions the external CLIs
// run in. All operations shell out to the tmux binary; the engine never
// attaches, it only creates, inspects, feeds, and kills sessions.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// SessionPrefix namespaces every session this tool owns.
const SessionPrefix = "ralph-"

// CompletionMarker is echoed into the session after the CLI command so the
// log tailer can detect a finished run. The shell exit code follows the
// colon.
const CompletionMarker = "__RALPH_SESSION_COMPLETE__"

var invalidSessionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SessionName derives the session name for a branch. tmux forbids '.' and
// ':' in names, so everything outside the safe set collapses to a dash.
func SessionName(branchName string) string {
	sanitized := invalidSessionChars.ReplaceAllString(branchName, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		sanitized = "session"
	}
	return SessionPrefix + sanitized
}

// commandRunner executes a tmux invocation. Swapped in tests.
type commandRunner func(ctx context.Context, args ...string) (string, error)

// Client drives tmux for session lifecycle operations.
type Client struct {
	run commandRunner
}

// NewClient creates a client that executes the real tmux binary.
func NewClient() *Client {
	return &Client{run: execTmux}
}

func execTmux(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Available reports whether the tmux binary can be found.
func (c *Client) Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// HasSession reports whether a session with the given name exists.
func (c *Client) HasSession(ctx context.Context, name string) bool {
	_, err := c.run(ctx, "has-session", "-t", name)
	return err == nil
}

// CreateSession starts a fresh detached session in dir with its output teed
// to logPath. Creation is idempotent: a stale session with the same name is
// killed first.
func (c *Client) CreateSession(ctx context.Context, name, dir, logPath string) error {
	if c.HasSession(ctx, name) {
		if err := c.KillSession(ctx, name); err != nil {
			return fmt.Errorf("replace stale session %s: %w", name, err)
		}
	}
	if _, err := c.run(ctx, "new-session", "-d", "-s", name, "-c", dir); err != nil {
		return err
	}
	// pipe-pane tees everything the CLI prints into the session log; the
	// tailer only ever reads that file.
	if _, err := c.run(ctx, "pipe-pane", "-t", name, "-o", fmt.Sprintf("cat >> %q", logPath)); err != nil {
		killErr := c.KillSession(ctx, name)
		if killErr != nil {
			return fmt.Errorf("pipe-pane failed (%v) and cleanup failed: %w", err, killErr)
		}
		return err
	}
	return nil
}

// KillSession terminates the session. Killing an absent session is not an
// error.
func (c *Client) KillSession(ctx context.Context, name string) error {
	if !c.HasSession(ctx, name) {
		return nil
	}
	_, err := c.run(ctx, "kill-session", "-t", name)
	return err
}

// CompletionEcho is the shell fragment appended to every sent command. The
// marker is split across two adjacent quoted words, so the pane's echo of the
// typed keystrokes never contains the marker contiguously; only the echo's
// own output line does.
func CompletionEcho() string {
	half := len(CompletionMarker) / 2
	return fmt.Sprintf(`echo "%s""%s:$?"`, CompletionMarker[:half], CompletionMarker[half:])
}

// SendCommand types the CLI command into the session followed by the
// completion marker echo so end-of-run is observable in the log.
func (c *Client) SendCommand(ctx context.Context, name, command string) error {
	full := command + "; " + CompletionEcho()
	_, err := c.run(ctx, "send-keys", "-t", name, full, "Enter")
	return err
}

// ListSessions returns the names of all sessions this tool owns, i.e. those
// carrying the session prefix.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits nonzero when no server is running; treat as empty.
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); strings.HasPrefix(line, SessionPrefix) {
			names = append(names, line)
		}
	}
	return names, nil
}
