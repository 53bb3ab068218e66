package tmux

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionName(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		want   string
	}{
		{name: "plain branch", branch: "main", want: "ralph-main"},
		{name: "slash collapses to dash", branch: "feature/todo-app", want: "ralph-feature-todo-app"},
		{name: "dots and colons collapse", branch: "release:v1.2.3", want: "ralph-release-v1-2-3"},
		{name: "runs of invalid chars collapse once", branch: "a//b..c", want: "ralph-a-b-c"},
		{name: "leading and trailing dashes trimmed", branch: "///weird///", want: "ralph-weird"},
		{name: "empty branch falls back", branch: "", want: "ralph-session"},
		{name: "all-invalid branch falls back", branch: "...", want: "ralph-session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionName(tt.branch))
		})
	}
}

// fakeTmux scripts the tmux binary: it records every invocation and tracks
// which sessions exist.
type fakeTmux struct {
	calls    [][]string
	sessions map[string]bool
	failOn   string
}

func newFakeTmux(existing ...string) *fakeTmux {
	f := &fakeTmux{sessions: make(map[string]bool)}
	for _, name := range existing {
		f.sessions[name] = true
	}
	return f
}

func (f *fakeTmux) run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.failOn != "" && args[0] == f.failOn {
		return "", errors.New("tmux " + args[0] + ": scripted failure")
	}

	switch args[0] {
	case "has-session":
		if f.sessions[args[2]] {
			return "", nil
		}
		return "", errors.New("no such session")
	case "new-session":
		f.sessions[args[3]] = true
		return "", nil
	case "kill-session":
		delete(f.sessions, args[2])
		return "", nil
	case "list-sessions":
		var names []string
		for name := range f.sessions {
			names = append(names, name)
		}
		return strings.Join(names, "\n"), nil
	}
	return "", nil
}

func (f *fakeTmux) invocations(subcommand string) [][]string {
	var out [][]string
	for _, call := range f.calls {
		if call[0] == subcommand {
			out = append(out, call)
		}
	}
	return out
}

func TestCreateSession(t *testing.T) {
	fake := newFakeTmux()
	c := &Client{run: fake.run}

	err := c.CreateSession(context.Background(), "ralph-main", "/work/dir", "/work/dir/logs/session.log")
	require.NoError(t, err)
	assert.True(t, fake.sessions["ralph-main"])

	created := fake.invocations("new-session")
	require.Len(t, created, 1)
	assert.Equal(t, []string{"new-session", "-d", "-s", "ralph-main", "-c", "/work/dir"}, created[0])

	piped := fake.invocations("pipe-pane")
	require.Len(t, piped, 1)
	assert.Equal(t, "ralph-main", piped[0][2])
	assert.Contains(t, piped[0][4], "/work/dir/logs/session.log")
}

func TestCreateSessionReplacesStale(t *testing.T) {
	fake := newFakeTmux("ralph-main")
	c := &Client{run: fake.run}

	err := c.CreateSession(context.Background(), "ralph-main", "/work/dir", "/tmp/log")
	require.NoError(t, err)
	require.Len(t, fake.invocations("kill-session"), 1)
	require.Len(t, fake.invocations("new-session"), 1)
	assert.True(t, fake.sessions["ralph-main"])
}

func TestCreateSessionPipeFailureCleansUp(t *testing.T) {
	fake := newFakeTmux()
	fake.failOn = "pipe-pane"
	c := &Client{run: fake.run}

	err := c.CreateSession(context.Background(), "ralph-main", "/work/dir", "/tmp/log")
	require.Error(t, err)
	assert.False(t, fake.sessions["ralph-main"])
}

func TestKillSessionAbsentIsNoop(t *testing.T) {
	fake := newFakeTmux()
	c := &Client{run: fake.run}

	require.NoError(t, c.KillSession(context.Background(), "ralph-gone"))
	assert.Empty(t, fake.invocations("kill-session"))
}

func TestSendCommandAppendsMarker(t *testing.T) {
	fake := newFakeTmux("ralph-main")
	c := &Client{run: fake.run}

	require.NoError(t, c.SendCommand(context.Background(), "ralph-main", `claude -p "$(cat /tmp/p.md)"`))

	sent := fake.invocations("send-keys")
	require.Len(t, sent, 1)
	call := sent[0]
	assert.Equal(t, "ralph-main", call[2])
	assert.Equal(t, `claude -p "$(cat /tmp/p.md)"; `+CompletionEcho(), call[3])
	// The typed keystrokes never contain the marker contiguously; it only
	// materializes when the shell concatenates the echo's two words.
	assert.NotContains(t, call[3], CompletionMarker)
	assert.Contains(t, call[3], `:$?`)
	assert.Equal(t, "Enter", call[4])
}

func TestCompletionEchoSplitsMarker(t *testing.T) {
	echo := CompletionEcho()
	assert.NotContains(t, echo, CompletionMarker)
	assert.Equal(t, `echo "__RALPH_SESSI""ON_COMPLETE__:$?"`, echo)
}

func TestHasSession(t *testing.T) {
	fake := newFakeTmux("ralph-main")
	c := &Client{run: fake.run}

	assert.True(t, c.HasSession(context.Background(), "ralph-main"))
	assert.False(t, c.HasSession(context.Background(), "ralph-other"))
}

func TestListSessionsFiltersPrefix(t *testing.T) {
	fake := newFakeTmux("ralph-main", "ralph-feature-x", "someone-elses")
	c := &Client{run: fake.run}

	names, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ralph-main", "ralph-feature-x"}, names)
}

func TestListSessionsNoServer(t *testing.T) {
	fake := newFakeTmux()
	fake.failOn = "list-sessions"
	c := &Client{run: fake.run}

	names, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Nil(t, names)
}
