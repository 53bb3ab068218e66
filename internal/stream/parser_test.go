package stream

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(p *Parser, lines ...string) []Record {
	var out []Record
	for _, line := range lines {
		out = append(out, p.Feed(line)...)
	}
	return out
}

func recordsOfType(records []Record, kind string) []Record {
	var out []Record
	for _, r := range records {
		if r.Type == kind {
			out = append(out, r)
		}
	}
	return out
}

func TestFeedBlankLine(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.Feed(""))
	assert.Nil(t, p.Feed("   "))
}

func TestFeedMalformedLine(t *testing.T) {
	p := NewParser()
	records := p.Feed("{definitely not json")
	require.Len(t, records, 1)
	assert.Equal(t, RecordSystem, records[0].Type)
	assert.Contains(t, records[0].Content, "unparsable stream line")
}

func TestFeedUnknownEventTypeIgnored(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.Feed(`{"type":"ping"}`))
}

func TestTextDeltasFlushLineGranular(t *testing.T) {
	p := NewParser()
	records := feedAll(p,
		`{"type":"message_start","message":{"model":"claude-sonnet-4-5"}}`,
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"first li"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"ne\nsecond"}}`,
	)
	texts := recordsOfType(records, RecordText)
	require.Len(t, texts, 1)
	assert.Equal(t, "first line", texts[0].Content)

	// The trailing partial line flushes at block stop.
	records = p.Feed(`{"type":"content_block_stop"}`)
	texts = recordsOfType(records, RecordText)
	require.Len(t, texts, 1)
	assert.Equal(t, "second", texts[0].Content)
	assert.False(t, p.Activity().IsThinking)
}

func TestThinkingStateTracksTextBlocks(t *testing.T) {
	p := NewParser()
	p.Feed(`{"type":"content_block_start","content_block":{"type":"text"}}`)
	assert.True(t, p.Activity().IsThinking)

	p.Feed(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"working on the parser"}}`)
	assert.Equal(t, "working on the parser", p.Activity().LastThinkingSnippet)

	p.Feed(`{"type":"content_block_stop"}`)
	assert.False(t, p.Activity().IsThinking)
}

func TestToolUseBlock(t *testing.T) {
	p := NewParser()
	records := feedAll(p,
		`{"type":"content_block_start","content_block":{"type":"tool_use","name":"Edit"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"file_path\":"}}`,
		`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"\"/home/x/project/main.go\"}"}}`,
		`{"type":"content_block_stop"}`,
	)
	tools := recordsOfType(records, RecordToolStart)
	require.Len(t, tools, 1)
	assert.Equal(t, "Edit", tools[0].Tool)
	assert.Equal(t, "Edit: project/main.go", tools[0].Content)

	activity := p.Activity()
	assert.Equal(t, "Edit", activity.CurrentTool)
	assert.Equal(t, "project/main.go", activity.CurrentToolInputSummary)
	assert.Equal(t, 1, activity.Metrics.ToolCallCount)
	require.Len(t, activity.RecentTools, 1)
}

func TestAssistantFallback(t *testing.T) {
	p := NewParser()
	records := p.Feed(`{"type":"assistant","message":{"model":"claude-haiku-3-5","content":[` +
		`{"type":"text","text":"done with the handler"},` +
		`{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`)
	require.Len(t, records, 2)
	assert.Equal(t, RecordText, records[0].Type)
	assert.Equal(t, "done with the handler", records[0].Content)
	assert.Equal(t, RecordToolStart, records[1].Type)
	assert.Equal(t, "Bash: go test ./...", records[1].Content)
	assert.Equal(t, "claude-haiku-3-5", p.Activity().Metrics.Model)
}

func TestAssistantIgnoredAfterDeltas(t *testing.T) {
	p := NewParser()
	feedAll(p,
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"streamed"}}`,
	)
	records := p.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":"duplicate"}]}}`)
	assert.Nil(t, records)
}

func TestMessageStartResetsDeltaGate(t *testing.T) {
	p := NewParser()
	feedAll(p,
		`{"type":"content_block_start","content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"streamed"}}`,
		`{"type":"content_block_stop"}`,
		`{"type":"message_start","message":{}}`,
	)
	records := p.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":"fresh turn"}]}}`)
	require.Len(t, records, 1)
	assert.Equal(t, "fresh turn", records[0].Content)
}

func TestResultAccumulatesUsage(t *testing.T) {
	p := NewParser()
	records := feedAll(p,
		`{"type":"result","model":"claude-sonnet-4-5","result":"all criteria pass","usage":{"input_tokens":1000000,"output_tokens":1000000,"cache_read_input_tokens":500,"cache_creation_input_tokens":100}}`,
	)
	results := recordsOfType(records, RecordResult)
	require.Len(t, results, 1)
	assert.Equal(t, "all criteria pass", results[0].Content)

	m := p.Activity().Metrics
	assert.Equal(t, "claude-sonnet-4-5", m.Model)
	assert.Equal(t, 1000000, m.TotalInputTokens)
	assert.Equal(t, 1000000, m.TotalOutputTokens)
	assert.Equal(t, 500, m.CacheReadTokens)
	assert.Equal(t, 100, m.CacheCreationTokens)
	// Sonnet-class rates: 3 in, 15 out per million.
	assert.InDelta(t, 18.0, m.CostUSD, 1e-9)
}

func TestResultPrefersReportedCost(t *testing.T) {
	p := NewParser()
	p.Feed(`{"type":"result","model":"claude-opus-4-5","result":"ok","usage":{"input_tokens":1000,"output_tokens":1000},"total_cost_usd":0.123}`)
	assert.InDelta(t, 0.123, p.Activity().Metrics.CostUSD, 1e-9)
}

func TestResultEmptyContent(t *testing.T) {
	p := NewParser()
	records := p.Feed(`{"type":"result"}`)
	require.Len(t, records, 1)
	assert.Equal(t, "session result received", records[0].Content)
}

func TestSessionIDCapture(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.SessionID())
	p.Feed(`{"type":"system","session_id":"sess-abc123"}`)
	assert.Equal(t, "sess-abc123", p.SessionID())

	// Later events without a session id do not clear it.
	p.Feed(`{"type":"message_start","message":{}}`)
	assert.Equal(t, "sess-abc123", p.SessionID())
}

func TestSummarizeToolInput(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{name: "file path trims to last two components", tool: "Read", input: `{"file_path":"/a/b/c/d.go"}`, want: "c/d.go"},
		{name: "bare file name", tool: "Read", input: `{"file_path":"main.go"}`, want: "main.go"},
		{name: "pattern passes through", tool: "Grep", input: `{"pattern":"func main"}`, want: "func main"},
		{name: "short command passes through", tool: "Bash", input: `{"command":"ls -la"}`, want: "ls -la"},
		{name: "long command truncates", tool: "Bash",
			input: `{"command":"` + string(make60('x')) + `yz"}`,
			want:  string(make60('x')) + "…"},
		{name: "path trims like file path", tool: "Glob", input: `{"path":"/repo/internal/engine"}`, want: "internal/engine"},
		{name: "unknown shape", tool: "Task", input: `{"description":"explore"}`, want: ""},
		{name: "invalid json", tool: "Edit", input: `{partial`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SummarizeToolInput(tt.tool, tt.input))
		})
	}
}

func make60(c byte) []byte {
	out := make([]byte, 60)
	for i := range out {
		out[i] = c
	}
	return out
}

func TestRingAppendAndSnapshot(t *testing.T) {
	ring := NewRing()
	ring.Append(Record{Type: RecordText, Content: "one"})
	ring.Append(Record{Type: RecordText, Content: "two"})

	snap := ring.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "one", snap[0].Content)

	// Snapshot is a copy.
	snap[0].Content = "mutated"
	assert.Equal(t, "one", ring.Snapshot()[0].Content)
}

func TestRingTrimsWhenFull(t *testing.T) {
	ring := NewRing()
	for i := 0; i < RingCapacity+1; i++ {
		ring.Append(Record{Type: RecordText, Content: strconv.Itoa(i)})
	}

	snap := ring.Snapshot()
	// Crossing capacity keeps only the freshest entries.
	require.Len(t, snap, RingTrimTo)
	assert.Equal(t, strconv.Itoa(RingCapacity+1-RingTrimTo), snap[0].Content)
	assert.Equal(t, strconv.Itoa(RingCapacity), snap[len(snap)-1].Content)
}

func TestRingReset(t *testing.T) {
	ring := NewRing()
	ring.Append(Record{Type: RecordText, Content: "x"})
	ring.Reset()
	assert.Empty(t, ring.Snapshot())
}
