// Package stream reconstructs coherent agent activity from the external
// CLI's newline-delimited JSON event stream. The parser is a pure function of
// (line, parser state); it performs no I/O so it can be unit-tested line by
// line.
package stream

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/ralph-ultra/internal/models"
)

// Record types in the structured output ring.
const (
	RecordText      = "text"
	RecordToolStart = "tool_start"
	RecordResult    = "result"
	RecordSystem    = "system"
)

// shellSummaryLimit truncates shell-tool input summaries.
const shellSummaryLimit = 60

// Record is one structured output entry derived from the stream.
type Record struct {
	Type    string    `json:"type"`
	Content string    `json:"content"`
	Tool    string    `json:"tool,omitempty"`
	At      time.Time `json:"at"`
}

// Per-model streaming rates (USD per million tokens) for running cost. The
// model string from the stream is matched by class.
var streamRates = []struct {
	substr          string
	inPerM, outPerM float64
}{
	{"opus", 15.00, 75.00},
	{"sonnet", 3.00, 15.00},
	{"haiku", 0.25, 1.25},
}

// blockKind is the parser's current content block type.
type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// Parser consumes stream lines and produces structured records while
// accumulating AgentActivity. Not safe for concurrent use; the engine's
// tailer is the single caller.
type Parser struct {
	activity models.AgentActivity

	block      blockKind
	sessionID  string
	toolName   string
	inputAccum strings.Builder
	textBuf    strings.Builder
	sawDeltas  bool

	now func() time.Time
}

// NewParser creates a parser with a fresh activity snapshot.
func NewParser() *Parser {
	p := &Parser{now: time.Now}
	p.activity.Reset(p.now().UTC())
	return p
}

// Activity returns the current accumulated activity.
func (p *Parser) Activity() models.AgentActivity {
	return p.activity
}

// SessionID returns the opaque resume token observed in the stream, if any.
func (p *Parser) SessionID() string {
	return p.sessionID
}

// event mirrors the subset of the stream wire format the parser consumes.
type event struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Message *struct {
		Model   string `json:"model"`
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
	Result    string `json:"result"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
	Usage *struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

// Feed parses one stream line and returns the records it yields. Malformed
// JSON becomes a system record rather than being dropped.
func (p *Parser) Feed(line string) []Record {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var ev event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return []Record{p.record(RecordSystem, fmt.Sprintf("unparsable stream line: %.120s", line))}
	}

	if ev.SessionID != "" {
		p.sessionID = ev.SessionID
	}

	switch ev.Type {
	case "message_start":
		return p.onMessageStart()
	case "content_block_start":
		return p.onBlockStart(ev)
	case "content_block_delta":
		return p.onBlockDelta(ev)
	case "content_block_stop":
		return p.onBlockStop()
	case "assistant":
		return p.onAssistant(ev)
	case "result":
		return p.onResult(ev)
	default:
		return nil
	}
}

func (p *Parser) onMessageStart() []Record {
	records := p.flushText()
	p.block = blockNone
	p.sawDeltas = false
	p.inputAccum.Reset()
	return records
}

func (p *Parser) onBlockStart(ev event) []Record {
	records := p.flushText()

	if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
		p.block = blockTool
		p.toolName = ev.ContentBlock.Name
		p.inputAccum.Reset()
		p.activity.IsThinking = false
	} else {
		p.block = blockText
		p.activity.IsThinking = true
	}
	return records
}

func (p *Parser) onBlockDelta(ev event) []Record {
	if ev.Delta == nil {
		return nil
	}
	p.sawDeltas = true

	switch ev.Delta.Type {
	case "text_delta":
		p.textBuf.WriteString(ev.Delta.Text)
		p.activity.LastThinkingSnippet = tail(p.textBuf.String(), 120)
		// Flush completed lines so the ring stays line granular.
		return p.flushCompleteLines()
	case "input_json_delta":
		p.inputAccum.WriteString(ev.Delta.PartialJSON)
	}
	return nil
}

func (p *Parser) onBlockStop() []Record {
	if p.block == blockTool {
		summary := SummarizeToolInput(p.toolName, p.inputAccum.String())
		p.activity.RecordTool(models.ToolUse{
			Name:         p.toolName,
			InputSummary: summary,
			At:           p.now().UTC(),
		})
		p.block = blockNone

		content := p.toolName
		if summary != "" {
			content = fmt.Sprintf("%s: %s", p.toolName, summary)
		}
		return []Record{p.toolRecord(content)}
	}

	records := p.flushText()
	p.block = blockNone
	p.activity.IsThinking = false
	return records
}

// onAssistant is the non-streaming fallback for CLIs that emit whole
// messages. Ignored when deltas were already seen for this turn.
func (p *Parser) onAssistant(ev event) []Record {
	if p.sawDeltas || ev.Message == nil {
		return nil
	}

	if ev.Message.Model != "" {
		p.activity.Metrics.Model = ev.Message.Model
	}

	var records []Record
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			if text := strings.TrimSpace(block.Text); text != "" {
				records = append(records, p.record(RecordText, text))
			}
		case "tool_use":
			summary := SummarizeToolInput(block.Name, string(block.Input))
			p.activity.RecordTool(models.ToolUse{
				Name:         block.Name,
				InputSummary: summary,
				At:           p.now().UTC(),
			})
			content := block.Name
			if summary != "" {
				content = fmt.Sprintf("%s: %s", block.Name, summary)
			}
			records = append(records, p.toolRecord(content))
		}
	}
	return records
}

func (p *Parser) onResult(ev event) []Record {
	records := p.flushText()

	if ev.Model != "" {
		p.activity.Metrics.Model = ev.Model
	}
	if ev.Usage != nil {
		m := &p.activity.Metrics
		m.TotalInputTokens += ev.Usage.InputTokens
		m.TotalOutputTokens += ev.Usage.OutputTokens
		m.CacheReadTokens += ev.Usage.CacheReadInputTokens
		m.CacheCreationTokens += ev.Usage.CacheCreationInputTokens

		if ev.TotalCostUSD != nil {
			m.CostUSD = *ev.TotalCostUSD
		} else {
			inRate, outRate := ratesForModel(m.Model)
			m.CostUSD += float64(ev.Usage.InputTokens)*inRate/1_000_000 +
				float64(ev.Usage.OutputTokens)*outRate/1_000_000
		}
	}

	content := strings.TrimSpace(ev.Result)
	if content == "" {
		content = "session result received"
	}
	return append(records, p.record(RecordResult, content))
}

// flushCompleteLines emits text records for every full line in the buffer,
// keeping the trailing partial line buffered.
func (p *Parser) flushCompleteLines() []Record {
	buffered := p.textBuf.String()
	idx := strings.LastIndexByte(buffered, '\n')
	if idx < 0 {
		return nil
	}

	complete := buffered[:idx]
	p.textBuf.Reset()
	p.textBuf.WriteString(buffered[idx+1:])

	var records []Record
	for _, line := range strings.Split(complete, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			records = append(records, p.record(RecordText, line))
		}
	}
	return records
}

// flushText emits whatever text remains buffered.
func (p *Parser) flushText() []Record {
	text := strings.TrimSpace(p.textBuf.String())
	p.textBuf.Reset()
	if text == "" {
		return nil
	}

	var records []Record
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			records = append(records, p.record(RecordText, line))
		}
	}
	return records
}

func (p *Parser) record(kind, content string) Record {
	return Record{Type: kind, Content: content, At: p.now().UTC()}
}

func (p *Parser) toolRecord(content string) Record {
	return Record{Type: RecordToolStart, Content: content, Tool: p.toolName, At: p.now().UTC()}
}

// SummarizeToolInput produces the short input form shown next to a tool name:
// the last two path components for file tools, a 60-char truncation for shell
// tools, the pattern for match tools.
func SummarizeToolInput(toolName, inputJSON string) string {
	var input struct {
		FilePath string `json:"file_path"`
		Path     string `json:"path"`
		Command  string `json:"command"`
		Pattern  string `json:"pattern"`
	}
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return ""
	}

	switch {
	case input.FilePath != "":
		return lastTwoComponents(input.FilePath)
	case input.Pattern != "":
		return input.Pattern
	case input.Command != "":
		if len(input.Command) > shellSummaryLimit {
			return input.Command[:shellSummaryLimit] + "…"
		}
		return input.Command
	case input.Path != "":
		return lastTwoComponents(input.Path)
	default:
		return ""
	}
}

func lastTwoComponents(path string) string {
	dir, file := filepath.Split(filepath.Clean(path))
	parent := filepath.Base(filepath.Clean(dir))
	if parent == "." || parent == string(filepath.Separator) || parent == "" {
		return file
	}
	return filepath.Join(parent, file)
}

func ratesForModel(model string) (float64, float64) {
	lower := strings.ToLower(model)
	for _, r := range streamRates {
		if strings.Contains(lower, r.substr) {
			return r.inPerM, r.outPerM
		}
	}
	// Unknown models bill at the mid-tier rate.
	return 3.00, 15.00
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
