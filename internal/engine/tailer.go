package engine

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrison/ralph-ultra/internal/logger"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// tailPollInterval is the fallback poll cadence; fsnotify write events wake
// the tailer earlier when they arrive.
const tailPollInterval = 500 * time.Millisecond

// tailer follows the session log file while a session is active. It only
// reads; the CLI writes through the multiplexer tee. The cursor resets on
// truncation.
type tailer struct {
	path       string
	onLine     func(string)
	onComplete func(exitCode int)
	log        *logger.FileLogger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	offset  int64
	partial []byte
	fired   bool
}

func newTailer(path string, onLine func(string), onComplete func(exitCode int), log *logger.FileLogger) *tailer {
	return &tailer{
		path:       path,
		onLine:     onLine,
		onComplete: onComplete,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// start launches the tail loop in its own goroutine.
func (t *tailer) start() {
	go t.loop()
}

// halt stops the tailer and waits for the loop to exit. Safe to call more
// than once.
func (t *tailer) halt() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *tailer) loop() {
	defer close(t.done)

	// Watch the log directory so appends wake us between polls. Polling
	// alone is sufficient; the watcher just lowers latency.
	var wake <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.path)); err == nil {
			wake = watcher.Events
		}
	} else {
		t.log.Debug("log watcher unavailable, polling only: %v", err)
	}

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			t.poll()
			return
		case <-ticker.C:
			t.poll()
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if ev.Name == t.path && ev.Op.Has(fsnotify.Write) {
				t.poll()
			}
		}
	}
}

// poll reads everything past the cursor and dispatches complete lines.
func (t *tailer) poll() {
	file, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return
	}
	if stat.Size() < t.offset {
		// Truncated at relaunch; start over.
		t.offset = 0
		t.partial = nil
	}
	if stat.Size() == t.offset {
		return
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(file)
	if err != nil && len(data) == 0 {
		return
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		buf = buf[idx+1:]
		t.dispatch(line)
	}
	t.partial = buf
}

// completionLine matches a line that is nothing but the completion marker
// and an exit status. Anchoring keeps the echoed launch keystrokes (which
// carry the marker split across two shell words, surrounded by the command
// text) from counting as completion.
var completionLine = regexp.MustCompile(`^` + regexp.QuoteMeta(tmux.CompletionMarker) + `:(\d+)$`)

func (t *tailer) dispatch(line string) {
	if m := completionLine.FindStringSubmatch(strings.TrimRight(line, " \r")); m != nil {
		if !t.fired {
			t.fired = true
			t.onComplete(parseExitCode(m[1]))
		}
		return
	}
	t.onLine(line)
}

// parseExitCode converts the marker's captured status digits. Anything
// unparsable counts as a failed session, never a clean one.
func parseExitCode(digits string) int {
	code, err := strconv.Atoi(digits)
	if err != nil {
		return 1
	}
	return code
}
