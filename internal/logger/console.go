package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger writes human-oriented progress lines with [HH:MM:SS]
// timestamps. Color output is enabled only when the writer is a TTY.
type ConsoleLogger struct {
	mu       sync.Mutex
	writer   io.Writer
	useColor bool
}

// NewConsoleLogger creates a ConsoleLogger for the given writer. A nil writer
// silently discards all output.
func NewConsoleLogger(writer io.Writer) *ConsoleLogger {
	return &ConsoleLogger{
		writer:   writer,
		useColor: isTerminal(writer),
	}
}

// isTerminal reports whether the writer is a TTY that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Infof prints a plain progress line.
func (cl *ConsoleLogger) Infof(format string, args ...any) {
	cl.printf(nil, format, args...)
}

// Successf prints a green line.
func (cl *ConsoleLogger) Successf(format string, args ...any) {
	cl.printf(color.New(color.FgGreen), format, args...)
}

// Warnf prints a yellow line.
func (cl *ConsoleLogger) Warnf(format string, args ...any) {
	cl.printf(color.New(color.FgYellow), format, args...)
}

// Errorf prints a red line.
func (cl *ConsoleLogger) Errorf(format string, args ...any) {
	cl.printf(color.New(color.FgRed), format, args...)
}

func (cl *ConsoleLogger) printf(c *color.Color, format string, args ...any) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.writer == nil {
		return
	}

	message := fmt.Sprintf(format, args...)
	if cl.useColor && c != nil {
		message = c.Sprint(message)
	}
	fmt.Fprintf(cl.writer, "[%s] %s\n", time.Now().Format("15:04:05"), message)
}
