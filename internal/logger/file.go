// Package logger provides the engine log file and console output for
// ralph-ultra. The engine log is append-only and human-readable, one line per
// event: "[ISO timestamp] [LEVEL] message". Implementations are thread-safe.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EngineLogFileName is the engine log filename under <project>/logs/.
const EngineLogFileName = "ralph-ultra.log"

// Log level constants for filtering.
const (
	levelDebug int = 0
	levelInfo  int = 1
	levelWarn  int = 2
	levelError int = 3
)

// FileLogger appends engine events to <project>/logs/ralph-ultra.log.
// DEBUG lines are suppressed unless debug mode is enabled.
type FileLogger struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	debug bool
	now   func() time.Time
}

// NewFileLogger opens (or creates) the engine log under projectDir/logs/.
func NewFileLogger(projectDir string) (*FileLogger, error) {
	logDir := filepath.Join(projectDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(logDir, EngineLogFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open engine log: %w", err)
	}

	return &FileLogger{file: file, path: path, now: time.Now}, nil
}

// Path returns the engine log file path.
func (fl *FileLogger) Path() string { return fl.path }

// SetDebug toggles DEBUG-level output.
func (fl *FileLogger) SetDebug(enabled bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.debug = enabled
}

// Debug logs a debug-level message. Dropped unless debug mode is on.
func (fl *FileLogger) Debug(format string, args ...any) {
	fl.write(levelDebug, "DEBUG", format, args...)
}

// Info logs an info-level message.
func (fl *FileLogger) Info(format string, args ...any) {
	fl.write(levelInfo, "INFO", format, args...)
}

// Warn logs a warning-level message.
func (fl *FileLogger) Warn(format string, args ...any) {
	fl.write(levelWarn, "WARN", format, args...)
}

// Error logs an error-level message.
func (fl *FileLogger) Error(format string, args ...any) {
	fl.write(levelError, "ERROR", format, args...)
}

func (fl *FileLogger) write(level int, label, format string, args ...any) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return
	}
	if level == levelDebug && !fl.debug {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n",
		fl.now().UTC().Format(time.RFC3339),
		label,
		fmt.Sprintf(format, args...),
	)
	fl.file.WriteString(line)
	// Flush per line so crashes leave a complete trail.
	fl.file.Sync()
}

// Close flushes and closes the engine log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("sync engine log: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close engine log: %w", err)
	}
	fl.file = nil
	return nil
}

// Nop is a FileLogger that discards everything. Useful in tests and for
// components constructed without a project directory.
func Nop() *FileLogger {
	return &FileLogger{now: time.Now}
}
