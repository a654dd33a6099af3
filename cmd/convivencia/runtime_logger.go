package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"github.com/hylla/convivencia/internal/config"
)

// defaultDevLogDir is used when logging.dev_file.dir is blank.
const defaultDevLogDir = ".convivencia/log"

// runtimeLogger fans log events to a styled console sink and an optional logfmt dev-file sink.
// It satisfies the Logger interfaces of eventbus, realtime and pgnotify.
type runtimeLogger struct {
	console        *charmLog.Logger
	consoleEnabled bool
	file           *charmLog.Logger
	closeFile      func() error
	devLog         string
}

// newRuntimeLogger configures runtime log sinks from CLI/config state.
func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, now func() time.Time) (*runtimeLogger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if now == nil {
		now = time.Now
	}
	if stderr == nil {
		stderr = io.Discard
	}

	logger := &runtimeLogger{
		console:        newSink(stderr, appName, level, charmLog.TextFormatter),
		consoleEnabled: true,
	}
	if !devMode || !cfg.DevFile.Enabled {
		return logger, nil
	}

	devLogPath, err := devLogFilePath(cfg.DevFile.Dir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(devLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	logFile, err := os.OpenFile(devLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}
	logger.file = newSink(logFile, appName, level, charmLog.LogfmtFormatter)
	logger.closeFile = logFile.Close
	logger.devLog = devLogPath
	return logger, nil
}

// newSink builds one charm logger with the shared timestamp layout.
func newSink(w io.Writer, prefix string, level charmLog.Level, formatter charmLog.Formatter) *charmLog.Logger {
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
}

// DevLogPath returns the active dev log file path.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil {
		return ""
	}
	return l.devLog
}

// Close closes the optional dev-file sink.
func (l *runtimeLogger) Close() error {
	if l == nil || l.closeFile == nil {
		return nil
	}
	closeFile := l.closeFile
	l.closeFile = nil
	l.file = nil
	return closeFile()
}

// SetConsoleEnabled toggles whether the console sink receives runtime events.
func (l *runtimeLogger) SetConsoleEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.consoleEnabled = enabled
}

// consoleActive reports whether console output is currently visible.
func (l *runtimeLogger) consoleActive() bool {
	return l != nil && l.console != nil && l.consoleEnabled
}

// emit writes one event at level to every active sink.
func (l *runtimeLogger) emit(level charmLog.Level, msg any, keyvals ...any) {
	if l == nil {
		return
	}
	if l.consoleActive() {
		l.console.Log(level, msg, keyvals...)
	}
	if l.file != nil {
		l.file.Log(level, msg, keyvals...)
	}
}

// Debug logs a debug event.
func (l *runtimeLogger) Debug(msg any, keyvals ...any) {
	l.emit(charmLog.DebugLevel, msg, keyvals...)
}

// Info logs an informational event.
func (l *runtimeLogger) Info(msg any, keyvals ...any) {
	l.emit(charmLog.InfoLevel, msg, keyvals...)
}

// Warn logs a warning event.
func (l *runtimeLogger) Warn(msg any, keyvals ...any) {
	l.emit(charmLog.WarnLevel, msg, keyvals...)
}

// Error logs an error event.
func (l *runtimeLogger) Error(msg any, keyvals ...any) {
	l.emit(charmLog.ErrorLevel, msg, keyvals...)
}

// devLogFilePath resolves a workspace-local dev log file path for the current run day.
func devLogFilePath(dir, appName string, now time.Time) (string, error) {
	baseDir := strings.TrimSpace(dir)
	if baseDir == "" {
		baseDir = defaultDevLogDir
	}
	if !filepath.IsAbs(baseDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		baseDir = filepath.Join(workspaceRootFrom(cwd), baseDir)
	}
	fileName := fmt.Sprintf("%s-%s.log", sanitizeLogFileStem(appName), now.Format("20060102"))
	return filepath.Join(filepath.Clean(baseDir), fileName), nil
}

// workspaceRootFrom walks up from start to the nearest go.mod or .git directory.
func workspaceRootFrom(start string) string {
	start = filepath.Clean(strings.TrimSpace(start))
	for dir := start; ; {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// sanitizeLogFileStem normalizes app names into safe file-name segments.
func sanitizeLogFileStem(appName string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	stem := strings.Trim(replacer.Replace(strings.TrimSpace(appName)), "-")
	if stem == "" {
		return "convivencia"
	}
	return stem
}
