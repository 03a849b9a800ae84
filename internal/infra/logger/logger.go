package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

type Logger struct {
	mu            sync.Mutex
	fileLogger    *log.Logger
	stdout        io.Writer
	level         Level
	includeStdout bool
}

// New opens (or appends to) the log file at filePath. An empty path logs to
// stdout only.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	if filePath == "" {
		return &Logger{level: level, includeStdout: true, stdout: os.Stdout}, nil
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Logger{
		fileLogger:    log.New(f, "", 0),
		stdout:        os.Stdout,
		level:         level,
		includeStdout: includeStdout,
	}, nil
}

// NewWithWriter logs every line to w. Used by tests and embedding callers.
func NewWithWriter(w io.Writer, level Level) *Logger {
	return &Logger{fileLogger: log.New(w, "", 0), level: level}
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...interface{}) {
	if l == nil || lvl < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	fullMsg := fmt.Sprintf("%s [%s] %s", timestamp, prefix, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLogger != nil {
		l.fileLogger.Println(fullMsg)
	}

	// Debug stays out of stdout so it doesn't break the progress bar
	if l.includeStdout && l.stdout != nil && lvl >= LevelInfo {
		fmt.Fprintf(l.stdout, "\n%s", fullMsg)
	}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}
