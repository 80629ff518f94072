package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
)

// LogLevel defines the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Color codes for console output
const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	purple = "\033[35m"
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// Logger is a custom logging structure
type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
}

// New creates a new Logger instance
func New(level LogLevel) *Logger {
	return &Logger{
		level:  level,
		output: os.Stdout,
	}
}

// SetOutput replaces the log destination (useful in tests)
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// getCallerInfo retrieves file and line of the caller
func getCallerInfo(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}

	// Trim the full path to just the last few path components
	parts := strings.Split(file, "/")
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}

	return file, line
}

// colorForLevel returns the color based on log level
func colorForLevel(level LogLevel) string {
	switch level {
	case DEBUG:
		return blue
	case INFO:
		return green
	case WARN:
		return yellow
	case ERROR:
		return red
	case FATAL:
		return purple
	default:
		return reset
	}
}

// logw writes a message followed by formatted key-value pairs
func (l *Logger) logw(level LogLevel, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}

	// Skip 3 stack frames to get the correct caller
	file, line := getCallerInfo(3)

	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		value := "MISSING"
		if i+1 < len(keysAndValues) {
			value = fmt.Sprintf("%v", keysAndValues[i+1])
		}
		sb.WriteString(fmt.Sprintf(" %s=%s", key, value))
	}

	color := colorForLevel(level)

	logEntry := fmt.Sprintf("%s[%s]%s %s:%d - %s\n",
		color,
		levelNames[level],
		reset,
		file,
		line,
		sb.String(),
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.output, logEntry)

	// Handle fatal level
	if level == FATAL {
		os.Exit(1)
	}
}

// Debugw logs a debug message with key-value pairs
func (l *Logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.logw(DEBUG, msg, keysAndValues...)
}

// Infow logs an info message with key-value pairs
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.logw(INFO, msg, keysAndValues...)
}

// Warnw logs a warning message with key-value pairs
func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.logw(WARN, msg, keysAndValues...)
}

// Errorw logs an error message with key-value pairs
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.logw(ERROR, msg, keysAndValues...)
}

// Fatalw logs a fatal message with key-value pairs and exits
func (l *Logger) Fatalw(msg string, keysAndValues ...interface{}) {
	l.logw(FATAL, msg, keysAndValues...)
}
