// internal/logging/logger.go
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// DEBUG level for verbose debugging information
	DEBUG LogLevel = iota
	// INFO level for general information
	INFO
	// WARNING level for non-critical problems
	WARNING
	// ERROR level for error conditions
	ERROR
	// FATAL level for unrecoverable errors
	FATAL
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:

		return "DEBUG"
	case INFO:

		return "INFO"
	case WARNING:

		return "WARNING"
	case ERROR:

		return "ERROR"
	case FATAL:

		return "FATAL"
	default:

		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func fromZerolog(level zerolog.Level) LogLevel {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return DEBUG
	case zerolog.WarnLevel:
		return WARNING
	case zerolog.ErrorLevel:
		return ERROR
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return FATAL
	default:
		return INFO
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger provides leveled printf-style logging on top of zerolog.
// Text output goes through zerolog's console writer, JSON output keeps
// the timestamp/level/message keys.
type Logger struct {
	mu         sync.RWMutex
	level      LogLevel
	writer     io.Writer
	jsonFormat bool
	zl         zerolog.Logger
}

// NewLogger creates a new logger with the specified log level
func NewLogger(level string) *Logger {
	l := &Logger{
		level:      ParseLevel(level),
		writer:     os.Stdout,
		jsonFormat: false,
	}
	l.rebuild()

	return l
}

// rebuild recreates the zerolog backend; callers hold mu or own l exclusively.
func (l *Logger) rebuild() {
	out := zerolog.SyncWriter(l.writer)
	if l.jsonFormat {
		l.zl = zerolog.New(out)

		return
	}

	console := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			lvl, err := zerolog.ParseLevel(s)
			if err != nil || s == "" {
				return strings.ToUpper(s)
			}

			return fromZerolog(lvl).String() + ":"
		},
	}
	l.zl = zerolog.New(console).With().Timestamp().Logger()
}

// SetOutput sets the output writer for the logger
func (l *Logger) SetOutput(writer io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = writer
	l.rebuild()
}

// SetJSONFormat sets whether to use JSON format for logging
func (l *Logger) SetJSONFormat(useJSON bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonFormat = useJSON
	l.rebuild()
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.level
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {

	return level >= l.level
}

func (l *Logger) emit(level LogLevel, fields map[string]interface{}, format string, args ...interface{}) {
	l.mu.RLock()
	if !l.shouldLog(level) {
		l.mu.RUnlock()

		return
	}
	zl := l.zl
	jsonFormat := l.jsonFormat
	l.mu.RUnlock()

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	var event *zerolog.Event
	if jsonFormat {
		event = zl.Log().
			Str("timestamp", time.Now().Format(time.RFC3339)).
			Str("level", level.String())
	} else {
		event = zl.WithLevel(level.zerolog())
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(DEBUG, nil, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(INFO, nil, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.emit(WARNING, nil, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(ERROR, nil, format, args...)
}

// Fatal logs a fatal message and exits the program
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.emit(FATAL, nil, format, args...)
	os.Exit(1)
}

// WithFields creates a new logger with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {

	return &FieldLogger{
		logger: l,
		fields: fields,
	}
}

// FieldLogger is a logger that includes additional fields in logs
type FieldLogger struct {
	logger *Logger
	fields map[string]interface{}
}

// Debug logs a debug message with fields
func (fl *FieldLogger) Debug(format string, args ...interface{}) {
	fl.logger.emit(DEBUG, fl.fields, format, args...)
}

// Info logs an informational message with fields
func (fl *FieldLogger) Info(format string, args ...interface{}) {
	fl.logger.emit(INFO, fl.fields, format, args...)
}

// Warning logs a warning message with fields
func (fl *FieldLogger) Warning(format string, args ...interface{}) {
	fl.logger.emit(WARNING, fl.fields, format, args...)
}

// Error logs an error message with fields
func (fl *FieldLogger) Error(format string, args ...interface{}) {
	fl.logger.emit(ERROR, fl.fields, format, args...)
}

// Fatal logs a fatal message with fields and exits the program
func (fl *FieldLogger) Fatal(format string, args ...interface{}) {
	fl.logger.emit(FATAL, fl.fields, format, args...)
	os.Exit(1)
}
