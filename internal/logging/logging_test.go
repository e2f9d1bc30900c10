package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARNING, "WARNING"},
		{ERROR, "ERROR"},
		{FATAL, "FATAL"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"info", INFO},
		{"WARNING", WARNING},
		{"warn", WARNING},
		{"ERROR", ERROR},
		{"error", ERROR},
		{"FATAL", FATAL},
		{"INVALID", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			logger := NewLogger(tt.input)
			if logger.Level() != tt.expected {
				t.Errorf("Expected level %s, got %s", tt.expected.String(), logger.Level().String())
			}

			if logger.writer != os.Stdout {
				t.Error("Expected writer to be os.Stdout")
			}

			if logger.jsonFormat {
				t.Error("Expected jsonFormat to be false by default")
			}
		})
	}
}

func TestLoggerShouldLog(t *testing.T) {
	tests := []struct {
		loggerLevel  LogLevel
		messageLevel LogLevel
		shouldLog    bool
	}{
		{DEBUG, DEBUG, true},
		{INFO, DEBUG, false},
		{INFO, INFO, true},
		{WARNING, INFO, false},
		{WARNING, ERROR, true},
		{ERROR, WARNING, false},
		{FATAL, ERROR, false},
		{FATAL, FATAL, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("logger_%s_message_%s", tt.loggerLevel, tt.messageLevel), func(t *testing.T) {
			logger := &Logger{level: tt.loggerLevel}
			if result := logger.shouldLog(tt.messageLevel); result != tt.shouldLog {
				t.Errorf("Expected shouldLog to be %v, got %v", tt.shouldLog, result)
			}
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("DEBUG")
	logger.SetOutput(buf)

	tests := []struct {
		method  func(string, ...interface{})
		level   string
		message string
		args    []interface{}
	}{
		{logger.Debug, "DEBUG", "debug message", nil},
		{logger.Info, "INFO", "info message", nil},
		{logger.Warning, "WARNING", "warning message", nil},
		{logger.Error, "ERROR", "error message", nil},
		{logger.Info, "INFO", "child pid %d spawned in %s", []interface{}{42, "/srv/mcp-trader"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf.Reset()
			tt.method(tt.message, tt.args...)

			output := buf.String()
			if !strings.Contains(output, tt.level) {
				t.Errorf("Expected output to contain level %s, got: %s", tt.level, output)
			}

			expected := tt.message
			if tt.args != nil {
				expected = fmt.Sprintf(tt.message, tt.args...)
			}
			if !strings.Contains(output, expected) {
				t.Errorf("Expected output to contain %q, got: %s", expected, output)
			}

			if !strings.Contains(output, "T") || !strings.Contains(output, ":") {
				t.Errorf("Expected output to contain timestamp, got: %s", output)
			}
		})
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("DEBUG")
	logger.SetOutput(buf)
	logger.SetJSONFormat(true)

	logger.Warning("tool %s timed out", "analyze_stock")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARNING" {
		t.Errorf("Expected level WARNING, got %v", entry["level"])
	}
	if entry["message"] != "tool analyze_stock timed out" {
		t.Errorf("Unexpected message: %v", entry["message"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("Expected timestamp field")
	}
}

func TestLoggerFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("WARNING")
	logger.SetOutput(buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warning("warning message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Debug/info messages should be filtered at WARNING, got: %s", output)
	}
	if !strings.Contains(output, "warning message") || !strings.Contains(output, "error message") {
		t.Errorf("Warning/error messages should be logged at WARNING, got: %s", output)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("ERROR")
	logger.SetOutput(buf)

	logger.Info("before reload")
	logger.SetLevel("debug")
	logger.Debug("after reload")

	output := buf.String()
	if strings.Contains(output, "before reload") {
		t.Error("Info message should be filtered at ERROR")
	}
	if !strings.Contains(output, "after reload") {
		t.Error("Debug message should be logged after SetLevel(debug)")
	}
}

func TestFieldLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("DEBUG")
	logger.SetOutput(buf)

	fields := map[string]interface{}{
		"component":  "bridge",
		"request_id": "123",
	}
	logger.WithFields(fields).Info("info with fields")

	output := buf.String()
	for k, v := range fields {
		expectedField := fmt.Sprintf("%s=%v", k, v)
		if !strings.Contains(output, expectedField) {
			t.Errorf("Expected output to contain field %s, got: %s", expectedField, output)
		}
	}
}

func TestFieldLoggerJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("DEBUG")
	logger.SetOutput(buf)
	logger.SetJSONFormat(true)

	logger.WithFields(map[string]interface{}{"tool": "analyze_stock", "id": 7}).Error("call failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["tool"] != "analyze_stock" {
		t.Errorf("Expected tool field, got %v", entry["tool"])
	}
	if entry["id"] != float64(7) {
		t.Errorf("Expected id field 7, got %v", entry["id"])
	}
	if entry["level"] != "ERROR" {
		t.Errorf("Expected level ERROR, got %v", entry["level"])
	}
}

func TestFieldLoggerFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("WARNING")
	logger.SetOutput(buf)

	fieldLogger := logger.WithFields(map[string]interface{}{"component": "test"})
	fieldLogger.Debug("debug message")
	fieldLogger.Warning("warning message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should not be logged when level is WARNING")
	}
	if !strings.Contains(output, "warning message") {
		t.Error("Warning message should be logged when level is WARNING")
	}
}

// Fatal is not exercised because it calls os.Exit.

func TestLoggerConcurrency(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger("INFO")
	logger.SetOutput(buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Info("Message from goroutine %d", id)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("Expected 10 log lines, got %d", len(lines))
	}
}
