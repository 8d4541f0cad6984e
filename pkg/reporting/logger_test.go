package reporting

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})
	logger.Info("hello", "node_id", "tile_0")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON log line: %v", err)
	}
	if decoded["message"] != "hello" {
		t.Fatalf("expected message field, got %v", decoded["message"])
	}
	if decoded["node_id"] != "tile_0" {
		t.Fatalf("expected node_id field, got %v", decoded["node_id"])
	}
}

func TestLoggerDebugSuppressedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})
	logger.Debug("should not appear")

	if strings.Contains(buf.String(), "should not appear") {
		t.Fatalf("expected debug message to be suppressed at info level")
	}
}

func TestWithNodeTagsSubsequentLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})
	logger.WithNode("tile_4").Info("reconfiguring")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON log line: %v", err)
	}
	if decoded["node_id"] != "tile_4" {
		t.Fatalf("expected node_id field from WithNode, got %v", decoded["node_id"])
	}
}

func TestLoggerOddFieldsReportsError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})
	logger.Info("bad fields", "only_key")

	if !strings.Contains(buf.String(), "odd number of fields") {
		t.Fatalf("expected odd-field-count error to be logged, got %s", buf.String())
	}
}
