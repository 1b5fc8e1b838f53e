package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, "info")
	logger.Info("cluster started", "cluster_id", "c1", "agents", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if line["cluster_id"] != "c1" {
		t.Fatalf("expected cluster_id field, got %v", line)
	}
	if line["message"] != "cluster started" {
		t.Fatalf("expected message field, got %v", line)
	}
}

func TestDebugLevelSuppressedByDefaultInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, "info")
	logger.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected debug line to be suppressed at info level, got %q", buf.String())
	}
}

func TestWithAttachesFieldsToSubsequentEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSON(&buf, "info").With("agent_id", "a1")
	logger.Warn("trigger skipped")

	if !strings.Contains(buf.String(), `"agent_id":"a1"`) {
		t.Fatalf("expected agent_id field carried via With, got %q", buf.String())
	}
}

func TestNopDiscardsEverything(t *testing.T) {
	logger := Nop()
	logger.Info("noop")
	logger.Error("noop", nil)
}
