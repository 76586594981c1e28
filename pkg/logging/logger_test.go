package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerWithServiceTagsEntries(t *testing.T) {
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("APP_ENV", "staging")
	var buf bytes.Buffer
	l := NewLoggerWithService("crier")
	l.SetOutput(&buf)

	l.WithField("k", "v").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "crier" {
		t.Fatalf("expected service field, got %v", line["service"])
	}
	if line["k"] != "v" {
		t.Fatalf("expected k field, got %v", line["k"])
	}
	if line["env"] != "staging" {
		t.Fatalf("expected env field, got %v", line["env"])
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	var buf bytes.Buffer
	l := NewLogger()
	l.SetOutput(&buf)
	l.Info("plain")

	if strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `msg=plain`) {
		t.Fatalf("message missing: %q", buf.String())
	}
}

func TestNewTextLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewTextLogger(&buf, WarnLevel)
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}
