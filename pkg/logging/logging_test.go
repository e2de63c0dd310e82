package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "info")
	l.Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["service"] != "chai-tokenizer" {
		t.Errorf("expected service attr, got %v", rec["service"])
	}
	if rec["k"] != "v" {
		t.Errorf("expected k=v, got %v", rec["k"])
	}
}

func TestNewTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", "warn")
	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestConfigureAndWithComponent(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	var buf bytes.Buffer
	Configure(&buf, "text", "debug")
	WithComponent("engine").Debug("recompute")

	if !strings.Contains(buf.String(), "component=engine") {
		t.Errorf("component attr missing: %s", buf.String())
	}
}

func TestSetLoggerIgnoresNil(t *testing.T) {
	before := Logger()
	SetLogger(nil)
	if Logger() != before {
		t.Error("SetLogger(nil) replaced the logger")
	}
}
