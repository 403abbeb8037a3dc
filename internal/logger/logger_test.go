package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

// TestParseLevel verifies level names and the INFO fallback
func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace": LevelTrace, "DEBUG": LevelDebug, "": LevelInfo, "warning": LevelWarning,
		"Error": LevelError, "fatal": LevelFatal,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if lvl, err := ParseLevel("loud"); err == nil || lvl != LevelInfo {
		t.Errorf("expected error and INFO for unknown level, got %v, %v", lvl, err)
	}
}

// TestSetupJSON verifies JSON output honours the level and counters ignore sampling
func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "warn", SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	Logger.Info("hidden")
	before := TotalWarnings.Load()
	Warn(context.Background(), "visible", "rule_id", "r-1")

	if TotalWarnings.Load() != before+1 {
		t.Errorf("expected warning counter to increase by 1")
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "visible" || rec["rule_id"] != "r-1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

// TestCountHTTPStatus verifies status classes land in the right counters
func TestCountHTTPStatus(t *testing.T) {
	s := Snapshot()
	CountHTTPStatus(404)
	CountHTTPStatus(503)
	CountHTTPStatus(200)
	after := Snapshot()

	if after["http_404"] != s["http_404"]+1 || after["http_4xx"] != s["http_4xx"]+1 {
		t.Errorf("404 not counted: %v -> %v", s, after)
	}
	if after["http_5xx"] != s["http_5xx"]+1 {
		t.Errorf("503 not counted: %v -> %v", s, after)
	}
}

// TestSetLevel verifies the level can be raised and lowered after Setup
func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if GetLevel() != LevelWarning {
		t.Fatalf("GetLevel() = %v, want WARN", GetLevel())
	}

	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)
	if GetLevel() != LevelDebug {
		t.Errorf("GetLevel() = %v, want DEBUG", GetLevel())
	}
	Logger.Debug("now visible")
	if !bytes.Contains(buf.Bytes(), []byte("now visible")) {
		t.Errorf("debug record missing after SetLevel: %s", buf.String())
	}
}

// TestWarnSlowRequest verifies slow requests are logged and counted
func TestWarnSlowRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "info", SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	before := Snapshot()

	WarnSlowRequest(context.Background(), "path", "/api/v1/workflows/run")

	after := Snapshot()
	if after["slow_requests"] != before["slow_requests"]+1 {
		t.Errorf("slow request not counted: %v -> %v", before, after)
	}
	if after["total_warnings"] != before["total_warnings"]+1 {
		t.Errorf("warning not counted: %v -> %v", before, after)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "slow request" || rec["level"] != "WARN" || rec["path"] != "/api/v1/workflows/run" {
		t.Errorf("unexpected record: %v", rec)
	}
}
