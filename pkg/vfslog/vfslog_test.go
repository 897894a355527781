package vfslog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: WARN, Output: &buf, Format: FormatText})

	logger.Info("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("INFO message logged at WARN level: %q", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("WARN message missing: %q", buf.String())
	}
}

func TestLoggerComponentLevelOverride(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: ERROR, Output: &buf, Format: FormatText})
	logger.SetComponentLevel("resolver", DEBUG)

	resolverLog := logger.WithComponent("resolver")
	resolverLog.Debug("path resolved")
	if !strings.Contains(buf.String(), "path resolved") {
		t.Error("component-level override should have allowed DEBUG through")
	}

	buf.Reset()
	otherLog := logger.WithComponent("dispatch")
	otherLog.Debug("should be filtered")
	if buf.Len() != 0 {
		t.Error("component without override should fall back to global level")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&Config{Level: INFO, Output: &buf, Format: FormatJSON, IncludeCaller: false})
	logger.WithField("mount_id", "abc").Info("mounted")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "mounted" {
		t.Errorf("Message = %q, want %q", entry.Message, "mounted")
	}
	if entry.Fields["mount_id"] != "abc" {
		t.Errorf("Fields[mount_id] = %v, want abc", entry.Fields["mount_id"])
	}
}

func TestWithFieldsIsImmutable(t *testing.T) {
	t.Parallel()

	base := New(DefaultConfig())
	derived := base.WithField("a", 1)
	derived2 := derived.WithField("b", 2)

	if _, ok := derived.contextFields["b"]; ok {
		t.Error("WithField must not mutate the receiver's field map")
	}
	if len(derived2.contextFields) != 2 {
		t.Errorf("derived2 should carry both fields, got %v", derived2.contextFields)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"ERROR":   ERROR,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("nonsense"); err == nil {
		t.Error("expected error for invalid level name")
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{
		500:            "500 B",
		2048:           "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
