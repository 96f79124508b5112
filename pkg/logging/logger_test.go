package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: INFO, Output: &buf, Format: FormatText})

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message was logged when level is INFO")
	}

	buf.Reset()
	logger.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Info message content not found in output")
	}

	buf.Reset()
	logger.SetLevel(ERROR)
	logger.Warn("warn message")
	if buf.Len() > 0 {
		t.Error("Warn message was logged when level is ERROR")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: DEBUG, Output: &buf, Format: FormatText})

	derived := logger.WithField("op", "getattr").WithFields(map[string]interface{}{"path": "/x"})
	derived.Info("dispatch")

	out := buf.String()
	if !strings.Contains(out, "op=getattr") || !strings.Contains(out, "path=/x") {
		t.Errorf("context fields missing from output: %q", out)
	}

	// Parent logger must not inherit derived fields
	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "op=getattr") {
		t.Error("parent logger leaked derived fields")
	}
}

func TestComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: ERROR, Output: &buf, Format: FormatText})
	logger.SetComponentLevel("dispatch", DEBUG)

	logger.WithComponent("dispatch").Debug("verbose")
	if !strings.Contains(buf.String(), "verbose") {
		t.Error("component-level override did not apply")
	}

	buf.Reset()
	logger.WithComponent("vfs").Debug("quiet")
	if buf.Len() > 0 {
		t.Error("non-overridden component used the override level")
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: INFO, Output: &buf, Format: FormatJSON})

	logger.WithField("fh", 7).Info("open")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "open" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["fh"] != float64(7) {
		t.Errorf("field fh missing, got %v", entry.Fields)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warning", WARN, false},
		{"fatal", FATAL, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"64", 64},
		{"64K", 64 * 1024},
		{"2 MB", 2 * 1024 * 1024},
		{"1G", 1 << 30},
	}
	for _, tt := range tests {
		got, err := ParseBytes(tt.in)
		if err != nil {
			t.Fatalf("ParseBytes(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
