package logx

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("plane", "0/1").Msg("skipped")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "skipped") || !strings.Contains(out, "plane=") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNewLoggerBadLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
