package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"moneta/internal/core"
)

func TestParseAsOf(t *testing.T) {
	got, err := parseAsOf("2025-03-01")
	if err != nil || !got.Equal(core.NewDate(2025, 3, 1)) {
		t.Fatalf("parseAsOf = %v, %v", got, err)
	}
	if got, err := parseAsOf(""); err != nil || !got.IsZero() {
		t.Fatalf("parseAsOf(empty) = %v, %v", got, err)
	}
	if _, err := parseAsOf("March 1st"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, core.RunSummary{
		AsOf:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Processed: 2, Skipped: 4, Failed: 1, Total: 7,
	})
	out := buf.String()
	for _, want := range []string{"PROCESSED", "2025-03-01T00:00:00Z", "| 2 ", "| 7 "} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestRunRequiresOnceForAsOf(t *testing.T) {
	if err := run(false, "2025-03-01", &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "-as-of requires -once") {
		t.Fatalf("run = %v", err)
	}
}

func TestRunOnceMemoryBackend(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	if err := run(true, "2025-03-01", &buf); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(buf.String(), "2025-03-01T00:00:00Z") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
