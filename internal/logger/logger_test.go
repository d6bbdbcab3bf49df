package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// TestTraceHandlerAddsContextFields verifies context enrichment reaches records.
func TestTraceHandlerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithLogFields(context.Background(), LogFields{Component: "keypilot.test", Job: "farm"})
	ctx = WithLogFields(ctx, LogFields{RunID: "run-1", StepIndex: Ptr(2)})
	log.InfoContext(ctx, "hello")

	out := buf.String()
	for _, want := range []string{"component=keypilot.test", "job=farm", "run_id=run-1", "step_index=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

// TestWithLogFieldsKeepsExistingValues checks merge precedence.
func TestWithLogFieldsKeepsExistingValues(t *testing.T) {
	ctx := WithLogFields(context.Background(), LogFields{Job: "a", Hotkey: "h"})
	ctx = WithLogFields(ctx, LogFields{Job: "b"})

	got := GetLogFields(ctx)
	if got.Job != "b" || got.Hotkey != "h" {
		t.Fatalf("fields = %+v", got)
	}
}
