// SPDX-License-Identifier: Apache-2.0

package task

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRunExecutesBody(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ran := false
	run(logger, "unit", func(ctx context.Context) error {
		ran = true
		if ctx == nil {
			t.Fatal("expected non-nil context")
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Fatal("expected detached task context to carry a deadline")
		}
		return nil
	})

	if !ran {
		t.Fatal("expected task body to run")
	}
}

func TestRunLogsErrorThroughSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	run(logger, "failing", func(ctx context.Context) error {
		return errors.New("store unavailable")
	})

	out := buf.String()
	if !strings.Contains(out, "detached task failed") {
		t.Fatalf("expected failure log, got %q", out)
	}
	if !strings.Contains(out, "failing") {
		t.Fatalf("expected task name in log, got %q", out)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	run(logger, "panicky", func(ctx context.Context) error {
		panic("boom")
	})

	out := buf.String()
	if !strings.Contains(out, "detached task panicked") {
		t.Fatalf("expected panic log, got %q", out)
	}
}

func TestRunNilBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	run(logger, "empty", nil)

	if !strings.Contains(buf.String(), "no body") {
		t.Fatalf("expected missing-body log, got %q", buf.String())
	}
}

func TestGoDoesNotBlock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	done := make(chan struct{})
	Go(logger, "async", func(ctx context.Context) error {
		close(done)
		return nil
	})

	<-done
}
