// SPDX-License-Identifier: Apache-2.0

// Package task provides the fire-and-forget primitive used for work whose
// latency or failure must never affect the caller: usage logging, last-used
// timestamp touches, and webhook delivery sequences. Every detached task
// carries a mandatory error sink so failures stay observable.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finkeeper/trustgate/internal/metrics"
)

// DefaultTimeout bounds detached tasks that never receive an explicit
// deadline from their own work.
const DefaultTimeout = 5 * time.Minute

// Go runs fn on its own goroutine, detached from any request lifecycle.
// Panics are recovered and errors are logged through the sink; nothing
// propagates back to the caller.
func Go(logger *slog.Logger, name string, fn func(ctx context.Context) error) {
	go run(logger, name, fn)
}

func run(logger *slog.Logger, name string, fn func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fn == nil {
		logger.Error("detached task has no body", "task", name)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.IncDetachedTaskFailure()
			logger.Error("detached task panicked", "task", name, "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		metrics.IncDetachedTaskFailure()
		logger.Error("detached task failed", "task", name, "error", err)
	}
}
