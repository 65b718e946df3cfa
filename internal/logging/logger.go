// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process-wide slog logger, tagged with the service
// name so multi-binary deployments (api, sweeper) stay distinguishable in
// aggregated output.
// - env=prod: JSON handler, no source locations
// - anything else: text handler with source locations
// LOG_LEVEL controls the level (debug/info/warn/error), default info.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(os.Getenv("LOG_LEVEL")),
		AddSource: true,
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		opts.AddSource = false
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", serviceName())
}

func serviceName() string {
	if name := strings.TrimSpace(os.Getenv("SERVICE_NAME")); name != "" {
		return name
	}
	return "trustgate"
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
