// Package logging builds the logr.Logger shared by all components, backed by
// a log/slog text handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
)

// ParseLevel maps a level name to a slog level. logr verbosity V(n) is
// logged at slog level -n, so "debug" enables V(1) through V(4).
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// New returns a logger writing text records to w at the given level.
func New(level string, w io.Writer) (logr.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return logr.Discard(), err
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return logr.FromSlogHandler(handler), nil
}
