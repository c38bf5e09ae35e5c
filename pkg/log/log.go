// Package log is the node's structured logging façade, wrapping log/slog
// so engine events (reorgs, rejections) can carry structured fields
// (height, hash, reason) a plain log line can't.
package log

import (
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, nil))

// New returns a logger scoped to component, e.g. log.New("engine").
func New(component string) *slog.Logger {
	return base.With("component", component)
}
