package cache

import (
	"io"
	"log/slog"
)

// testLogger returns a logger that discards output, used across this
// package's tests wherever a *slog.Logger is required but its output is
// not itself under test.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
