package cache

import (
	"log/slog"
	"os"
	"time"
)

// touchFileTime best-effort bumps path's access and modification time to
// at, used by the update_file_time_on_cache_hit debounced touch and by the
// deep-touch control-surface verb for referenced assets already cached.
func touchFileTime(path string, at time.Time, logger *slog.Logger) {
	if err := os.Chtimes(path, at, at); err != nil {
		logger.Debug("touch file time failed", "path", path, "error", err)
	}
}
