package shutdown

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"photomaker/db"
	"photomaker/logging"
	"photomaker/sdruntime"
)

// HTTPServer stops accepting connections and waits for open requests
// within ctx.
func HTTPServer(srv *http.Server) Func {
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("stop http server: %w", err)
		}
		return nil
	}
}

// Pipeline closes the slot pool so late callers fail fast.
func Pipeline(pool *sdruntime.SlotPool) Func {
	return func(ctx context.Context) error {
		return pool.Close()
	}
}

// AsyncWriter drains queued history writes, waiting at most timeout.
func AsyncWriter(w *db.AsyncWriter, timeout time.Duration) Func {
	return func(ctx context.Context) error {
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < timeout {
				timeout = left
			}
		}
		if !w.Stop(timeout) {
			return fmt.Errorf("history writer: %d writes still queued", w.Pending())
		}
		return nil
	}
}

func Database(d *db.Database) Func {
	return func(ctx context.Context) error {
		return d.Close()
	}
}

// Logger flushes buffered log entries. Sync errors on a terminal stdout
// are reported by zap as EINVAL or ENOTTY and are ignored.
func Logger(l *logging.Logger) Func {
	return func(ctx context.Context) error {
		_ = l.Sync()
		return nil
	}
}
