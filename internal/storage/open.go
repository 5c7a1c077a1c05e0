package storage

import (
	"context"
	"fmt"
	"strings"

	logx "cronwire/pkg/logx"
)

// Store is the persistence API used by the audit listener.
type Store interface {
	AppendExecution(ctx context.Context, e Execution) error
	// RecentExecutions returns up to limit records, newest first.
	RecentExecutions(ctx context.Context, limit int) ([]Execution, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Retain <= 0 {
		cfg.Retain = defaultRetain
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
