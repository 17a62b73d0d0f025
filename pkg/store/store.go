// Package store selects the session backend and keeps it tidy.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/johncui/socrate/pkg/session"
	"github.com/johncui/socrate/pkg/store/memory"
	"github.com/johncui/socrate/pkg/store/sqlite"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Options configures Open.
type Options struct {
	Driver   string
	Name     string
	Capacity int
	Logger   *slog.Logger
}

// Backend is a session store that can expire idle sessions.
type Backend interface {
	session.Store
	Sweep(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Open returns the configured backend. Neither driver writes to disk.
func Open(ctx context.Context, opt Options) (Backend, error) {
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	switch opt.Driver {
	case DriverMemory, "":
		return memory.New(opt.Capacity), nil
	case DriverSQLite:
		if opt.Name == "" {
			opt.Name = "socrate"
		}
		db, err := sqlite.New(ctx, sqlite.Config{Name: opt.Name, Logger: opt.Logger})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", opt.Driver)
	}
}

// SweepLoop removes sessions idle for longer than ttl every interval until ctx is done.
func SweepLoop(ctx context.Context, b Backend, ttl, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := b.Sweep(ctx, time.Now().Add(-ttl))
			if err != nil {
				logger.Error("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("expired idle sessions", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
