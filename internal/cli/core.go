package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/graphd/internal/config"
	"github.com/roach88/graphd/internal/engine"
	"github.com/roach88/graphd/internal/lifecycle"
	"github.com/roach88/graphd/internal/schema"
)

// runningCore is an open store with a running engine.
type runningCore struct {
	*engine.Engine

	manager *lifecycle.Manager
	cfg     config.Config
	log     *slog.Logger
	cancel  context.CancelFunc
	done    chan error
}

// startCore opens cfg.DataDir, bootstraps the schema file if one is
// configured and starts the engine. Stop must be called to release the
// store.
func startCore(ctx context.Context, cfg config.Config, log *slog.Logger) (*runningCore, error) {
	var declared *schema.Schema
	if cfg.SchemaFile != "" {
		s, err := schema.CompileFile(cfg.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", cfg.SchemaFile, err)
		}
		declared = s
	}

	m, err := lifecycle.Open(ctx, cfg.DataDir, cfg.Lifecycle(), lifecycle.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if rec := m.Recovery(); rec.Ran {
		log.Warn("recovered after unclean shutdown", "dir", cfg.DataDir, "wal_frames", rec.Checkpoint.LogFrames)
	}

	e := engine.New(m.Handle(), schema.NewRegistry(nil), cfg.Engine(), engine.WithLogger(log))
	m.OnShutdown(e.Coordinator().Close)
	if err := e.Bootstrap(ctx, declared); err != nil {
		return nil, errors.Join(err, m.Close(ctx))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &runningCore{Engine: e, manager: m, cfg: cfg, log: log, cancel: cancel, done: make(chan error, 1)}
	go func() { c.done <- e.Run(runCtx) }()
	return c, nil
}

// Stop stops admission, waits for the workers, then closes the store,
// force-aborting transactions still open after the shutdown grace period.
func (c *runningCore) Stop() error {
	c.cancel()
	runErr := <-c.done

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()
	return errors.Join(runErr, c.manager.Close(ctx))
}
