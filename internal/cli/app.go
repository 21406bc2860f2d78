// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/jeranaias/threadline/internal/assembler"
	"github.com/jeranaias/threadline/internal/config"
	"github.com/jeranaias/threadline/internal/logging"
	"github.com/jeranaias/threadline/internal/notice"
	"github.com/jeranaias/threadline/internal/offline"
	"github.com/jeranaias/threadline/internal/provider"
	"github.com/jeranaias/threadline/internal/session"
	"github.com/jeranaias/threadline/internal/storage"
	"github.com/jeranaias/threadline/internal/telemetry"
	"github.com/jeranaias/threadline/internal/transport"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// App carries state shared by every command: flags, the loaded config, the
// logger and, once opened, the engine.
type App struct {
	// Flags
	ConfigPath string
	LogLevel   string
	Provider   string
	Model      string
	Storage    string
	JSON       bool

	Config *config.Config
	Logger *logging.Logger

	Out io.Writer
	Err io.Writer
	In  io.Reader

	engine *Engine
}

// Engine is the opened storage, provider and session manager.
type Engine struct {
	Store    *storage.Store
	Provider provider.Provider
	Manager  *session.Manager
	Metrics  *telemetry.Metrics
	Notices  *notice.Catalog
}

// NewApp returns an App writing to the process streams.
func NewApp() *App {
	return &App{Out: os.Stdout, Err: os.Stderr, In: os.Stdin}
}

// load reads the config, applies flag overrides and builds the logger.
func (a *App) load() error {
	var (
		cfg *config.Config
		err error
	)
	if a.ConfigPath != "" {
		cfg, err = config.LoadFromPath(a.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	overrides := []struct{ key, value string }{
		{"logging.level", a.LogLevel},
		{"provider.name", a.Provider},
		{"provider.model", a.Model},
		{"storage.driver", a.Storage},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		if err := cfg.Set(o.key, o.value); err != nil {
			return fmt.Errorf("--%s: %w", o.key, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Writer: a.Err,
	})
	if err != nil {
		return err
	}
	logger.Install()

	a.Config = cfg
	a.Logger = logger
	return nil
}

// Open builds the engine from the loaded config. It is idempotent.
func (a *App) Open() (*Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	cfg := a.Config
	logger := a.Logger.Logger

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	p, err := provider.New(cfg.Provider)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notices := notice.New(cfg.Locale.Language)
	metrics := telemetry.NewMetrics()
	mcfg := session.DefaultManagerConfig()
	if cfg.Stream.IdleTimeout > 0 {
		mcfg.IdleTimeout = cfg.Stream.IdleTimeout.Std()
	}
	params := cfg.Generation
	mcfg.Params = &params
	clientOpts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithMaxChunkSize(cfg.Stream.MaxChunkSize),
	}
	if cfg.Provider.LocalOnly {
		clientOpts = append(clientOpts, transport.WithHTTPClient(&http.Client{Transport: offline.Guard(nil)}))
	}
	mcfg.Session = session.Config{
		Provider:  p,
		Client:    transport.NewClient(clientOpts...),
		Store:     store,
		Assembler: assembler.Options{
			FlushInterval: cfg.Stream.FlushInterval.Std(),
			Notices:       notices,
			Logger:        logger,
		},
		Observer: metrics,
		Logger:   logger,
	}
	manager := session.NewManager(mcfg)
	metrics.TrackSessions(manager.Count)

	a.engine = &Engine{
		Store:    store,
		Provider: p,
		Manager:  manager,
		Metrics:  metrics,
		Notices:  notices,
	}
	logger.Debug("engine opened",
		"provider", p.Name(),
		"model", p.Model(),
		"storage", cfg.Storage.Driver,
	)
	return a.engine, nil
}

// Close shuts the engine and the log file.
func (a *App) Close() error {
	var errs []error
	if e := a.engine; e != nil {
		errs = append(errs, e.Manager.Close(), e.Store.Close())
		a.engine = nil
	}
	if a.Logger != nil {
		errs = append(errs, a.Logger.Close())
	}
	return errors.Join(errs...)
}

// conversation resolves an ID prefix to one stored conversation and opens
// its session.
func (a *App) conversation(ctx context.Context, idOrPrefix string) (*session.Session, error) {
	e, err := a.Open()
	if err != nil {
		return nil, err
	}
	metas, err := e.Manager.List(ctx)
	if err != nil {
		return nil, err
	}
	var match string
	for _, m := range metas {
		if m.ID == idOrPrefix {
			match = m.ID
			break
		}
		if len(idOrPrefix) >= 4 && len(m.ID) > len(idOrPrefix) && m.ID[:len(idOrPrefix)] == idOrPrefix {
			if match != "" {
				return nil, fmt.Errorf("conversation prefix %q is ambiguous", idOrPrefix)
			}
			match = m.ID
		}
	}
	if match == "" {
		return nil, fmt.Errorf("%w: %s", storage.ErrConversationNotFound, idOrPrefix)
	}
	return e.Manager.Get(ctx, match)
}

func (a *App) log() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger.Logger
}
