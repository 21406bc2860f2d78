// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jeranaias/threadline/internal/config"
	"github.com/jeranaias/threadline/internal/server"
	"github.com/jeranaias/threadline/internal/session"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// SERVE COMMAND
// =============================================================================

func newServeCommand(app *App) *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations over HTTP and WebSocket",
		Long: `Serve the conversation API. Messages sent over HTTP stream into the
conversation; clients follow along on the WebSocket feed or wait for the
finished answer with ?wait=true.

The config file is watched while serving: generation defaults, the flush
interval, the idle timeout and the log level apply without a restart.
Provider, storage and server settings need a restart.`,
		Example: `  threadline serve
  threadline serve --addr 0.0.0.0:8787
  THREADLINE_TOKEN=secret threadline serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				if err := app.Config.Set("server.addr", addr); err != nil {
					return err
				}
			}
			return app.serve(cmd.Context(), !noWatch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

// serve runs the API server until interrupted.
func (a *App) serve(ctx context.Context, watch bool) error {
	e, err := a.Open()
	if err != nil {
		return err
	}
	cfg := a.Config
	logger := a.log()

	gin.SetMode(gin.ReleaseMode)
	opts := server.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		Logger:         logger,
	}
	if cfg.Server.Token != "" {
		opts.Auth = &server.AuthConfig{Token: cfg.Server.Token}
	} else {
		logger.Warn("server has no token; /v1 is open to anyone who can reach it", "addr", cfg.Server.Addr)
	}
	if cfg.Server.Metrics {
		opts.Metrics = e.Metrics
	}
	srv := server.New(e.Manager, opts)

	ctx, stop := notifyInterrupt(ctx)
	defer stop()

	go e.Manager.Run(ctx)
	if watch {
		if path := a.configFile(); path != "" {
			go func() {
				if err := config.Watch(ctx, path, config.DefaultDebounce, logger, a.reload); err != nil {
					logger.Warn("config watch stopped", "error", err)
				}
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// configFile returns the config file in use, or "" when running on
// defaults.
func (a *App) configFile() string {
	if a.ConfigPath != "" {
		return a.ConfigPath
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return path
}

// reload applies the settings that can change while serving.
func (a *App) reload(cfg *config.Config) {
	logger := a.log()
	if a.LogLevel != "" {
		cfg.Logging.Level = a.LogLevel
	}
	if err := a.Logger.SetLevel(cfg.Logging.Level); err != nil {
		logger.Warn("invalid log level in config", "level", cfg.Logging.Level, "error", err)
	}

	e := a.engine
	if e == nil {
		return
	}
	params := cfg.Generation
	e.Manager.Reconfigure(func(mc *session.ManagerConfig) {
		mc.Params = &params
		mc.Session.Assembler.FlushInterval = cfg.Stream.FlushInterval.Std()
		if cfg.Stream.IdleTimeout > 0 {
			mc.IdleTimeout = cfg.Stream.IdleTimeout.Std()
		}
	})

	old := a.Config
	if old.Provider.Name != cfg.Provider.Name || old.Provider.Model != cfg.Provider.Model || old.Storage != cfg.Storage {
		logger.Warn("provider and storage changes apply after a restart")
	}
	logger.Info("config reloaded",
		"flush_interval", cfg.Stream.FlushInterval.Std(),
		"log_level", cfg.Logging.Level,
	)
}
