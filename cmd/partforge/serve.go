// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/partforge/partforge/internal/auth"
	authpg "github.com/partforge/partforge/internal/auth/postgres"
	"github.com/partforge/partforge/internal/config"
	"github.com/partforge/partforge/internal/email"
	"github.com/partforge/partforge/internal/httpapi"
	"github.com/partforge/partforge/internal/logging"
	"github.com/partforge/partforge/internal/observability"
	"github.com/partforge/partforge/internal/store"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP API server together with the metrics endpoint.
Configuration comes from defaults, the --config file, and flags, in
that precedence order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	// Flag names mirror config keys so the posflag provider can map
	// them directly.
	cmd.Flags().String("server.addr", "", "API listen address")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("log.level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logging.SetDefault("partforge", version, cfg.Log.Level, cfg.Log.Format)
	logger := slog.Default()

	pool, err := store.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.Info("connected to database")

	users := authpg.NewUserRepository(pool)
	tokens := authpg.NewTokenRepository(pool)
	sessions := authpg.NewSessionRepository(pool)
	transactor := authpg.NewTransactor(pool)
	hasher := auth.NewArgon2idHasher()

	policies := map[auth.TokenPurpose]auth.TokenPolicy{
		auth.PurposeSignup: {
			Lifetime:       cfg.Auth.SignupTokenLifetime,
			ResendCooldown: cfg.Auth.ResendCooldown,
		},
		auth.PurposePasswordReset: {
			Lifetime:       cfg.Auth.ResetTokenLifetime,
			ResendCooldown: cfg.Auth.ResendCooldown,
		},
	}

	tokenSvc, err := auth.NewVerificationTokenService(tokens, users, hasher, policies)
	if err != nil {
		return err
	}
	sessionSvc, err := auth.NewSessionService(sessions)
	if err != nil {
		return err
	}

	mailer, err := buildMailer(cfg, logger)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(
		users, tokenSvc, sessionSvc, hasher, transactor, mailer,
		auth.Links{Base: cfg.Server.BaseURL}, cfg.Auth.CookieTTL, logger,
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.Observability.Enabled {
		obsServer = observability.NewServer(cfg.Observability.Addr, func() bool {
			return pool.Ping(ctx) == nil
		})
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	apiServer, err := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.Server.Addr,
		CookieName:     cfg.Server.CookieName,
		CookieSecure:   cfg.Server.CookieSecure,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, authSvc, metrics, logger)
	if err != nil {
		return err
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		if obsServer != nil {
			stopServer(obsServer.Stop, "observability", cfg.Server.ShutdownTimeout)
		}
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("PartForge server started")
	logger.Info("server ready",
		"addr", apiServer.Addr(),
		"base_url", cfg.Server.BaseURL,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	stopServer(apiServer.Stop, "api", cfg.Server.ShutdownTimeout)
	if obsServer != nil {
		stopServer(obsServer.Stop, "observability", cfg.Server.ShutdownTimeout)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildMailer selects the mailer from the email config.
func buildMailer(cfg *config.Config, logger *slog.Logger) (auth.Mailer, error) {
	switch cfg.Email.Mode {
	case "log":
		return email.NewLogMailer(cfg.Email.From, logger), nil
	case "http":
		return email.NewHTTPMailer(email.HTTPMailerConfig{
			Endpoint:   cfg.Email.Endpoint,
			APIKey:     cfg.Email.APIKey,
			From:       cfg.Email.From,
			Timeout:    cfg.Email.Timeout,
			MaxRetries: cfg.Email.MaxRetries,
		})
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("mode", cfg.Email.Mode).
			Errorf("unknown email mode")
	}
}

// stopServer shuts a server down with its own timeout.
func stopServer(stop func(context.Context) error, name string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors cancels the context when a server reports an
// error, so one failed listener takes the whole process down
// gracefully. Exits when the channel closes or the context ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
