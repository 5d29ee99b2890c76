package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"reviewflow/internal/app"
	"reviewflow/internal/engine/auth"
	"reviewflow/internal/metrics"
	"reviewflow/internal/notify"
	"reviewflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, logJSON bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the notification dispatcher",
		Long:  "Bearer tokens are HS256 JWTs signed with REVIEWFLOW_JWT_SECRET; the subject is the actor id and the roles claim feeds the settings policy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logJSON)
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" && !allowActorHeader {
				return fmt.Errorf("REVIEWFLOW_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, eng, err := app.Open(ctx, viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			m := metrics.New()
			eng.Metrics = m
			eng.Logger = logger

			// A nil *nats.Conn must not reach BuildSinks as a non-nil interface.
			var pub notify.Publisher
			if url := cfg.Notifications.NATS.URL; url != "" {
				nc, err := notify.ConnectNATS(url, logger)
				if err != nil {
					return fmt.Errorf("connect nats %s: %w", url, err)
				}
				defer nc.Drain()
				pub = nc
			}
			sinks := notify.BuildSinks(cfg.Notifications, pub, logger)
			dispatcher := notify.NewDispatcher(eng.Repo, sinks,
				notify.WithInterval(cfg.Notifications.PollInterval()),
				notify.WithBatchSize(cfg.Notifications.BatchSize),
				notify.WithRetry(eng.Retry),
				notify.WithMetrics(m),
				notify.WithLogger(logger),
			)
			eng.Notify = dispatcher.Wake

			handler, err := server.New(server.Config{
				Engine:   eng,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: allowActorHeader,
					Logger:                 logger,
				},
				Policy: auth.Policy{AdminRoles: cfg.Auth.AdminRoles},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return dispatcher.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				logger.Info("serving reviewflow API", "addr", addr, "base_path", basePath, "sinks", len(sinks))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id headers")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "log as JSON")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func newLogger(asJSON bool) *slog.Logger {
	var h slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if asJSON {
		h = slog.NewJSONHandler(os.Stderr, nil)
	}
	return slog.New(h)
}
