//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/replinet/internal/auth"
	"github.com/danmuck/replinet/internal/config"
	"github.com/danmuck/replinet/internal/logging"
	"github.com/danmuck/replinet/internal/observability"
	"github.com/danmuck/replinet/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		adminAddr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the frame server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = strings.TrimSpace(listenAddr)
			}
			if adminAddr != "" {
				cfg.AdminListenAddr = strings.TrimSpace(adminAddr)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logging.SetLevel(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults when empty)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override listen_addr")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "override admin_listen_addr")
	return cmd
}

func loadServeConfig(path string) (config.ServerConfig, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultServerConfig(), nil
	}
	return config.Load(path)
}

func runServer(ctx context.Context, cfg config.ServerConfig) error {
	logger := logging.Component("replinetd")

	handler := server.NewActionHandler()
	world, err := newDemoWorld()
	if err != nil {
		return err
	}
	if err := world.register(handler); err != nil {
		return err
	}

	srv := server.New(server.Config{
		ListenAddr:     cfg.ListenAddr,
		MaxConnections: cfg.MaxConnections,
		Session:        cfg.Session(),
	}, handler)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("replinetd: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.AdminListenAddr != "" {
		var guard auth.Validator
		if cfg.AdminToken != "" {
			guard = auth.StaticToken{Token: cfg.AdminToken}
		}
		admin := observability.NewAdmin("replinetd", cfg.CorsOrigins, func() any {
			return srv.Connections()
		}, guard, logging.Component("admin"))
		g.Go(func() error {
			return admin.Serve(gctx, cfg.AdminListenAddr)
		})
	}

	logger.Info().
		Str("addr", srv.Addr().String()).
		Str("admin", cfg.AdminListenAddr).
		Int("max_connections", cfg.MaxConnections).
		Msg("replinetd started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("replinetd stopped")
	return nil
}
