package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/herald/internal/config"
	"github.com/vango-dev/herald/internal/service"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		journal bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the herald server",
		Long: `Run the herald server.

Controllers declared in herald.yaml are registered at startup and
whenever the file changes. The server exposes:

  GET  /api/controllers             list controllers
  POST /api/controllers/{name}/notify
  GET  /stream?controller={name}    websocket notification stream
  GET  /metrics                     Prometheus metrics

Examples:
  herald serve
  herald serve --addr=:9000 --journal
  HERALD_ADDR=0.0.0.0:7070 herald serve -C /etc/herald`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configDir)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if journal {
				cfg.Journal.Enabled = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Log.Debug && !debug {
				InitLogger(true)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from herald.yaml or HERALD_ADDR)")
	cmd.Flags().BoolVar(&journal, "journal", false, "Enable the notification journal")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := service.New(service.Options{
		Config:  cfg,
		Version: version,
		Logger:  slog.Default(),
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
