package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/lorekeeper/recall/pkg/core"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the recall HTTP API. Logs are written as JSON.

Endpoints:
  POST /api/retrieve   hybrid retrieval
  GET  /api/search     plain semantic search
  GET  /healthz        liveness

Examples:
  recall serve --addr :8080
  recall serve --config recall.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logging.Format = "json"

	client, err := core.NewClient(cfg, core.WithLogWriter(os.Stdout))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	logger := client.Logger()
	logging.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(client, logger).Run(ctx, serveAddr)
}
