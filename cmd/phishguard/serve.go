package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nao1215/phishguard/internal/api"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the phishing detection HTTP API",
		Long: `Serve exposes the URL, HTML and DOM models and their ensemble over HTTP.

Endpoints:
  GET  /                            service status and loaded models
  GET  /health                      liveness probe
  GET  /metrics                     Prometheus metrics
  POST /api/check_url               score a URL
  POST /api/check_html              score an HTML document
  POST /api/check_dom               score a DOM graph
  POST /api/analyze_url_full        URL, fetched HTML and DOM with ensemble
  POST /api/analyze_html_file       HTML and DOM of an uploaded document
  POST /api/ensemble                ensemble of any supplied inputs
  POST /api/batch_analyze_urls      full analysis of up to 100 URLs
  POST /api/fetch_url_resources     fetch the HTML of a page
  POST /api/cache_stats             batch cache statistics
  POST /api/cache_clear             empty the batch cache

Examples:
  # Listen on the default address (:8002)
  phishguard serve

  # Listen on a specific address
  phishguard serve --listen 127.0.0.1:9000

  # Use a Redis cache shared between instances
  PHISHGUARD_REDIS_ADDR=127.0.0.1:6379 phishguard serve`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().StringP("listen", "l", "",
		"Listen address (default: :8002, or :$PORT when set)")
	cmd.Flags().String("device", "",
		"Inference device reported by the health endpoints")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyStringFlag(cmd, "listen", &cfg.ListenAddress); err != nil {
		return err
	}
	if err := applyStringFlag(cmd, "device", &cfg.Device); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cfg, slog.LevelInfo)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	a.checkSidecars(ctx)

	srv := api.NewServer(a.engine, a.batch,
		api.WithLogger(logger),
		api.WithCache(a.cache),
		api.WithDevice(cfg.Device),
		api.WithMetricsHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})),
	)
	return srv.Run(ctx, cfg.ListenAddress)
}
