package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/phishguard/internal/cache"
	"github.com/nao1215/phishguard/internal/engine"
	"github.com/nao1215/phishguard/internal/model"
)

// APIVersion is reported by the root endpoint.
const APIVersion = "1.0.0"

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Analyzer is the analysis surface served over HTTP.
type Analyzer interface {
	ModelsLoaded() model.ModelsLoaded
	CheckURL(ctx context.Context, rawURL string, normalize bool) (*model.Verdict, error)
	CheckHTML(ctx context.Context, html string) (*model.Verdict, error)
	CheckDOM(ctx context.Context, rec *model.DOMRecord) (*model.Verdict, error)
	AnalyzeURL(ctx context.Context, rawURL string, normalize bool) (*model.FullAnalysis, error)
	AnalyzeHTML(ctx context.Context, html string) (*model.FullAnalysis, error)
	Ensemble(ctx context.Context, in engine.EnsembleInput) (*model.EnsembleReport, error)
	FetchResource(ctx context.Context, rawURL string) (*model.Page, error)
}

// BatchAnalyzer analyzes lists of URLs.
type BatchAnalyzer interface {
	ProcessURLs(ctx context.Context, urls []string, normalize bool) (*model.BatchResult, error)
}

// Server serves the analysis API.
type Server struct {
	analyzer        Analyzer
	batch           BatchAnalyzer
	cache           cache.Cache
	device          string
	metricsHandler  http.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger
	router          *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCache exposes c through the cache_stats and cache_clear endpoints.
// It should be the cache the batch analyzer uses.
func WithCache(c cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithDevice sets the device name reported by health endpoints.
func WithDevice(device string) Option {
	return func(s *Server) {
		s.device = device
	}
}

// WithMetricsHandler serves h on /metrics instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metricsHandler = h
		}
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer creates a server and registers its routes.
func NewServer(analyzer Analyzer, batch BatchAnalyzer, opts ...Option) *Server {
	s := &Server{
		analyzer:        analyzer,
		batch:           batch,
		device:          "cpu",
		metricsHandler:  promhttp.Handler(),
		shutdownTimeout: defaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(recovery(s.logger))
	router.Use(requestLogger(s.logger))
	s.setupRoutes(router)
	s.router = router
	return s
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/", s.root)
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(s.metricsHandler))

	api := router.Group("/api")
	{
		api.POST("/check_url", s.checkURL)
		api.POST("/check_url_fast", s.checkURL)
		api.POST("/check_html", s.checkHTML)
		api.POST("/check_dom", s.checkDOM)
		api.POST("/analyze_url_full", s.analyzeURLFull)
		api.POST("/analyze_html_file", s.analyzeHTMLFile)
		api.POST("/ensemble", s.ensemble)
		api.POST("/batch_analyze_urls", s.batchAnalyzeURLs)
		api.POST("/fetch_url_resources", s.fetchURLResources)
		api.POST("/cache_stats", s.cacheStats)
		api.POST("/cache_clear", s.cacheClear)
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", addr, "device", s.device)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return <-errCh
}
