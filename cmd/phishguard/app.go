package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nao1215/phishguard/internal/cache"
	"github.com/nao1215/phishguard/internal/confidence"
	"github.com/nao1215/phishguard/internal/config"
	"github.com/nao1215/phishguard/internal/database"
	"github.com/nao1215/phishguard/internal/domgraph"
	"github.com/nao1215/phishguard/internal/engine"
	"github.com/nao1215/phishguard/internal/fetcher"
	phlog "github.com/nao1215/phishguard/internal/log"
	"github.com/nao1215/phishguard/internal/metrics"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/pipeline"
	"github.com/nao1215/phishguard/internal/report"
	"github.com/nao1215/phishguard/internal/scorer"
	"github.com/nao1215/phishguard/internal/tor"
	"github.com/nao1215/phishguard/internal/urlcodec"
	"github.com/nao1215/phishguard/internal/whois"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getPersistentString retrieves a global string flag the same way.
func getPersistentString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetString(name)
		if err != nil {
			return ""
		}
	}
	return v
}

func getPersistentBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// buildConfig creates a Config from defaults, the config file, .env, the
// environment and the global flags, in increasing order of precedence.
// Command flags are applied by each command afterwards.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)
	cfg.JSONLogs = getPersistentBool(cmd, "json-logs")
	cfg.ConfigFilePath = getPersistentString(cmd, "config")

	// An explicit --config must exist; otherwise a missing file is fine.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cf, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cf.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	}

	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	config.ApplyEnv(cfg)

	return cfg, nil
}

// applyStringFlag copies a string flag into dst when the user set it.
func applyStringFlag(cmd *cobra.Command, name string, dst *string) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func applyBoolFlag(cmd *cobra.Command, name string, dst *bool) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func applyIntFlag(cmd *cobra.Command, name string, dst *int) error {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// addReportFlags registers the output flags shared by analyze, batch and
// history.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

func applyReportFlags(cmd *cobra.Command, cfg *config.Config) error {
	if err := applyBoolFlag(cmd, "json", &cfg.JSONReport); err != nil {
		return err
	}
	if err := applyBoolFlag(cmd, "markdown", &cfg.MarkdownReport); err != nil {
		return err
	}
	return applyStringFlag(cmd, "output", &cfg.ReportFile)
}

// newLogger creates the secure logger. quiet is the level used without
// --verbose.
func newLogger(cfg *config.Config, quiet slog.Level) *slog.Logger {
	return phlog.New(os.Stderr, phlog.LevelFor(cfg.Verbose, quiet), cfg.JSONLogs)
}

// newReportWriter selects the report format requested by cfg.
func newReportWriter(cfg *config.Config, w io.Writer) report.Writer {
	switch {
	case cfg.JSONReport:
		return report.NewJSONWriter(w, report.WithVersion(getVersion()), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		return report.NewMarkdownWriter(w)
	default:
		return report.NewSimpleWriter(w, report.WithVerbose(cfg.Verbose))
	}
}

// openOutput opens path for writing, creating parent directories. An empty
// path returns fallback.
func openOutput(path string, fallback io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return fallback, func() error { return nil }, nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports contain analyzed URLs and should only be readable by the owner.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

// app holds the components shared by serve, analyze and batch.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	scorers  map[model.Modality]*scorer.Client
	cache    cache.Cache
	history  *database.HistoryDB
	engine   *engine.Engine
	batch    *pipeline.BatchProcessor
	closers  []func() error
}

// newApp wires every component described by cfg. The caller must Close
// the returned app.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		scorers:  make(map[model.Modality]*scorer.Client),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed start", "error", cerr)
		}
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	checkRule, err := confidence.Parse(cfg.CheckRule)
	if err != nil {
		return fmt.Errorf("check rule: %w", err)
	}
	analysisRule, err := confidence.Parse(cfg.AnalysisRule)
	if err != nil {
		return fmt.Errorf("analysis rule: %w", err)
	}

	f, err := a.newFetcher(ctx)
	if err != nil {
		return err
	}

	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.history = db
		a.closers = append(a.closers, db.Close)
		a.logger.Info("history database opened", "path", db.Path())
	}

	if err := a.newCache(ctx); err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithFetcher(f),
		engine.WithCheckRule(checkRule),
		engine.WithAnalysisRule(analysisRule),
		engine.WithTimeouts(engine.Timeouts{HTMLWait: cfg.FetchTimeout + time.Second}),
		engine.WithPostProcessor(a.newPostProcessor()),
		engine.WithMetrics(a.metrics),
		engine.WithLogger(a.logger),
	}
	opts = append(opts, a.modelOptions()...)
	a.engine = engine.New(opts...)

	a.batch = pipeline.NewBatchProcessor(a.engine,
		pipeline.WithCache(a.cache),
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithBatchLogger(a.logger),
		pipeline.WithBatchMetrics(a.metrics),
	)

	loaded := a.engine.ModelsLoaded()
	a.logger.Info("models loaded", "url", loaded.URL, "html", loaded.HTML, "dom", loaded.DOM)
	if !loaded.Any() {
		a.logger.Warn("no model is loaded; every analysis will fail until a sidecar is configured")
	}
	return nil
}

func (a *app) newFetcher(ctx context.Context) (*fetcher.Fetcher, error) {
	cfg := a.cfg
	opts := []fetcher.Option{
		fetcher.WithTimeout(cfg.FetchTimeout),
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithMaxBodySize(cfg.MaxBodySize),
		fetcher.WithRateLimit(cfg.FetchRate, cfg.FetchBurst),
		fetcher.WithLogger(a.logger),
		fetcher.WithMetrics(a.metrics),
	}

	if cfg.EnableTor {
		client, err := a.newTorClient(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetcher.WithTor(client))
	}
	return fetcher.New(opts...), nil
}

func (a *app) newTorClient(ctx context.Context) (*tor.Client, error) {
	cfg := a.cfg
	if cfg.UseExternalTor {
		client, err := tor.NewClient(cfg.TorProxyAddress, cfg.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if err := client.CheckConnection(ctx).Err(); err != nil {
			return nil, fmt.Errorf("tor proxy check failed: %w (make sure Tor is running at %s)",
				err, cfg.TorProxyAddress)
		}
		a.logger.Info("Tor proxy connection verified", "address", cfg.TorProxyAddress)
		return client, nil
	}

	fmt.Fprintln(os.Stderr, "Starting embedded Tor daemon...")
	fmt.Fprintf(os.Stderr, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewDaemon(tor.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := embedded.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	a.closers = append(a.closers, func() error {
		a.logger.Info("stopping embedded Tor daemon")
		return embedded.Stop()
	})

	client, err := embedded.NewClient(cfg.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if err := client.CheckConnection(ctx).Err(); err != nil {
		return nil, fmt.Errorf("embedded Tor proxy check failed: %w", err)
	}
	a.logger.Info("embedded Tor daemon started", "socksAddr", embedded.SocksAddr())
	return client, nil
}

func (a *app) newCache(ctx context.Context) error {
	cfg := a.cfg
	if cfg.RedisAddress == "" {
		a.cache = cache.NewMemory(cfg.CacheTTL)
		return nil
	}

	client, err := cache.Dial(ctx, cache.RedisConfig{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.cache = cache.NewRedis(client, cfg.CacheTTL)
	a.logger.Info("using redis cache", "address", cfg.RedisAddress, "db", cfg.RedisDB)
	return nil
}

// newPostProcessor builds the steps run after every full analysis.
func (a *app) newPostProcessor() *pipeline.Pipeline {
	p := pipeline.New(
		pipeline.WithLogger(a.logger),
		pipeline.WithContinueOnError(true),
	)
	p.AddStep(pipeline.NewFingerprintStep(a.logger))

	if a.cfg.EnableWhois {
		p.AddStep(pipeline.NewDomainAgeStep(
			whois.NewClient(a.cfg.WhoisTimeout),
			pipeline.WithNewDomainDays(a.cfg.NewDomainDays),
			pipeline.WithDomainAgeLogger(a.logger),
		))
	}

	// Similarity must run before the analysis itself is stored.
	if a.history != nil {
		p.AddStep(pipeline.NewSimilarityStep(a.history, a.cfg.SimilarityDistance))
		p.AddStep(pipeline.NewHistoryStep(a.history))
	}
	return p
}

// modelOptions registers every modality whose sidecar and lookup tables
// are configured. Anything missing leaves that modality unloaded.
func (a *app) modelOptions() []engine.Option {
	cfg := a.cfg
	var opts []engine.Option

	if vocab, ok := loadTable(a, model.ModalityURL, cfg.URLVocabPath, urlcodec.LoadVocab); ok {
		if opt, ok := a.modelOption(model.ModalityURL, cfg.URLEndpoint, cfg.URLThresholdPath); ok {
			opts = append(opts, opt, engine.WithURLVocab(vocab, cfg.URLMaxLen))
		}
	}

	if opt, ok := a.modelOption(model.ModalityHTML, cfg.HTMLEndpoint, cfg.HTMLThresholdPath); ok {
		opts = append(opts, opt)
	}

	if vocab, ok := loadTable(a, model.ModalityDOM, cfg.TagVocabPath, domgraph.LoadTagVocab); ok {
		if opt, ok := a.modelOption(model.ModalityDOM, cfg.DOMEndpoint, cfg.DOMThresholdPath); ok {
			opts = append(opts, opt, engine.WithTagVocab(vocab, cfg.DOMMaxNodes))
		}
	}
	return opts
}

// loadTable loads the lookup table a modality needs before its scores mean
// anything.
func loadTable[T any](a *app, m model.Modality, path string, load func(string) (T, error)) (T, bool) {
	var zero T
	if path == "" {
		a.logger.Warn("model not loaded: no vocabulary configured", "modality", m)
		return zero, false
	}
	v, err := load(path)
	if err != nil {
		a.logger.Warn("model not loaded", "modality", m, "error", err)
		return zero, false
	}
	return v, true
}

func (a *app) modelOption(m model.Modality, endpoint, thresholdPath string) (engine.Option, bool) {
	if endpoint == "" {
		a.logger.Warn("model not loaded: no endpoint configured", "modality", m)
		return nil, false
	}
	threshold, err := config.LoadThreshold(thresholdPath)
	if err != nil {
		a.logger.Warn("model not loaded", "modality", m, "error", err)
		return nil, false
	}

	client := scorer.NewClient(endpoint,
		scorer.WithTimeout(a.cfg.ScorerTimeout),
		scorer.WithLogger(a.logger.With("modality", string(m))),
	)
	a.scorers[m] = client
	a.logger.Debug("model configured", "modality", m, "endpoint", endpoint, "threshold", threshold)
	return engine.WithModel(m, engine.Model{Scorer: client, Threshold: threshold}), true
}

// checkSidecars logs the health of every configured model sidecar.
func (a *app) checkSidecars(ctx context.Context) {
	for _, m := range model.Modalities() {
		client, ok := a.scorers[m]
		if !ok {
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		h, err := client.Health(hctx)
		cancel()
		if err != nil {
			a.logger.Warn("model sidecar unhealthy", "modality", m, "error", err)
			continue
		}
		a.logger.Info("model sidecar ready",
			"modality", m,
			"status", h.Status,
			"model_version", h.ModelVersion,
			"device", h.Device,
		)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
