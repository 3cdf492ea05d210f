package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/phishguard/internal/cache"
	"github.com/nao1215/phishguard/internal/metrics"
	"github.com/nao1215/phishguard/internal/model"
)

const (
	// MaxBatchSize is the largest number of URLs accepted in one batch.
	MaxBatchSize = 100

	// DefaultConcurrency is the number of URLs analyzed at once.
	DefaultConcurrency = 8
)

var (
	// ErrEmptyBatch is returned for a batch without URLs.
	ErrEmptyBatch = errors.New("no URLs provided")

	// ErrBatchTooLarge is returned for a batch over MaxBatchSize URLs.
	ErrBatchTooLarge = fmt.Errorf("maximum %d URLs allowed per batch", MaxBatchSize)
)

// Analyzer runs a full analysis of one URL.
type Analyzer interface {
	AnalyzeURL(ctx context.Context, rawURL string, normalize bool) (*model.FullAnalysis, error)
}

// BatchProcessor analyzes lists of URLs concurrently.
type BatchProcessor struct {
	analyzer    Analyzer
	cache       cache.Cache
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// group collapses identical analyses running at the same time, also
	// across batches.
	group singleflight.Group
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent analyses.
// Non-positive values keep the default.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithCache serves and stores results through c.
func WithCache(c cache.Cache) BatchOption {
	return func(b *BatchProcessor) {
		b.cache = c
	}
}

// WithBatchMetrics records cache lookups and batch sizes.
func WithBatchMetrics(m *metrics.Metrics) BatchOption {
	return func(b *BatchProcessor) {
		b.metrics = m
	}
}

// NewBatchProcessor creates a BatchProcessor over analyzer.
func NewBatchProcessor(analyzer Analyzer, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		analyzer:    analyzer,
		concurrency: DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessURLs analyzes urls and returns one item per URL in input order.
//
// Only the first occurrence of a URL is analyzed. Later occurrences copy
// its outcome, including its error. A copied result is marked cached; a
// copied error is not, since nothing was served from a cache. Failures of
// individual URLs are reported in their items and never fail the batch.
func (bp *BatchProcessor) ProcessURLs(ctx context.Context, urls []string, normalize bool) (*model.BatchResult, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(urls) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	bp.logger.Info("starting batch processing",
		"total_urls", len(urls),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()
	bp.metrics.ObserveBatch(len(urls))

	items := make([]model.BatchItem, len(urls))
	first := make(map[string]int, len(urls))

	var g errgroup.Group
	g.SetLimit(bp.concurrency)

	for i, u := range urls {
		if _, seen := first[u]; seen {
			continue
		}
		first[u] = i
		g.Go(func() error {
			items[i] = bp.process(ctx, u, normalize)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	result := &model.BatchResult{
		Total:   len(urls),
		Results: items,
	}
	for i, u := range urls {
		if j := first[u]; j != i {
			dup := items[j]
			dup.Result = dup.Result.Clone()
			dup.Cached = dup.Error == ""
			items[i] = dup
		}
		if items[i].Error == "" {
			result.Successful++
		}
	}

	bp.logger.Info("batch processing complete",
		"total_urls", len(urls),
		"successful", result.Successful,
		"elapsed", time.Since(startTime),
	)
	return result, nil
}

// process analyzes one URL, consulting the cache first.
func (bp *BatchProcessor) process(ctx context.Context, rawURL string, normalize bool) model.BatchItem {
	item := model.BatchItem{URL: rawURL}

	if bp.cache != nil {
		cached, ok, err := bp.cache.Get(ctx, rawURL)
		if err != nil {
			bp.logger.Warn("cache lookup failed", "url", rawURL, "error", err)
		}
		bp.metrics.CacheLookup(ok)
		if ok {
			item.Result = cached
			item.Cached = true
			return item
		}
	}

	key := strconv.FormatBool(normalize) + "|" + rawURL
	v, err, _ := bp.group.Do(key, func() (any, error) {
		a, err := bp.analyzer.AnalyzeURL(ctx, rawURL, normalize)
		if err != nil {
			return nil, err
		}
		if bp.cache != nil {
			if err := bp.cache.Put(ctx, rawURL, a); err != nil {
				bp.logger.Warn("cache store failed", "url", rawURL, "error", err)
			}
		}
		return a, nil
	})
	if err != nil {
		bp.logger.Warn("analysis failed", "url", rawURL, "error", err)
		item.Error = err.Error()
		return item
	}

	// Results shared through singleflight are copied before callers can
	// touch them.
	item.Result = v.(*model.FullAnalysis).Clone() //nolint:forcetypeassert // only FullAnalysis is stored
	return item
}
