package engine

import (
	"log/slog"
	"time"

	"github.com/nao1215/phishguard/internal/confidence"
	"github.com/nao1215/phishguard/internal/domgraph"
	"github.com/nao1215/phishguard/internal/htmlcodec"
	"github.com/nao1215/phishguard/internal/metrics"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/urlcodec"
)

// Timeouts are the per-stage budgets of an analysis.
type Timeouts struct {
	// URL bounds URL scoring. Exceeding it fails the analysis.
	URL time.Duration
	// HTMLWait bounds how long the analysis waits for the page, measured
	// from the moment the fetch starts.
	HTMLWait time.Duration
	// HTMLScore bounds HTML scoring.
	HTMLScore time.Duration
	// DOM bounds DOM scoring.
	DOM time.Duration
	// Resource bounds FetchResource.
	Resource time.Duration
}

// DefaultTimeouts returns the stage budgets used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		URL:       10 * time.Second,
		HTMLWait:  9 * time.Second,
		HTMLScore: 10 * time.Second,
		DOM:       10 * time.Second,
		Resource:  5 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.URL <= 0 {
		t.URL = d.URL
	}
	if t.HTMLWait <= 0 {
		t.HTMLWait = d.HTMLWait
	}
	if t.HTMLScore <= 0 {
		t.HTMLScore = d.HTMLScore
	}
	if t.DOM <= 0 {
		t.DOM = d.DOM
	}
	if t.Resource <= 0 {
		t.Resource = d.Resource
	}
	return t
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel registers the scorer and calibrated threshold of a modality.
// A model without a scorer is treated as not loaded.
func WithModel(m model.Modality, mdl Model) Option {
	return func(e *Engine) {
		if mdl.Scorer == nil {
			delete(e.models, m)
			return
		}
		e.models[m] = mdl
	}
}

// WithURLVocab sets the URL character vocabulary and sequence length.
func WithURLVocab(v *urlcodec.Vocab, maxLen int) Option {
	return func(e *Engine) {
		e.urlVocab = v
		if maxLen > 0 {
			e.urlMaxLen = maxLen
		}
	}
}

// WithHTMLCodec replaces the HTML window codec.
func WithHTMLCodec(c *htmlcodec.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.htmlCodec = c
		}
	}
}

// WithTagVocab sets the DOM tag vocabulary and the node bound per graph.
func WithTagVocab(v *domgraph.TagVocab, maxNodes int) Option {
	return func(e *Engine) {
		e.tagVocab = v
		if maxNodes > 0 {
			e.maxNodes = maxNodes
		}
	}
}

// WithFetcher sets the page fetcher.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) {
		if f != nil {
			e.fetcher = f
		}
	}
}

// WithCheckRule sets the confidence rule of single-modality checks.
func WithCheckRule(r confidence.Rule) Option {
	return func(e *Engine) {
		if r != nil {
			e.checkRule = r
		}
	}
}

// WithAnalysisRule sets the confidence rule of per-modality results in
// full analyses.
func WithAnalysisRule(r confidence.Rule) Option {
	return func(e *Engine) {
		if r != nil {
			e.analysisRule = r
		}
	}
}

// WithTimeouts sets the stage budgets. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) {
		e.timeouts = t.withDefaults()
	}
}

// WithPostProcessor runs p after every full or file analysis.
func WithPostProcessor(p PostProcessor) Option {
	return func(e *Engine) {
		e.post = p
	}
}

// WithMetrics records analysis and scorer metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how analysis IDs are created.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}
