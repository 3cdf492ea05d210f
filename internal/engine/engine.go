// Package engine orchestrates the URL, HTML and DOM models.
//
// A full analysis scores the URL while the page is fetched, then scores the
// HTML and the DOM derived from it, and finally combines every outcome into
// an ensemble verdict. Only the URL stage is required: a page that cannot be
// fetched or scored degrades its modality to UNKNOWN with a reason instead
// of failing the request.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/phishguard/internal/confidence"
	"github.com/nao1215/phishguard/internal/domgraph"
	"github.com/nao1215/phishguard/internal/ensemble"
	"github.com/nao1215/phishguard/internal/explain"
	"github.com/nao1215/phishguard/internal/fetcher"
	"github.com/nao1215/phishguard/internal/htmlcodec"
	"github.com/nao1215/phishguard/internal/metrics"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/scorer"
	"github.com/nao1215/phishguard/internal/urlcodec"
)

// Model pairs a scorer with its calibrated decision threshold.
type Model struct {
	Scorer    scorer.Scorer
	Threshold float64
}

// Fetcher retrieves the page a URL resolves to.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.Page, error)
}

// PostProcessor runs after an analysis is complete. Errors are logged and
// never change the analysis outcome.
type PostProcessor interface {
	Run(ctx context.Context, a *model.FullAnalysis) error
}

// EnsembleInput is any subset of the three inputs.
type EnsembleInput struct {
	URL  string
	HTML string
	DOM  *model.DOMRecord
}

func (in EnsembleInput) empty() bool {
	return strings.TrimSpace(in.URL) == "" && strings.TrimSpace(in.HTML) == "" && in.DOM == nil
}

// Engine runs analyses. It is safe for concurrent use.
type Engine struct {
	models map[model.Modality]Model

	urlVocab  *urlcodec.Vocab
	urlMaxLen int
	htmlCodec *htmlcodec.Codec
	tagVocab  *domgraph.TagVocab
	maxNodes  int

	fetcher      Fetcher
	checkRule    confidence.Rule
	analysisRule confidence.Rule
	timeouts     Timeouts
	post         PostProcessor
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// New creates an engine. Modalities become available once both their model
// and their lookup tables are configured.
func New(opts ...Option) *Engine {
	e := &Engine{
		models:       make(map[model.Modality]Model),
		urlMaxLen:    urlcodec.DefaultMaxLen,
		htmlCodec:    htmlcodec.New(),
		maxNodes:     domgraph.DefaultMaxNodes,
		checkRule:    confidence.ThresholdRatio{},
		analysisRule: confidence.ThresholdRatio{},
		timeouts:     DefaultTimeouts(),
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = fetcher.New(fetcher.WithLogger(e.logger), fetcher.WithMetrics(e.metrics))
	}
	return e
}

// ModelsLoaded reports which modalities can be scored.
func (e *Engine) ModelsLoaded() model.ModelsLoaded {
	_, url := e.models[model.ModalityURL]
	_, html := e.models[model.ModalityHTML]
	_, dom := e.models[model.ModalityDOM]
	return model.ModelsLoaded{
		URL:  url && e.urlVocab != nil,
		HTML: html && e.htmlCodec != nil,
		DOM:  dom && e.tagVocab != nil,
	}
}

// CheckURL scores a URL with the URL model only.
func (e *Engine) CheckURL(ctx context.Context, rawURL string, normalize bool) (*model.Verdict, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: URL cannot be empty", ErrInvalidInput)
	}
	if !e.ModelsLoaded().URL {
		return nil, fmt.Errorf("%w: URL model", ErrModelUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeouts.URL)
	defer cancel()
	p, err := e.scoreURL(ctx, rawURL, normalize)
	if err != nil {
		return nil, fmt.Errorf("%w: URL model: %w", ErrScoring, err)
	}
	res := e.result(model.ModalityURL, p, e.checkRule)
	res.Explanations = explain.URL(rawURL, res.Label)
	e.metrics.ObserveAnalysis(metrics.KindCheck, string(res.Label))
	return verdict(res), nil
}

// CheckHTML scores an HTML document with the HTML model only, averaging
// over up to the codec's window bound.
func (e *Engine) CheckHTML(ctx context.Context, html string) (*model.Verdict, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: HTML cannot be empty", ErrInvalidInput)
	}
	if !e.ModelsLoaded().HTML {
		return nil, fmt.Errorf("%w: HTML model", ErrModelUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeouts.HTMLScore)
	defer cancel()
	p, err := e.scoreHTML(ctx, []byte(html))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML model: %w", ErrScoring, err)
	}
	res := e.result(model.ModalityHTML, p, e.checkRule)
	res.Explanations = explain.HTML(html, res.Label)
	e.metrics.ObserveAnalysis(metrics.KindCheck, string(res.Label))
	return verdict(res), nil
}

// CheckDOM scores a DOM record with the DOM model only.
func (e *Engine) CheckDOM(ctx context.Context, rec *model.DOMRecord) (*model.Verdict, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: DOM record is required", ErrInvalidInput)
	}
	if !e.ModelsLoaded().DOM {
		return nil, fmt.Errorf("%w: DOM model", ErrModelUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeouts.DOM)
	defer cancel()
	p, err := e.scoreDOM(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: DOM model: %w", ErrScoring, err)
	}
	res := e.result(model.ModalityDOM, p, e.checkRule)
	res.Explanations = explain.DOM(rec, res.Label)
	e.metrics.ObserveAnalysis(metrics.KindCheck, string(res.Label))
	return verdict(res), nil
}

type urlStage struct {
	p   float64
	err error
}

type fetchStage struct {
	page *model.Page
	err  error
}

// AnalyzeURL runs every modality for a URL and combines them.
//
// URL scoring and the page fetch start together. URL scoring must finish
// within the URL budget or the analysis fails with ErrScoring. The page is
// awaited for at most the HTML wait budget; when it is missing, HTML and
// DOM are reported as UNKNOWN and the ensemble rests on the URL model.
func (e *Engine) AnalyzeURL(ctx context.Context, rawURL string, normalize bool) (*model.FullAnalysis, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: URL cannot be empty", ErrInvalidInput)
	}
	if !e.ModelsLoaded().All() {
		return nil, fmt.Errorf("%w: full analysis needs every model", ErrModelUnavailable)
	}

	log := e.logger.With("url", rawURL)
	log.Debug("analysis state", "state", "URL_SCORING+HTML_FETCHING")

	urlCtx, cancelURL := context.WithTimeout(ctx, e.timeouts.URL)
	defer cancelURL()
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	urlCh := make(chan urlStage, 1)
	fetchCh := make(chan fetchStage, 1)
	htmlTimer := time.NewTimer(e.timeouts.HTMLWait)
	defer htmlTimer.Stop()

	go func() {
		p, err := e.scoreURL(urlCtx, rawURL, normalize)
		urlCh <- urlStage{p: p, err: err}
	}()
	go func() {
		page, err := e.fetcher.Fetch(fetchCtx, rawURL)
		fetchCh <- fetchStage{page: page, err: err}
	}()

	var us urlStage
	select {
	case us = <-urlCh:
	case <-urlCtx.Done():
		us.err = urlCtx.Err()
	}
	if us.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: URL model: %w", ErrScoring, us.err)
	}
	urlResult := e.result(model.ModalityURL, us.p, e.analysisRule)
	urlResult.Explanations = explain.URL(rawURL, urlResult.Label)

	// A page that arrived while the URL stage was still running wins over
	// a timer that has expired in the meantime.
	var fs fetchStage
	select {
	case fs = <-fetchCh:
	default:
		select {
		case fs = <-fetchCh:
		case <-htmlTimer.C:
			cancelFetch()
			fs.err = fmt.Errorf("%w: no page within %s", fetcher.ErrTimeout, e.timeouts.HTMLWait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fs.err == nil && (fs.page == nil || len(bytes.TrimSpace(fs.page.Raw)) == 0) {
		fs.err = errors.New("empty response")
	}

	var (
		htmlOutcome model.Outcome
		htmlResult  model.AnalysisResult
	)
	if fs.err != nil {
		log.Debug("analysis state", "state", "HTML_UNAVAILABLE", "error", fs.err)
		reason := fmt.Sprintf("Could not fetch HTML (%s)", fetcher.Class(fs.err))
		htmlOutcome, htmlResult = e.unavailable(model.ModalityHTML, reason)
		fs.page = nil
	} else {
		log.Debug("analysis state", "state", "HTML_FETCHED", "bytes", len(fs.page.Raw))
		htmlOutcome, htmlResult = e.analyzeHTML(ctx, fs.page.Raw)
	}

	var (
		domOutcome model.Outcome
		domResult  model.AnalysisResult
	)
	if _, ok := htmlOutcome.(model.Scored); ok && fs.page != nil {
		log.Debug("analysis state", "state", "DOM_SCORING")
		domOutcome, domResult = e.analyzeDOM(ctx, fs.page.Raw)
	} else {
		log.Debug("analysis state", "state", "DOM_SKIPPED")
		domOutcome, domResult = e.unavailable(model.ModalityDOM,
			"DOM analysis skipped: HTML content unavailable or analysis failed")
	}

	log.Debug("analysis state", "state", "AGGREGATING")
	ens := ensemble.Aggregate([]ensemble.Vote{
		{Modality: model.ModalityURL, Outcome: model.NewScored(us.p, e.models[model.ModalityURL].Threshold)},
		{Modality: model.ModalityHTML, Outcome: htmlOutcome},
		{Modality: model.ModalityDOM, Outcome: domOutcome},
	})

	a := &model.FullAnalysis{
		ID:         e.newID(),
		URL:        rawURL,
		URLModel:   &urlResult,
		HTMLModel:  htmlResult,
		DOMModel:   domResult,
		Ensemble:   ens,
		AnalyzedAt: e.now(),
		Page:       fs.page,
	}
	if fs.page != nil {
		a.ContentHash = fs.page.Hash
	}

	e.postProcess(ctx, a)
	e.metrics.ObserveAnalysis(metrics.KindFull, string(a.Ensemble.Label))
	log.Debug("analysis state", "state", "DONE", "label", a.Ensemble.Label)
	return a, nil
}

// AnalyzeHTML analyzes an uploaded document with the HTML and DOM models.
// The DOM model runs whenever the document parses, independently of the
// HTML outcome.
func (e *Engine) AnalyzeHTML(ctx context.Context, html string) (*model.FullAnalysis, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: HTML content cannot be empty", ErrInvalidInput)
	}
	loaded := e.ModelsLoaded()
	if !loaded.HTML || !loaded.DOM {
		return nil, fmt.Errorf("%w: HTML or DOM model", ErrModelUnavailable)
	}

	raw := []byte(html)
	htmlOutcome, htmlResult := e.analyzeHTML(ctx, raw)
	domOutcome, domResult := e.analyzeDOM(ctx, raw)

	ens := ensemble.AggregateNamed([]ensemble.Vote{
		{Modality: model.ModalityHTML, Outcome: htmlOutcome},
		{Modality: model.ModalityDOM, Outcome: domOutcome},
	}, model.FileEnsembleModelName)

	page := &model.Page{URL: model.FileUploadURL, ContentType: "text/html", Raw: raw, FetchedAt: e.now()}
	page.ComputeHash()

	a := &model.FullAnalysis{
		ID:          e.newID(),
		URL:         model.FileUploadURL,
		HTMLModel:   htmlResult,
		DOMModel:    domResult,
		Ensemble:    ens,
		AnalyzedAt:  e.now(),
		ContentHash: page.Hash,
		Page:        page,
	}
	e.postProcess(ctx, a)
	e.metrics.ObserveAnalysis(metrics.KindFile, string(a.Ensemble.Label))
	return a, nil
}

// Ensemble scores whichever inputs are provided with the models that are
// loaded and combines them. Inputs whose model is missing are skipped and a
// scoring failure only degrades its own modality.
func (e *Engine) Ensemble(ctx context.Context, in EnsembleInput) (*model.EnsembleReport, error) {
	if in.empty() {
		return nil, fmt.Errorf("%w: at least one input (url, html, or dom) required", ErrInvalidInput)
	}
	loaded := e.ModelsLoaded()
	if !loaded.Any() {
		return nil, fmt.Errorf("%w: no model is loaded", ErrModelUnavailable)
	}

	var (
		report                     model.EnsembleReport
		urlVote, htmlVote, domVote *ensemble.Vote
	)

	g, gctx := errgroup.WithContext(ctx)
	if url := strings.TrimSpace(in.URL); url != "" && loaded.URL {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, e.timeouts.URL)
			defer cancel()
			var res model.AnalysisResult
			var out model.Outcome
			if p, err := e.scoreURL(sctx, url, true); err != nil {
				out, res = e.unavailable(model.ModalityURL, fmt.Sprintf("URL analysis failed: %v", err))
			} else {
				res = e.result(model.ModalityURL, p, e.analysisRule)
				res.Explanations = explain.URL(url, res.Label)
				out = model.NewScored(p, e.models[model.ModalityURL].Threshold)
			}
			report.URL = &res
			urlVote = &ensemble.Vote{Modality: model.ModalityURL, Outcome: out}
			return nil
		})
	}
	if strings.TrimSpace(in.HTML) != "" && loaded.HTML {
		g.Go(func() error {
			out, res := e.analyzeHTML(gctx, []byte(in.HTML))
			report.HTML = &res
			htmlVote = &ensemble.Vote{Modality: model.ModalityHTML, Outcome: out}
			return nil
		})
	}
	if in.DOM != nil && loaded.DOM {
		g.Go(func() error {
			out, res := e.scoreDOMRecord(gctx, in.DOM)
			report.DOM = &res
			domVote = &ensemble.Vote{Modality: model.ModalityDOM, Outcome: out}
			return nil
		})
	}
	_ = g.Wait() // stages never return errors

	// Attempted modalities that all degraded still yield an UNKNOWN
	// ensemble; only inputs that no loaded model could take are an error.
	votes := make([]ensemble.Vote, 0, 3)
	for _, v := range []*ensemble.Vote{urlVote, htmlVote, domVote} {
		if v != nil {
			votes = append(votes, *v)
		}
	}
	if len(votes) == 0 {
		return nil, ErrNoVerdict
	}

	report.Ensemble = ensemble.Aggregate(votes)
	e.metrics.ObserveAnalysis(metrics.KindEnsemble, string(report.Ensemble.Label))
	return &report, nil
}

// FetchResource fetches a page for display within the resource budget.
func (e *Engine) FetchResource(ctx context.Context, rawURL string) (*model.Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: URL cannot be empty", ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeouts.Resource)
	defer cancel()
	return e.fetcher.Fetch(ctx, rawURL)
}

// analyzeHTML scores a document and returns the HTML outcome.
func (e *Engine) analyzeHTML(ctx context.Context, raw []byte) (model.Outcome, model.AnalysisResult) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.HTMLScore)
	defer cancel()

	p, err := e.scoreHTML(sctx, raw)
	if err != nil {
		return e.unavailable(model.ModalityHTML, fmt.Sprintf("HTML analysis failed: %v", err))
	}
	res := e.result(model.ModalityHTML, p, e.analysisRule)
	res.Explanations = explain.HTML(string(raw), res.Label)
	return model.NewScored(p, e.models[model.ModalityHTML].Threshold), res
}

// analyzeDOM extracts the DOM of a document and scores it.
func (e *Engine) analyzeDOM(ctx context.Context, raw []byte) (model.Outcome, model.AnalysisResult) {
	rec, err := domgraph.Extract(bytes.NewReader(raw), e.maxNodes)
	if err != nil {
		return e.unavailable(model.ModalityDOM, fmt.Sprintf("DOM parsing failed: %v", err))
	}
	return e.scoreDOMRecord(ctx, rec)
}

func (e *Engine) scoreDOMRecord(ctx context.Context, rec *model.DOMRecord) (model.Outcome, model.AnalysisResult) {
	sctx, cancel := context.WithTimeout(ctx, e.timeouts.DOM)
	defer cancel()

	p, err := e.scoreDOM(sctx, rec)
	if err != nil {
		return e.unavailable(model.ModalityDOM, fmt.Sprintf("DOM analysis failed: %v", err))
	}
	res := e.result(model.ModalityDOM, p, e.analysisRule)
	res.Explanations = explain.DOM(rec, res.Label)
	return model.NewScored(p, e.models[model.ModalityDOM].Threshold), res
}

func (e *Engine) scoreURL(ctx context.Context, rawURL string, normalize bool) (float64, error) {
	ids := e.urlVocab.Encode(rawURL, e.urlMaxLen, normalize)
	probs, err := e.score(ctx, model.ModalityURL, scorer.URLInput(ids))
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

func (e *Engine) scoreHTML(ctx context.Context, raw []byte) (float64, error) {
	batch := e.htmlCodec.EncodeMulti(raw)
	probs, err := e.score(ctx, model.ModalityHTML, scorer.HTMLInput(batch))
	if err != nil {
		return 0, err
	}
	return scorer.Mean(probs), nil
}

func (e *Engine) scoreDOM(ctx context.Context, rec *model.DOMRecord) (float64, error) {
	g := domgraph.Build(rec, e.tagVocab, e.maxNodes)
	probs, err := e.score(ctx, model.ModalityDOM, scorer.DOMInput(g))
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// score calls the modality's scorer and validates the response shape.
func (e *Engine) score(ctx context.Context, m model.Modality, in *scorer.Input) ([]float64, error) {
	mdl, ok := e.models[m]
	if !ok {
		return nil, ErrModelUnavailable
	}

	probs, err := mdl.Scorer.Score(ctx, in)
	if err == nil {
		err = scorer.Validate(probs)
	}
	if err == nil && len(probs) != in.Rows() {
		err = fmt.Errorf("%w: expected %d probabilities, got %d", scorer.ErrInvalidResponse, in.Rows(), len(probs))
	}

	switch {
	case err == nil:
		e.metrics.ScorerRequest(string(m), metrics.OutcomeOK)
	case errors.Is(err, scorer.ErrCircuitOpen):
		e.metrics.ScorerRequest(string(m), metrics.OutcomeCircuitOpen)
	default:
		e.metrics.ScorerRequest(string(m), metrics.OutcomeError)
	}
	if err != nil {
		return nil, err
	}
	return probs, nil
}

// result labels p against the modality threshold and applies rule.
func (e *Engine) result(m model.Modality, p float64, rule confidence.Rule) model.AnalysisResult {
	t := e.models[m].Threshold
	label := model.LabelFor(p, t)
	return model.AnalysisResult{
		Probability: p,
		Label:       label,
		Confidence:  rule.Confidence(p, t, label),
		ModelName:   m.ModelName(),
	}
}

func (e *Engine) unavailable(m model.Modality, reason string) (model.Outcome, model.AnalysisResult) {
	e.metrics.ModalityDegraded(string(m))
	e.logger.Debug("modality unavailable", "modality", m, "reason", reason)
	return model.Unavailable{Reason: reason}, model.UnknownResult(m.ModelName(), reason)
}

func (e *Engine) postProcess(ctx context.Context, a *model.FullAnalysis) {
	if e.post == nil {
		return
	}
	if err := e.post.Run(ctx, a); err != nil {
		e.logger.Warn("post-analysis pipeline failed", "id", a.ID, "url", a.URL, "error", err)
	}
}

func verdict(r model.AnalysisResult) *model.Verdict {
	return &model.Verdict{
		Probability:  r.Probability,
		Label:        r.Label,
		Confidence:   r.Confidence,
		Explanations: r.Explanations,
	}
}
