package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/phishguard/internal/cache"
	"github.com/nao1215/phishguard/internal/domgraph"
	"github.com/nao1215/phishguard/internal/engine"
	"github.com/nao1215/phishguard/internal/fetcher"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/pipeline"
	"github.com/nao1215/phishguard/internal/scorer"
	"github.com/nao1215/phishguard/internal/urlcodec"
)

const loginPage = `<html><head><title>Sign in</title></head><body>
<form action="/session"><input type="text" name="user"><input type="password" name="pass"></form>
<a href="/forgot">forgot password</a></body></html>`

func init() {
	gin.SetMode(gin.TestMode)
}

type fetchFunc func(ctx context.Context, url string) (*model.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (*model.Page, error) {
	return f(ctx, url)
}

func servePage(body string) fetchFunc {
	return func(_ context.Context, url string) (*model.Page, error) {
		p := &model.Page{URL: url, StatusCode: http.StatusOK, ContentType: "text/html", Raw: []byte(body)}
		p.ComputeHash()
		return p, nil
	}
}

func failFetch(err error) fetchFunc {
	return func(context.Context, string) (*model.Page, error) {
		return nil, err
	}
}

func failingScorer(err error) scorer.Scorer {
	return scorer.Func(func(context.Context, *scorer.Input) ([]float64, error) {
		return nil, err
	})
}

type testModels struct {
	url, html, dom scorer.Scorer
}

type testServer struct {
	server *Server
	cache  *cache.Memory
}

func newTestServer(t *testing.T, models testModels, f engine.Fetcher) *testServer {
	t.Helper()

	opts := []engine.Option{
		engine.WithURLVocab(urlcodec.NewVocab([]string{"<pad>", "<unk>", "h", "t", "p", "s", ":", "/", ".", "e", "x", "a", "m", "l", "o", "c"}), 64),
		engine.WithTagVocab(domgraph.NewTagVocab([]string{"html", "head", "body", "form", "input", "a"}), 0),
		engine.WithFetcher(f),
		engine.WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
	}
	if models.url != nil {
		opts = append(opts, engine.WithModel(model.ModalityURL, engine.Model{Scorer: models.url, Threshold: 0.5}))
	}
	if models.html != nil {
		opts = append(opts, engine.WithModel(model.ModalityHTML, engine.Model{Scorer: models.html, Threshold: 0.5}))
	}
	if models.dom != nil {
		opts = append(opts, engine.WithModel(model.ModalityDOM, engine.Model{Scorer: models.dom, Threshold: 0.5}))
	}
	eng := engine.New(opts...)

	c := cache.NewMemory(cache.DefaultTTL)
	batch := pipeline.NewBatchProcessor(eng, pipeline.WithCache(c), pipeline.WithConcurrency(2))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testServer{
		server: NewServer(eng, batch, WithCache(c), WithLogger(logger), WithDevice("cpu")),
		cache:  c,
	}
}

func allModels(p float64) testModels {
	return testModels{url: scorer.Constant(p), html: scorer.Constant(p), dom: scorer.Constant(p)}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHealthAndRoot(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testModels{url: scorer.Constant(0.1)}, servePage(loginPage))

	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "cpu", health["device"])
	assert.Equal(t, map[string]any{"url": true, "html": false, "dom": false}, health["models"])

	w = ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := decode[map[string]any](t, w)
	assert.Equal(t, APIVersion, root["version"])
	assert.Contains(t, root, "models_loaded")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestCheckEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("check_url scores the URL", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.9), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_url", URLRequest{URL: "http://example.com/login"})
		require.Equal(t, http.StatusOK, w.Code)

		v := decode[model.Verdict](t, w)
		assert.Equal(t, model.LabelPhishing, v.Label)
		assert.InDelta(t, 0.9, v.Probability, 1e-9)
	})

	t.Run("check_url_fast is an alias", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.2), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_url_fast", URLRequest{URL: "http://example.com"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, model.LabelBenign, decode[model.Verdict](t, w).Label)
	})

	t.Run("empty URL is rejected", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.2), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_url", URLRequest{URL: "   "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[map[string]string](t, w)["error"], "URL cannot be empty")
	})

	t.Run("malformed JSON is rejected", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.2), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_url", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing model is unavailable", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, testModels{url: scorer.Constant(0.2)}, servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_html", HTMLRequest{HTML: loginPage})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("scorer failure is a bad gateway", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, testModels{url: failingScorer(errors.New("boom"))}, servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_url", URLRequest{URL: "http://example.com"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("check_html scores the document", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.7), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/check_html", HTMLRequest{HTML: loginPage})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, model.LabelPhishing, decode[model.Verdict](t, w).Label)
	})

	t.Run("check_dom accepts tag strings and objects", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.3), servePage(loginPage))
		body := `{"dom":{"nodes":["html",{"tag":"form"},{"tag":"input","attrs":{"type":"password"}}],"edges":[[0,1],[1,2]]}}`
		w := ts.do(t, http.MethodPost, "/api/check_dom", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, model.LabelBenign, decode[model.Verdict](t, w).Label)
	})

	t.Run("check_dom rejects a non-object dom", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.3), servePage(loginPage))
		for _, body := range []string{`{"dom":[1,2]}`, `{"dom":{"edges":[]}}`, `{}`} {
			w := ts.do(t, http.MethodPost, "/api/check_dom", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})
}

func TestAnalyzeURLFull(t *testing.T) {
	t.Parallel()

	t.Run("reachable page with benign models", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.1), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/analyze_url_full", URLRequest{URL: "https://example.com/login"})
		require.Equal(t, http.StatusOK, w.Code)

		a := decode[model.FullAnalysis](t, w)
		require.NotNil(t, a.URLModel)
		assert.Equal(t, model.LabelBenign, a.URLModel.Label)
		assert.Equal(t, model.LabelBenign, a.HTMLModel.Label)
		assert.Equal(t, model.LabelBenign, a.DOMModel.Label)
		assert.Equal(t, model.LabelBenign, a.Ensemble.Label)
		assert.Greater(t, a.Ensemble.Confidence, 0.5)
		assert.NotEmpty(t, a.ID)
	})

	t.Run("unreachable host falls back to the URL model", func(t *testing.T) {
		t.Parallel()

		f := failFetch(fmt.Errorf("%w: dial tcp: lookup phish.invalid: no such host", fetcher.ErrConnection))
		models := testModels{url: scorer.Constant(0.83), html: scorer.Constant(0.1), dom: scorer.Constant(0.1)}
		ts := newTestServer(t, models, f)

		w := ts.do(t, http.MethodPost, "/api/analyze_url_full", URLRequest{URL: "http://phish.invalid/verify"})
		require.Equal(t, http.StatusOK, w.Code)

		a := decode[model.FullAnalysis](t, w)
		assert.Equal(t, model.LabelUnknown, a.HTMLModel.Label)
		assert.Equal(t, model.LabelUnknown, a.DOMModel.Label)
		assert.InDelta(t, 0.83, a.Ensemble.Probability, 1e-9)
		assert.Equal(t, model.LabelPhishing, a.Ensemble.Label)
		assert.Contains(t, strings.Join(a.HTMLModel.Explanations, " "), "connection error")
	})

	t.Run("every model is required", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, testModels{url: scorer.Constant(0.1)}, servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/analyze_url_full", URLRequest{URL: "https://example.com"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAnalyzeHTMLFile(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, allModels(0.8), servePage(loginPage))
	w := ts.do(t, http.MethodPost, "/api/analyze_html_file", HTMLRequest{HTML: loginPage})
	require.Equal(t, http.StatusOK, w.Code)

	a := decode[model.FullAnalysis](t, w)
	assert.Equal(t, model.FileUploadURL, a.URL)
	assert.Nil(t, a.URLModel)
	assert.Equal(t, model.LabelPhishing, a.Ensemble.Label)

	w = ts.do(t, http.MethodPost, "/api/analyze_html_file", HTMLRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnsemble(t *testing.T) {
	t.Parallel()

	t.Run("subset of inputs", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.6), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/ensemble", EnsembleRequest{HTML: loginPage})
		require.Equal(t, http.StatusOK, w.Code)

		r := decode[model.EnsembleReport](t, w)
		assert.Nil(t, r.URL)
		assert.NotNil(t, r.HTML)
		assert.Nil(t, r.DOM)
		assert.InDelta(t, 0.6, r.Ensemble.Probability, 1e-9)
	})

	t.Run("query parameters", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.2), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/ensemble?url=http://example.com", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotNil(t, decode[model.EnsembleReport](t, w).URL)
	})

	t.Run("no input", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.2), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/ensemble", EnsembleRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("every scorer failed", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, testModels{url: failingScorer(errors.New("down"))}, servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/ensemble", EnsembleRequest{URL: "http://example.com"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		r := decode[model.EnsembleReport](t, w)
		require.NotNil(t, r.URL)
		assert.Equal(t, model.LabelUnknown, r.URL.Label)
		assert.Equal(t, model.LabelUnknown, r.Ensemble.Label)
		assert.InDelta(t, 0.5, r.Ensemble.Probability, 1e-9)
		assert.Zero(t, r.Ensemble.Confidence)
	})

	t.Run("no loaded model takes the input", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, testModels{url: failingScorer(errors.New("down"))}, servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/ensemble", EnsembleRequest{HTML: loginPage})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestBatchAnalyzeURLs(t *testing.T) {
	t.Parallel()

	t.Run("repeated URL is served from the first analysis", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.9), servePage(loginPage))
		urls := []string{"http://a.example", "http://b.example", "http://a.example", "http://c.example"}
		w := ts.do(t, http.MethodPost, "/api/batch_analyze_urls", BatchRequest{URLs: urls})
		require.Equal(t, http.StatusOK, w.Code)

		res := decode[model.BatchResult](t, w)
		assert.Equal(t, 4, res.Total)
		assert.Equal(t, 4, res.Successful)
		require.Len(t, res.Results, 4)

		first, repeat := res.Results[0], res.Results[2]
		assert.False(t, first.Cached)
		assert.True(t, repeat.Cached)
		assert.Equal(t, first.URL, repeat.URL)
		assert.Equal(t, first.Result, repeat.Result)
	})

	t.Run("second batch hits the cache", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.9), servePage(loginPage))
		body := BatchRequest{URLs: []string{"http://a.example"}}
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/batch_analyze_urls", body).Code)

		w := ts.do(t, http.MethodPost, "/api/batch_analyze_urls", body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[model.BatchResult](t, w).Results[0].Cached)

		stats := decode[CacheStatsResponse](t, ts.do(t, http.MethodPost, "/api/cache_stats", nil))
		assert.Equal(t, CacheStatsResponse{TotalCached: 1, ActiveCached: 1, TTLSeconds: 3600}, stats)

		w = ts.do(t, http.MethodPost, "/api/cache_clear", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Cache cleared successfully", decode[map[string]string](t, w)["message"])

		stats = decode[CacheStatsResponse](t, ts.do(t, http.MethodPost, "/api/cache_stats", nil))
		assert.Zero(t, stats.TotalCached)
	})

	t.Run("size limits", func(t *testing.T) {
		t.Parallel()

		ts := newTestServer(t, allModels(0.9), servePage(loginPage))
		w := ts.do(t, http.MethodPost, "/api/batch_analyze_urls", BatchRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		tooMany := make([]string, pipeline.MaxBatchSize+1)
		for i := range tooMany {
			tooMany[i] = fmt.Sprintf("http://host%d.example", i)
		}
		w = ts.do(t, http.MethodPost, "/api/batch_analyze_urls", BatchRequest{URLs: tooMany})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFetchURLResources(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fetch  fetchFunc
		status int
	}{
		{name: "success", fetch: servePage(loginPage), status: http.StatusOK},
		{name: "timeout", fetch: failFetch(fmt.Errorf("%w: deadline", fetcher.ErrTimeout)), status: http.StatusRequestTimeout},
		{name: "connection", fetch: failFetch(fmt.Errorf("%w: refused", fetcher.ErrConnection)), status: http.StatusServiceUnavailable},
		{name: "upstream status", fetch: failFetch(&fetcher.HTTPStatusError{StatusCode: http.StatusNotFound}), status: http.StatusNotFound},
		{name: "invalid URL", fetch: failFetch(fmt.Errorf("%w: ftp scheme", fetcher.ErrInvalidURL)), status: http.StatusBadRequest},
		{name: "other", fetch: failFetch(errors.New("tls: handshake failure")), status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t, allModels(0.5), tt.fetch)
			w := ts.do(t, http.MethodPost, "/api/fetch_url_resources", URLRequest{URL: "https://example.com"})
			require.Equal(t, tt.status, w.Code, w.Body.String())

			if tt.status == http.StatusOK {
				resp := decode[FetchResponse](t, w)
				assert.True(t, resp.Success)
				assert.Equal(t, "https://example.com", resp.URL)
				assert.Contains(t, resp.HTML, "<form")
				return
			}
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := gin.New()
	router.Use(recovery(logger))
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, allModels(0.5), servePage(loginPage))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Run(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
