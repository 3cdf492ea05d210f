package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/phishguard/internal/engine"
	"github.com/nao1215/phishguard/internal/model"
)

// URLRequest is the body of the URL endpoints.
type URLRequest struct {
	URL string `json:"url"`
	// Normalize reduces the URL to scheme and host before encoding.
	// Defaults to true.
	Normalize *bool `json:"normalize,omitempty"`
}

func (r URLRequest) normalize() bool {
	return r.Normalize == nil || *r.Normalize
}

// HTMLRequest is the body of the HTML endpoints.
type HTMLRequest struct {
	HTML string `json:"html"`
}

// DOMRequest is the body of check_dom.
type DOMRequest struct {
	DOM json.RawMessage `json:"dom"`
}

// EnsembleRequest carries any subset of the three inputs.
type EnsembleRequest struct {
	URL  string          `json:"url,omitempty"`
	HTML string          `json:"html,omitempty"`
	DOM  json.RawMessage `json:"dom,omitempty"`
}

// BatchRequest is the body of batch_analyze_urls.
type BatchRequest struct {
	URLs      []string `json:"urls"`
	Normalize *bool    `json:"normalize,omitempty"`
}

// FetchResponse is returned by fetch_url_resources.
type FetchResponse struct {
	HTML    string `json:"html"`
	URL     string `json:"url"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CacheStatsResponse is returned by cache_stats.
type CacheStatsResponse struct {
	TotalCached  int `json:"total_cached"`
	ActiveCached int `json:"active_cached"`
	TTLSeconds   int `json:"ttl_seconds"`
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":       "PhishGuard backend is running",
		"version":       APIVersion,
		"device":        s.device,
		"models_loaded": s.analyzer.ModelsLoaded(),
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"device": s.device,
		"models": s.analyzer.ModelsLoaded(),
	})
}

func (s *Server) checkURL(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	v, err := s.analyzer.CheckURL(c.Request.Context(), req.URL, req.normalize())
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) checkHTML(c *gin.Context) {
	var req HTMLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	v, err := s.analyzer.CheckHTML(c.Request.Context(), req.HTML)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) checkDOM(c *gin.Context) {
	var req DOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	rec, err := model.ParseDOMRecord(req.DOM)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	v, err := s.analyzer.CheckDOM(c.Request.Context(), rec)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) analyzeURLFull(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	a, err := s.analyzer.AnalyzeURL(c.Request.Context(), req.URL, req.normalize())
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) analyzeHTMLFile(c *gin.Context) {
	var req HTMLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	a, err := s.analyzer.AnalyzeHTML(c.Request.Context(), req.HTML)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ensemble accepts its inputs as a JSON body; url and html may also be
// passed as query parameters.
func (s *Server) ensemble(c *gin.Context) {
	var req EnsembleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		req.URL = c.Query("url")
	}
	if req.HTML == "" {
		req.HTML = c.Query("html")
	}

	in := engine.EnsembleInput{URL: req.URL, HTML: req.HTML}
	if raw := strings.TrimSpace(string(req.DOM)); raw != "" && raw != "null" {
		rec, err := model.ParseDOMRecord(req.DOM)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		in.DOM = rec
	}

	report, err := s.analyzer.Ensemble(c.Request.Context(), in)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) batchAnalyzeURLs(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	normalize := req.Normalize == nil || *req.Normalize

	result, err := s.batch.ProcessURLs(c.Request.Context(), req.URLs, normalize)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) fetchURLResources(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	target := strings.TrimSpace(req.URL)

	page, err := s.analyzer.FetchResource(c.Request.Context(), target)
	if err != nil {
		status, msg := fetchStatusFor(err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, FetchResponse{
		HTML:    page.HTML(),
		URL:     target,
		Success: true,
		Message: "HTML fetched successfully",
	})
}

func (s *Server) cacheStats(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusOK, CacheStatsResponse{})
		return
	}
	stats, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, CacheStatsResponse{
		TotalCached:  stats.Total,
		ActiveCached: stats.Active,
		TTLSeconds:   int(s.cache.TTL().Seconds()),
	})
}

func (s *Server) cacheClear(c *gin.Context) {
	if s.cache != nil {
		if err := s.cache.Clear(c.Request.Context()); err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cache cleared successfully"})
}
