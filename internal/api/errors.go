package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/phishguard/internal/engine"
	"github.com/nao1215/phishguard/internal/fetcher"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/pipeline"
)

// statusFor maps an analysis error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, pipeline.ErrEmptyBatch),
		errors.Is(err, pipeline.ErrBatchTooLarge),
		errors.Is(err, model.ErrDOMNotObject),
		errors.Is(err, model.ErrDOMMissingNodes),
		errors.Is(err, model.ErrDOMInvalidNode):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrScoring), errors.Is(err, engine.ErrNoVerdict):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fetchStatusFor maps a page fetch error to an HTTP status and message.
func fetchStatusFor(err error) (int, string) {
	var statusErr *fetcher.HTTPStatusError
	switch {
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, fetcher.ErrInvalidURL):
		return http.StatusBadRequest, "Error fetching URL: " + err.Error()
	case errors.Is(err, fetcher.ErrTimeout):
		return http.StatusRequestTimeout, "Request timeout - URL took too long to respond (may indicate phishing/blocked site)"
	case errors.Is(err, fetcher.ErrConnection):
		return http.StatusServiceUnavailable, "Connection error - cannot reach URL (may be inaccessible)"
	case errors.As(err, &statusErr):
		code := statusErr.StatusCode
		if code < 400 || code > 599 {
			code = http.StatusBadGateway
		}
		return code, statusErr.Error()
	default:
		return http.StatusBadGateway, "Network error - cannot fetch URL: " + err.Error()
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
