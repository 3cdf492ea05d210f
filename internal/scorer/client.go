package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable indicates a model sidecar is unreachable or unhealthy.
var ErrUnavailable = errors.New("model service unavailable")

const defaultTimeout = 10 * time.Second

// predictResponse is the body returned by POST /predict.
type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// Health is the body returned by GET /health.
type Health struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version,omitempty"`
	Device       string `json:"device,omitempty"`
}

// Client scores features by calling a model sidecar over HTTP. Every call
// goes through a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *Breaker
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// NewClient creates a client for the sidecar at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		cfg := DefaultBreakerConfig()
		logger := c.logger
		base := c.baseURL
		cfg.OnStateChange = func(from, to State) {
			logger.Warn("model service circuit changed state",
				"endpoint", base, "from", from.String(), "to", to.String())
		}
		c.breaker = NewBreaker(cfg)
	}
	return c
}

// Score implements Scorer by sending POST /predict.
func (c *Client) Score(ctx context.Context, in *Input) ([]float64, error) {
	var probs []float64
	err := c.breaker.Execute(ctx, func() error {
		var err error
		probs, err = c.predict(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return probs, nil
}

func (c *Client) predict(ctx context.Context, in *Input) ([]float64, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: model service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := Validate(out.Probabilities); err != nil {
		return nil, err
	}
	if rows := in.Rows(); rows > 0 && len(out.Probabilities) != rows {
		return nil, fmt.Errorf("%w: expected %d probabilities, got %d", ErrInvalidResponse, rows, len(out.Probabilities))
	}
	return out.Probabilities, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unhealthy status %d", ErrUnavailable, resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		h.Status = "ok"
	}
	return &h, nil
}

// BreakerState returns the state of the client's circuit breaker.
func (c *Client) BreakerState() State {
	return c.breaker.State()
}
