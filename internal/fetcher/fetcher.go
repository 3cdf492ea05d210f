// Package fetcher downloads the HTML that a URL resolves to.
//
// Outbound requests share one token-bucket limiter. Hidden services are
// reached through a Tor client when one is configured. Failures are mapped
// to a small set of classes so that callers can explain why a page was not
// analyzed without exposing transport details.
package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/nao1215/phishguard/internal/metrics"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/tor"
)

const (
	// DefaultTimeout bounds a single fetch including redirects.
	DefaultTimeout = 8 * time.Second

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// DefaultRate and DefaultBurst configure the shared limiter.
	DefaultRate  = 10
	DefaultBurst = 20

	maxRedirects = 10
)

// Fetcher retrieves pages over HTTP(S).
type Fetcher struct {
	client      *http.Client
	torClient   *http.Client
	limiter     *rate.Limiter
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize limits how many body bytes are kept.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// WithRateLimit sets the shared limiter. A non-positive rps disables
// limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Fetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(rps)
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the clearnet HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTor routes .onion hosts through the given Tor client.
func WithTor(c *tor.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.torClient = c.NewHTTPClient()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMetrics records fetch durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a Fetcher with the default limiter and timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		limiter:     rate.NewLimiter(DefaultRate, DefaultBurst),
		userAgent:   DefaultUserAgent,
		maxBodySize: model.MaxPageSize,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = newClearnetClient()
	}
	return f
}

// newClearnetClient skips certificate verification: phishing kits are often
// served with self-signed or mismatched certificates and the page must still
// be analyzed.
func newClearnetClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, //nolint:gosec // analyzed pages are untrusted by definition
			},
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// Timeout returns the per-fetch timeout.
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

// Fetch downloads rawURL and returns the page decoded to UTF-8.
// Responses with status >= 400 are returned as *HTTPStatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.Page, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	client := f.client
	if tor.IsOnionHost(u.Host) {
		if !tor.IsValidV3Address(u.Hostname()) {
			return nil, fmt.Errorf("%w: %s is not a valid v3 onion address", ErrInvalidURL, u.Hostname())
		}
		if f.torClient == nil {
			return nil, fmt.Errorf("%w: onion host requires Tor", ErrConnection)
		}
		client = f.torClient
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: rate limiter: %w", ErrTimeout, err)
		}
	}

	start := time.Now()
	page, err := f.do(ctx, client, u)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		f.logger.Debug("fetch failed", "url", rawURL, "class", Class(err), "error", err)
		return nil, err
	}
	f.logger.Debug("fetched page", "url", rawURL, "status", page.StatusCode, "bytes", len(page.Raw))
	return page, nil
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, u *url.URL) (*model.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, classify(ctx, err)
	}

	contentType := resp.Header.Get("Content-Type")
	page := &model.Page{
		URL:         u.String(),
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Headers:     resp.Header,
		Raw:         toUTF8(body, contentType),
		FetchedAt:   time.Now(),
	}
	page.ComputeHash()
	return page, nil
}

func parseTarget(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// toUTF8 decodes body using the declared or sniffed charset. Bodies that
// fail to decode are returned unchanged.
func toUTF8(body []byte, contentType string) []byte {
	if len(body) == 0 {
		return body
	}
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	if enc == nil || enc == unicode.UTF8 {
		return body
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return body
	}
	return decoded
}
