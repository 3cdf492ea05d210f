// Package whois looks up domain registration dates.
//
// Freshly registered domains are a strong phishing signal, so the analysis
// pipeline uses the creation date to annotate URL results.
package whois

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	parser "github.com/likexian/whois-parser"
)

// DefaultTimeout bounds one WHOIS query.
const DefaultTimeout = 5 * time.Second

var (
	// ErrEmptyDomain is returned for an empty domain.
	ErrEmptyDomain = errors.New("empty domain")

	// ErrNoRecord is returned when neither the domain nor any parent
	// produced a parsable record.
	ErrNoRecord = errors.New("no WHOIS record found")
)

// dateLayouts lists the creation date formats registries use.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
}

// Record is the parsed subset of a WHOIS response.
type Record struct {
	Domain    string
	Registrar string
	Created   time.Time
	Updated   time.Time
	Expires   time.Time
}

// QueryFunc fetches the raw WHOIS text for a domain.
type QueryFunc func(domain string) (string, error)

// Client performs WHOIS lookups.
type Client struct {
	query QueryFunc
}

// Option configures a Client.
type Option func(*Client)

// WithQueryFunc replaces the network query, mainly for tests.
func WithQueryFunc(fn QueryFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.query = fn
		}
	}
}

// NewClient creates a client that queries WHOIS servers with the given
// timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wc := whois.NewClient().SetTimeout(timeout)
	c := &Client{
		query: func(domain string) (string, error) {
			return wc.Whois(domain)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the registration record of domain. When the domain has no
// record of its own (typically a subdomain), parent domains are tried until
// only two labels remain.
func (c *Client) Lookup(ctx context.Context, domain string) (*Record, error) {
	domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	for {
		rec, err := c.lookupOne(ctx, domain)
		if err == nil {
			return rec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		parts := strings.Split(domain, ".")
		if len(parts) <= 2 {
			return nil, fmt.Errorf("%w for %s: %w", ErrNoRecord, domain, err)
		}
		domain = strings.Join(parts[1:], ".")
	}
}

func (c *Client) lookupOne(ctx context.Context, domain string) (*Record, error) {
	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := c.query(domain)
		ch <- result{raw: raw, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, res.err
	}

	info, err := parser.Parse(res.raw)
	if err != nil {
		return nil, err
	}
	if info.Domain == nil {
		return nil, ErrNoRecord
	}

	rec := &Record{Domain: domain}
	if info.Domain.Domain != "" {
		rec.Domain = strings.ToLower(info.Domain.Domain)
	}
	if info.Registrar != nil {
		rec.Registrar = info.Registrar.Name
	}
	rec.Created, _ = ParseDate(info.Domain.CreatedDate)
	rec.Updated, _ = ParseDate(info.Domain.UpdatedDate)
	rec.Expires, _ = ParseDate(info.Domain.ExpirationDate)
	if rec.Created.IsZero() {
		return nil, fmt.Errorf("%w: missing creation date", ErrNoRecord)
	}
	return rec, nil
}

// ParseDate parses a WHOIS date in any of the common registry formats.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// AgeDays returns the whole days between created and now, never negative.
func AgeDays(created, now time.Time) int {
	if created.IsZero() || now.Before(created) {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}
