package model

import (
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Page is a fetched HTML document.
type Page struct {
	// URL is the requested URL.
	URL string `json:"url"`

	// FinalURL is the URL after redirects.
	FinalURL string `json:"final_url,omitempty"`

	// StatusCode is the HTTP response status code.
	StatusCode int `json:"status_code"`

	// ContentType is the value of the Content-Type header.
	ContentType string `json:"content_type,omitempty"`

	// Headers contains the response headers.
	Headers map[string][]string `json:"headers,omitempty"`

	// Raw is the response body decoded to UTF-8, limited to MaxPageSize.
	Raw []byte `json:"-"`

	// Hash is the SHA3-256 hash of Raw.
	Hash string `json:"hash,omitempty"`

	// FetchedAt is when the response finished downloading.
	FetchedAt time.Time `json:"fetched_at"`
}

// MaxPageSize is the maximum number of body bytes kept for a page.
const MaxPageSize = 5 * 1024 * 1024 // 5 MB

// ComputeHash sets Hash to the hex SHA3-256 of the raw body.
// An empty body leaves Hash empty.
func (p *Page) ComputeHash() {
	if len(p.Raw) == 0 {
		p.Hash = ""
		return
	}
	sum := sha3.Sum256(p.Raw)
	p.Hash = hex.EncodeToString(sum[:])
}

// HTML returns the body as a string.
func (p *Page) HTML() string {
	return string(p.Raw)
}

// IsHTML reports whether the content type is HTML. Pages without a content
// type are treated as HTML because phishing kits often omit the header.
func (p *Page) IsHTML() bool {
	if p.ContentType == "" {
		return true
	}
	ct := strings.ToLower(p.ContentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// GetHeader returns the first value of the named header, or "".
func (p *Page) GetHeader(name string) string {
	for k, v := range p.Headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// HostOf returns the lowercase host of raw, or "" when raw does not parse.
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
