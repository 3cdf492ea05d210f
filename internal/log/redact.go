package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeys contains attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	// HTTP headers
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,

	// Authentication
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"api-key":       true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"secret_key":    true,

	// Infrastructure
	"redis_password": true,
	"redis_url":      true,

	// Session
	"session":    true,
	"session_id": true,
	"sessionid":  true,
	"sid":        true,
	"jsessionid": true,

	// Credentials harvested by phishing forms
	"credential":  true,
	"credentials": true,
	"auth":        true,
	"otp":         true,
	"pin":         true,
}

// sensitiveQueryParams are query parameter names whose values are masked
// inside URLs. Matching is case-insensitive.
var sensitiveQueryParams = map[string]bool{
	"token":         true,
	"access_token":  true,
	"id_token":      true,
	"refresh_token": true,
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"session":       true,
	"sessionid":     true,
	"sid":           true,
	"key":           true,
	"apikey":        true,
	"api_key":       true,
	"sig":           true,
	"signature":     true,
	"auth":          true,
	"code":          true,
	"secret":        true,
	"otp":           true,
}

// sensitivePatterns match values that are masked regardless of key name.
var sensitivePatterns = []*regexp.Regexp{
	// JWT tokens
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),

	// Bearer tokens
	regexp.MustCompile(`(?i)^bearer\s+.+`),

	// Basic auth
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),

	// AWS access keys
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}$`),

	// Stripe-style live and test keys
	regexp.MustCompile(`^(sk|pk|rk)_(live|test)_[A-Za-z0-9]{8,}$`),

	// Private key markers
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// MaskValue replaces masked attribute values.
const MaskValue = "***REDACTED***"

// maskedUser replaces URL userinfo and masked query values. It has no
// asterisks so the URL stays readable once escaped.
const maskedUser = "REDACTED"

// RedactingHandler masks secrets in record attributes before handing the
// record to the wrapped handler.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next, or the default handler when next is nil.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	if next == nil {
		next = slog.Default().Handler()
	}
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactingHandler{next: h.next.WithAttrs(redactAll(attrs))}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redact(a)
	}
	return out
}

// redact masks a by key name first, then by value shape. URL values keep
// host and path.
func redact(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redactAll(a.Value.Group())...)}
	}

	key := strings.ToLower(a.Key)
	if sensitiveKeys[key] || containsSensitiveKeyword(key) {
		return slog.String(a.Key, MaskValue)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if isSensitiveValue(v) {
		return slog.String(a.Key, MaskValue)
	}
	if masked, ok := RedactURL(v); ok {
		return slog.String(a.Key, masked)
	}
	return a
}

// sensitiveFragments mask any key containing them. The bare word "key" is
// not one: cache_key is a routine attribute here.
var sensitiveFragments = []string{"password", "passwd", "secret", "token", "auth", "credential", "private"}

func containsSensitiveKeyword(key string) bool {
	for _, f := range sensitiveFragments {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func isSensitiveValue(v string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

// RedactURL masks the userinfo and sensitive query parameter values of
// an absolute URL. It reports false when s is not an absolute URL or
// carries nothing to mask, in which case s should be used unchanged.
func RedactURL(s string) (string, bool) {
	if !strings.Contains(s, "://") {
		return s, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s, false
	}

	changed := false
	if u.User != nil {
		u.User = url.User(maskedUser)
		changed = true
	}

	if u.RawQuery != "" {
		q, err := url.ParseQuery(u.RawQuery)
		if err == nil {
			for name := range q {
				if sensitiveQueryParams[strings.ToLower(name)] {
					q.Set(name, maskedUser)
					changed = true
				}
			}
			if changed {
				u.RawQuery = q.Encode()
			}
		}
	}

	if !changed {
		return s, false
	}
	return u.String(), true
}

// New returns a logger writing text or JSON records at level through a
// RedactingHandler.
func New(w io.Writer, level slog.Leveler, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(NewRedactingHandler(slog.NewJSONHandler(w, opts)))
	}
	return slog.New(NewRedactingHandler(slog.NewTextHandler(w, opts)))
}

// LevelFor returns Debug when verbose, otherwise quiet. CLI commands pass
// slog.LevelWarn as quiet; the HTTP server passes slog.LevelInfo.
func LevelFor(verbose bool, quiet slog.Level) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return quiet
}
