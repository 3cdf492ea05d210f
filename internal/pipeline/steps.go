package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nao1215/phishguard/internal/explain"
	"github.com/nao1215/phishguard/internal/fingerprint"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/tor"
	"github.com/nao1215/phishguard/internal/whois"
)

// FingerprintStep attaches the TLSH digest and content hash of the fetched
// page to the analysis.
type FingerprintStep struct {
	logger *slog.Logger
}

// NewFingerprintStep creates a fingerprinting step.
func NewFingerprintStep(logger *slog.Logger) *FingerprintStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintStep{logger: logger}
}

// Name returns the step name.
func (s *FingerprintStep) Name() string {
	return "fingerprint"
}

// Do computes the digest. Pages too small for TLSH keep an empty
// fingerprint.
func (s *FingerprintStep) Do(_ context.Context, a *model.FullAnalysis) error {
	if a.Page == nil || len(a.Page.Raw) == 0 {
		return nil
	}
	if a.ContentHash == "" {
		a.ContentHash = fingerprint.ContentHash(a.Page.Raw)
	}

	digest, err := fingerprint.Digest(a.Page.Raw)
	if errors.Is(err, fingerprint.ErrTooShort) {
		s.logger.Debug("page too small to fingerprint", "url", a.URL, "size", len(a.Page.Raw))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", a.URL, err)
	}
	a.Fingerprint = digest
	return nil
}

// DefaultNewDomainDays is the age below which a domain counts as newly
// registered.
const DefaultNewDomainDays = 90

// DomainLookup resolves WHOIS registration data.
type DomainLookup interface {
	Lookup(ctx context.Context, domain string) (*whois.Record, error)
}

// DomainAgeStep explains URL verdicts with the registration age of the
// domain.
type DomainAgeStep struct {
	lookup        DomainLookup
	newDomainDays int
	now           func() time.Time
	logger        *slog.Logger
}

// DomainAgeStepOption configures a DomainAgeStep.
type DomainAgeStepOption func(*DomainAgeStep)

// WithNewDomainDays sets the age threshold in days.
func WithNewDomainDays(days int) DomainAgeStepOption {
	return func(s *DomainAgeStep) {
		if days > 0 {
			s.newDomainDays = days
		}
	}
}

// WithDomainAgeClock overrides the time source.
func WithDomainAgeClock(now func() time.Time) DomainAgeStepOption {
	return func(s *DomainAgeStep) {
		s.now = now
	}
}

// WithDomainAgeLogger sets a custom logger for the step.
func WithDomainAgeLogger(logger *slog.Logger) DomainAgeStepOption {
	return func(s *DomainAgeStep) {
		s.logger = logger
	}
}

// NewDomainAgeStep creates a WHOIS step backed by lookup.
func NewDomainAgeStep(lookup DomainLookup, opts ...DomainAgeStepOption) *DomainAgeStep {
	s := &DomainAgeStep{
		lookup:        lookup,
		newDomainDays: DefaultNewDomainDays,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *DomainAgeStep) Name() string {
	return "domain_age"
}

// Do looks up the registrable domain of the analyzed URL. WHOIS failures
// are logged and leave the analysis untouched.
func (s *DomainAgeStep) Do(ctx context.Context, a *model.FullAnalysis) error {
	if a.URLModel == nil {
		return nil
	}
	host := a.Host()
	if host == "" || net.ParseIP(host) != nil || tor.IsOnionHost(host) {
		return nil
	}
	domain := explain.RegistrableDomain(a.URL)
	if domain == "" {
		domain = host
	}

	rec, err := s.lookup.Lookup(ctx, domain)
	if err != nil {
		s.logger.Debug("whois lookup failed", "domain", domain, "error", err)
		return nil
	}
	if rec.Created.IsZero() {
		return nil
	}

	age := whois.AgeDays(rec.Created, s.now())
	if age >= s.newDomainDays {
		return nil
	}
	line := fmt.Sprintf("Recently registered domain: %s is %d days old", domain, age)
	if rec.Registrar != "" {
		line += " (registrar: " + rec.Registrar + ")"
	}
	a.URLModel.Explanations = append(a.URLModel.Explanations, line)
	return nil
}

// HistoryStore persists completed analyses.
type HistoryStore interface {
	SaveAnalysis(ctx context.Context, a *model.FullAnalysis) error
}

// HistoryStep saves every analysis to the history store.
type HistoryStep struct {
	store HistoryStore
}

// NewHistoryStep creates a persisting step.
func NewHistoryStep(store HistoryStore) *HistoryStep {
	return &HistoryStep{store: store}
}

// Name returns the step name.
func (s *HistoryStep) Name() string {
	return "history"
}

// Do saves a.
func (s *HistoryStep) Do(ctx context.Context, a *model.FullAnalysis) error {
	if err := s.store.SaveAnalysis(ctx, a); err != nil {
		return fmt.Errorf("save analysis %s: %w", a.ID, err)
	}
	return nil
}

// SimilarityIndex finds stored analyses with a similar fingerprint.
type SimilarityIndex interface {
	FindSimilar(ctx context.Context, digest string, maxDistance int, excludeID string) ([]model.SimilarPage, error)
}

// SimilarityStep links the analysis to earlier pages whose HTML is nearly
// identical. It needs the fingerprint set by FingerprintStep.
type SimilarityStep struct {
	index       SimilarityIndex
	maxDistance int
}

// NewSimilarityStep creates a step matching within maxDistance. A
// non-positive distance uses fingerprint.DefaultMaxDistance.
func NewSimilarityStep(index SimilarityIndex, maxDistance int) *SimilarityStep {
	if maxDistance <= 0 {
		maxDistance = fingerprint.DefaultMaxDistance
	}
	return &SimilarityStep{index: index, maxDistance: maxDistance}
}

// Name returns the step name.
func (s *SimilarityStep) Name() string {
	return "similarity"
}

// Do records the IDs of similar pages, closest first.
func (s *SimilarityStep) Do(ctx context.Context, a *model.FullAnalysis) error {
	if a.Fingerprint == "" {
		return nil
	}
	matches, err := s.index.FindSimilar(ctx, a.Fingerprint, s.maxDistance, a.ID)
	if err != nil {
		return fmt.Errorf("find similar pages: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	a.SimilarTo = make([]string, 0, len(matches))
	phishing := 0
	for _, m := range matches {
		a.SimilarTo = append(a.SimilarTo, m.ID)
		if m.Label == model.LabelPhishing {
			phishing++
		}
	}

	closest := matches[0]
	line := fmt.Sprintf("HTML nearly identical to %d earlier page(s); closest %s at distance %d",
		len(matches), closest.URL, closest.Distance)
	if phishing > 0 {
		line += fmt.Sprintf(", %d previously labeled %s", phishing, strings.ToLower(string(model.LabelPhishing)))
	}
	a.HTMLModel.Explanations = append(a.HTMLModel.Explanations, line)
	return nil
}
