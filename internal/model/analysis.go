package model

import "time"

// AnalysisResult is the verdict of a single model or of the ensemble.
type AnalysisResult struct {
	// Probability is the phishing probability in [0, 1].
	Probability float64 `json:"probability"`

	// Label is PHISHING, BENIGN or UNKNOWN.
	Label Label `json:"label"`

	// Confidence is a scalar in [0, 1]. It is always 0 for UNKNOWN.
	Confidence float64 `json:"confidence"`

	// Explanations are human-readable reasons for the verdict.
	Explanations []string `json:"explanations"`

	// ModelName is the display name of the model that produced the verdict.
	ModelName string `json:"model_name"`
}

// UnknownResult builds the result reported for an unavailable modality.
func UnknownResult(modelName string, reasons ...string) AnalysisResult {
	return AnalysisResult{
		Probability:  UnknownProbability,
		Label:        LabelUnknown,
		Confidence:   0,
		Explanations: append([]string(nil), reasons...),
		ModelName:    modelName,
	}
}

// Clone returns a deep copy of the result.
func (r AnalysisResult) Clone() AnalysisResult {
	r.Explanations = append([]string(nil), r.Explanations...)
	return r
}

// Verdict is the response of a single-modality check.
type Verdict struct {
	Probability  float64  `json:"probability"`
	Label        Label    `json:"label"`
	Confidence   float64  `json:"confidence"`
	Explanations []string `json:"explanations,omitempty"`
}

// FullAnalysis is the combined result of every modality for one input.
type FullAnalysis struct {
	// ID uniquely identifies the analysis in history storage.
	ID string `json:"id,omitempty"`

	// URL is the analyzed URL, or "file_upload" for uploaded HTML.
	URL string `json:"url"`

	// URLModel is nil when no URL was analyzed.
	URLModel *AnalysisResult `json:"url_model"`

	HTMLModel AnalysisResult `json:"html_model"`
	DOMModel  AnalysisResult `json:"dom_model"`
	Ensemble  AnalysisResult `json:"ensemble"`

	// AnalyzedAt is when the ensemble verdict was produced.
	AnalyzedAt time.Time `json:"analyzed_at"`

	// Fingerprint is the TLSH digest of the fetched HTML, if computed.
	Fingerprint string `json:"fingerprint,omitempty"`

	// ContentHash is the SHA3-256 hash of the fetched HTML, if any.
	ContentHash string `json:"content_hash,omitempty"`

	// SimilarTo lists IDs of earlier analyses with near-identical HTML.
	SimilarTo []string `json:"similar_to,omitempty"`

	// Page is the fetched document. It feeds post-analysis steps and is
	// never serialized.
	Page *Page `json:"-"`
}

// FileUploadURL is the URL recorded for analyses of uploaded HTML.
const FileUploadURL = "file_upload"

// Clone returns a deep copy of the analysis. The fetched page is shared
// because nothing mutates it after the fetch completes.
func (a *FullAnalysis) Clone() *FullAnalysis {
	if a == nil {
		return nil
	}
	c := *a
	if a.URLModel != nil {
		u := a.URLModel.Clone()
		c.URLModel = &u
	}
	c.HTMLModel = a.HTMLModel.Clone()
	c.DOMModel = a.DOMModel.Clone()
	c.Ensemble = a.Ensemble.Clone()
	c.SimilarTo = append([]string(nil), a.SimilarTo...)
	return &c
}

// Host returns the host part of the analyzed URL, or an empty string.
func (a *FullAnalysis) Host() string {
	return HostOf(a.URL)
}

// EnsembleReport is the response of an ad-hoc ensemble over any subset of
// inputs. Modalities that were not requested are nil.
type EnsembleReport struct {
	URL      *AnalysisResult `json:"url"`
	HTML     *AnalysisResult `json:"html"`
	DOM      *AnalysisResult `json:"dom"`
	Ensemble AnalysisResult  `json:"ensemble"`
}

// BatchItem is the outcome for one URL of a batch.
type BatchItem struct {
	URL    string        `json:"url"`
	Result *FullAnalysis `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
	Cached bool          `json:"cached"`
}

// BatchResult is the response of a batch request. Results preserve the
// order of the submitted URLs.
type BatchResult struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Results    []BatchItem `json:"results"`
}

// LabelCounts returns the number of successful batch items per ensemble
// label.
func (b *BatchResult) LabelCounts() map[Label]int {
	counts := make(map[Label]int)
	for _, item := range b.Results {
		if item.Result != nil {
			counts[item.Result.Ensemble.Label]++
		}
	}
	return counts
}

// ModelsLoaded reports which modalities are ready to score.
type ModelsLoaded struct {
	URL  bool `json:"url"`
	HTML bool `json:"html"`
	DOM  bool `json:"dom"`
}

// Any reports whether at least one modality is loaded.
func (m ModelsLoaded) Any() bool {
	return m.URL || m.HTML || m.DOM
}

// All reports whether every modality is loaded.
func (m ModelsLoaded) All() bool {
	return m.URL && m.HTML && m.DOM
}

// Has reports whether the given modality is loaded.
func (m ModelsLoaded) Has(modality Modality) bool {
	switch modality {
	case ModalityURL:
		return m.URL
	case ModalityHTML:
		return m.HTML
	case ModalityDOM:
		return m.DOM
	default:
		return false
	}
}

// SimilarPage is an earlier analysis whose HTML fingerprint lies within a
// TLSH distance of a probe digest.
type SimilarPage struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Label      Label     `json:"label"`
	Distance   int       `json:"distance"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}
