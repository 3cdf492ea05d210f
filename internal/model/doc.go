// Package model defines the core data structures used throughout PhishGuard.
//
// This package contains the following main types:
//   - Outcome: the per-modality result, either Scored or Unavailable
//   - AnalysisResult: the serialized verdict of one model (or the ensemble)
//   - FullAnalysis: the combined URL, HTML, DOM and ensemble verdicts
//   - DOMRecord: the validated node/edge description of a page
//   - Page: a fetched HTML document
//   - BatchResult: the per-URL outcome of a batch request
//
// The models are serializable to JSON for API responses, cache entries and
// history storage.
package model
