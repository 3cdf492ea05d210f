package report

import (
	"io"
	"strconv"

	"github.com/nao1215/phishguard/internal/model"
)

// Writer defines the interface for report output.
type Writer interface {
	// WriteAnalysis outputs one full analysis.
	// Returns the number of bytes written and any error encountered.
	WriteAnalysis(a *model.FullAnalysis) (int, error)

	// WriteBatch outputs the result of a batch run.
	WriteBatch(b *model.BatchResult) (int, error)
}

// MultiWriter writes to multiple Writers in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteAnalysis outputs the analysis to all configured Writers.
// Returns the total bytes written and stops on the first error.
func (m *MultiWriter) WriteAnalysis(a *model.FullAnalysis) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteAnalysis(a)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteBatch outputs the batch to all configured Writers.
func (m *MultiWriter) WriteBatch(b *model.BatchResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteBatch(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// dateFormat is how timestamps appear in human-oriented reports.
const dateFormat = "2006-01-02 15:04:05 MST"

// formatProbability renders a probability with four decimals.
func formatProbability(p float64) string {
	return strconv.FormatFloat(p, 'f', 4, 64)
}

// modelResults lists the per-model results of an analysis in display order.
// The URL model is skipped for uploaded files.
func modelResults(a *model.FullAnalysis) []model.AnalysisResult {
	results := make([]model.AnalysisResult, 0, 4)
	if a.URLModel != nil {
		results = append(results, *a.URLModel)
	}
	return append(results, a.HTMLModel, a.DOMModel, a.Ensemble)
}

// batchCounts returns the number of items per ensemble label and the
// number of failed items.
func batchCounts(b *model.BatchResult) (map[model.Label]int, int) {
	return b.LabelCounts(), b.Total - b.Successful
}
