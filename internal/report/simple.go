package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/phishguard/internal/model"
)

// SimpleWriter outputs human-readable plain text reports for terminals.
type SimpleWriter struct {
	baseWriter

	// verbose prints explanations of every model, not only the ensemble.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteAnalysis outputs one analysis.
func (w *SimpleWriter) WriteAnalysis(a *model.FullAnalysis) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, "PHISHGUARD ANALYSIS")
	w.writeAnalysis(&sb, a)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// WriteBatch outputs a summary and one line per batch item.
func (w *SimpleWriter) WriteBatch(b *model.BatchResult) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, "PHISHGUARD BATCH")

	counts, failed := batchCounts(b)
	sb.WriteString(fmt.Sprintf("URLs:       %d\n", b.Total))
	sb.WriteString(fmt.Sprintf("Successful: %d\n", b.Successful))
	sb.WriteString(fmt.Sprintf("  PHISHING: %d\n", counts[model.LabelPhishing]))
	sb.WriteString(fmt.Sprintf("  BENIGN:   %d\n", counts[model.LabelBenign]))
	sb.WriteString(fmt.Sprintf("  UNKNOWN:  %d\n", counts[model.LabelUnknown]))
	sb.WriteString(fmt.Sprintf("Failed:     %d\n\n", failed))

	w.writeRule(&sb, "RESULTS")
	for _, item := range b.Results {
		cached := ""
		if item.Cached {
			cached = " (cached)"
		}
		if item.Result == nil {
			sb.WriteString(fmt.Sprintf("  [!] %s%s\n      error: %s\n", item.URL, cached, item.Error))
			continue
		}
		e := item.Result.Ensemble
		sb.WriteString(fmt.Sprintf("  [%s] %s%s\n      probability %s, confidence %s\n",
			indicator(e.Label), item.URL, cached, formatProbability(e.Probability), formatProbability(e.Confidence)))
		if w.verbose {
			w.writeExplanations(&sb, e.Explanations, "      ")
		}
	}
	sb.WriteString("\n")

	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s%s\n", strings.Repeat(" ", (70-len(title))/2), title))
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeRule(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeAnalysis(sb *strings.Builder, a *model.FullAnalysis) {
	sb.WriteString(fmt.Sprintf("URL:         %s\n", a.URL))
	if a.ID != "" {
		sb.WriteString(fmt.Sprintf("Analysis ID: %s\n", a.ID))
	}
	sb.WriteString(fmt.Sprintf("Analyzed:    %s\n", a.AnalyzedAt.Format(dateFormat)))
	sb.WriteString(fmt.Sprintf("Verdict:     %s (probability %s, confidence %s)\n\n",
		a.Ensemble.Label, formatProbability(a.Ensemble.Probability), formatProbability(a.Ensemble.Confidence)))

	w.writeRule(sb, "MODELS")
	for _, r := range modelResults(a) {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", indicator(r.Label), r.ModelName))
		sb.WriteString(fmt.Sprintf("    Label:       %s\n", r.Label))
		sb.WriteString(fmt.Sprintf("    Probability: %s\n", formatProbability(r.Probability)))
		sb.WriteString(fmt.Sprintf("    Confidence:  %s\n", formatProbability(r.Confidence)))
		if w.verbose || r.ModelName == a.Ensemble.ModelName {
			w.writeExplanations(sb, r.Explanations, "    ")
		}
		sb.WriteString("\n")
	}

	if len(a.SimilarTo) > 0 {
		w.writeRule(sb, "SIMILAR PAGES")
		for _, id := range a.SimilarTo {
			sb.WriteString(fmt.Sprintf("  [+] %s\n", id))
		}
		sb.WriteString("\n")
	}
}

func (w *SimpleWriter) writeExplanations(sb *strings.Builder, lines []string, indent string) {
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("%s* %s\n", indent, l))
	}
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by PhishGuard\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

// indicator returns a short visual marker for a label.
func indicator(l model.Label) string {
	switch l {
	case model.LabelPhishing:
		return "!!"
	case model.LabelBenign:
		return "ok"
	default:
		return "??"
	}
}
