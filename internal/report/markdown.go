package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/phishguard/internal/model"
)

// MarkdownWriter outputs reports in GitHub-flavored Markdown using
// nao1215/markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteAnalysis outputs one analysis in Markdown format.
func (w *MarkdownWriter) WriteAnalysis(a *model.FullAnalysis) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("PhishGuard Analysis")
	md.PlainText("")

	rows := [][]string{
		{"URL", "`" + a.URL + "`"},
		{"Analyzed", a.AnalyzedAt.Format(dateFormat)},
		{"Verdict", labelText(a.Ensemble.Label)},
		{"Probability", formatProbability(a.Ensemble.Probability)},
		{"Confidence", formatProbability(a.Ensemble.Confidence)},
	}
	if a.ID != "" {
		rows = append([][]string{{"Analysis ID", "`" + a.ID + "`"}}, rows...)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writeAlert(md, a.Ensemble)
	w.writeModels(md, a)

	if len(a.SimilarTo) > 0 {
		md.H2("Similar Pages")
		md.PlainText("")
		md.BulletList(a.SimilarTo...)
		md.PlainText("")
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteBatch outputs a batch summary, a label pie chart and one table row
// per URL.
func (w *MarkdownWriter) WriteBatch(b *model.BatchResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("PhishGuard Batch Report")
	md.PlainText("")

	counts, failed := batchCounts(b)
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{labelText(model.LabelPhishing), strconv.Itoa(counts[model.LabelPhishing])},
			{labelText(model.LabelBenign), strconv.Itoa(counts[model.LabelBenign])},
			{labelText(model.LabelUnknown), strconv.Itoa(counts[model.LabelUnknown])},
			{"❌ Failed", strconv.Itoa(failed)},
			{"**Total**", "**" + strconv.Itoa(b.Total) + "**"},
		},
	})
	md.PlainText("")

	if b.Successful > 0 {
		w.writePieChart(md, counts)
	}

	switch {
	case counts[model.LabelPhishing] > 0:
		md.Cautionf("%d of %d URL(s) were classified as phishing.", counts[model.LabelPhishing], b.Total)
	case failed > 0:
		md.Warningf("%d URL(s) could not be analyzed.", failed)
	default:
		md.Tip("No phishing URLs detected.")
	}
	md.PlainText("")

	md.H2("Results")
	md.PlainText("")
	rows := make([][]string, len(b.Results))
	for i, item := range b.Results {
		cached := "no"
		if item.Cached {
			cached = "yes"
		}
		if item.Result == nil {
			rows[i] = []string{truncateString(item.URL, 60), "❌ Error", "-", "-", cached}
			continue
		}
		e := item.Result.Ensemble
		rows[i] = []string{
			truncateString(item.URL, 60),
			labelText(e.Label),
			formatProbability(e.Probability),
			formatProbability(e.Confidence),
			cached,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Verdict", "Probability", "Confidence", "Cached"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, item := range b.Results {
		if item.Error != "" && !item.Cached {
			md.Details(item.URL, item.Error)
		}
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, e model.AnalysisResult) {
	switch e.Label {
	case model.LabelPhishing:
		md.Cautionf("Phishing detected with probability %s.", formatProbability(e.Probability))
	case model.LabelUnknown:
		md.Warningf("No model produced a verdict.")
	default:
		md.Tip("No phishing indicators above the decision threshold.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeModels(md *markdown.Markdown, a *model.FullAnalysis) {
	md.H2("Models")
	md.PlainText("")

	results := modelResults(a)
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			r.ModelName,
			labelText(r.Label),
			formatProbability(r.Probability),
			formatProbability(r.Confidence),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Model", "Label", "Probability", "Confidence"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, r := range results {
		if len(r.Explanations) == 0 {
			continue
		}
		md.Details(r.ModelName, strings.Join(r.Explanations, "<br>"))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Label]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Verdict Distribution"),
		piechart.WithShowData(true),
	)

	for _, l := range []model.Label{model.LabelPhishing, model.LabelBenign, model.LabelUnknown} {
		if counts[l] > 0 {
			chart.LabelAndIntValue(string(l), uint64(counts[l]))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by PhishGuard*")
}

// labelText decorates a label for Markdown tables.
func labelText(l model.Label) string {
	switch l {
	case model.LabelPhishing:
		return "🔴 PHISHING"
	case model.LabelBenign:
		return "🟢 BENIGN"
	default:
		return "⚪ UNKNOWN"
	}
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
