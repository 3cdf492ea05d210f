package report

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/nao1215/phishguard/internal/model"
)

// JSONWriter encodes reports in the same shape the HTTP API returns. URLs
// are written without HTML escaping so query strings stay readable.
type JSONWriter struct {
	out     io.Writer
	indent  string
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint indents nested values by two spaces.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) { w.indent = "  " }
}

// WithVersion wraps every report in an Envelope carrying version.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) { w.version = version }
}

// NewJSONWriter returns a JSONWriter writing one document per call to out.
func NewJSONWriter(out io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{out: out}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Envelope records which release produced a report.
type Envelope struct {
	Version string `json:"version"`
	Report  any    `json:"report"`
}

func (w *JSONWriter) WriteAnalysis(a *model.FullAnalysis) (int, error) {
	return w.encode(a)
}

func (w *JSONWriter) WriteBatch(b *model.BatchResult) (int, error) {
	return w.encode(b)
}

func (w *JSONWriter) encode(v any) (int, error) {
	if w.version != "" {
		v = Envelope{Version: w.version, Report: v}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", w.indent)
	if err := enc.Encode(v); err != nil {
		return 0, err
	}
	return w.out.Write(buf.Bytes())
}
