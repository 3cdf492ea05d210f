package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nao1215/phishguard/internal/model"
)

func createTestAnalysis() *model.FullAnalysis {
	urlModel := model.AnalysisResult{
		Probability:  0.91,
		Label:        model.LabelPhishing,
		Confidence:   0.82,
		Explanations: []string{"Uses free TLD"},
		ModelName:    model.ModalityURL.ModelName(),
	}
	return &model.FullAnalysis{
		ID:        "a1b2",
		URL:       "http://secure-login.example.tk/verify",
		URLModel:  &urlModel,
		HTMLModel: model.AnalysisResult{Probability: 0.77, Label: model.LabelPhishing, Confidence: 0.5, ModelName: model.ModalityHTML.ModelName()},
		DOMModel:  model.UnknownResult(model.ModalityDOM.ModelName(), "DOM unavailable: no HTML content"),
		Ensemble: model.AnalysisResult{
			Probability:  0.84,
			Label:        model.LabelPhishing,
			Confidence:   0.68,
			Explanations: []string{"2 of 2 models flagged phishing"},
			ModelName:    model.EnsembleModelName,
		},
		AnalyzedAt: time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
		SimilarTo:  []string{"older-id"},
	}
}

func createTestBatch() *model.BatchResult {
	a := createTestAnalysis()
	benign := createTestAnalysis()
	benign.URL = "https://example.org"
	benign.Ensemble.Label = model.LabelBenign
	benign.Ensemble.Probability = 0.1

	return &model.BatchResult{
		Total:      4,
		Successful: 3,
		Results: []model.BatchItem{
			{URL: a.URL, Result: a},
			{URL: benign.URL, Result: benign},
			{URL: "https://down.example", Error: "scoring failed"},
			{URL: a.URL, Result: a.Clone(), Cached: true},
		},
	}
}

func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes analysis", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).WriteAnalysis(createTestAnalysis()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"PHISHGUARD ANALYSIS",
			"http://secure-login.example.tk/verify",
			"Verdict:     PHISHING (probability 0.8400, confidence 0.6800)",
			"2 of 2 models flagged phishing",
			"SIMILAR PAGES",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
		if strings.Contains(output, "Uses free TLD") {
			t.Error("expected per-model explanations only in verbose mode")
		}
	})

	t.Run("verbose includes model explanations", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).WriteAnalysis(createTestAnalysis()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Uses free TLD") {
			t.Error("expected URL model explanation")
		}
	})

	t.Run("writes batch", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).WriteBatch(createTestBatch()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"PHISHGUARD BATCH",
			"  PHISHING: 2",
			"  BENIGN:   1",
			"Failed:     1",
			"error: scoring failed",
			"(cached)",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("compact analysis", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).WriteAnalysis(createTestAnalysis()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("expected compact single-line output")
		}

		var got model.FullAnalysis
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if got.Ensemble.Label != model.LabelPhishing || got.URLModel == nil {
			t.Errorf("unexpected decoded analysis %+v", got)
		}
	})

	t.Run("pretty batch", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).WriteBatch(createTestBatch()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"total\": 4") {
			t.Errorf("expected indented output, got %s", buf.String())
		}
	})

	t.Run("versioned envelope", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithVersion("1.2.3")).WriteAnalysis(createTestAnalysis()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var env struct {
			Version string             `json:"version"`
			Report  model.FullAnalysis `json:"report"`
		}
		if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if env.Version != "1.2.3" || env.Report.ID != "a1b2" {
			t.Errorf("unexpected envelope %+v", env)
		}
	})

	t.Run("query strings are not escaped", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		a := createTestAnalysis()
		a.URL = "https://example.com/login?a=1&b=2"
		if _, err := NewJSONWriter(&buf).WriteAnalysis(a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "?a=1&b=2") {
			t.Errorf("expected raw query string, got %s", buf.String())
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("analysis", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteAnalysis(createTestAnalysis()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"# PhishGuard Analysis",
			"[!CAUTION]",
			"## Models",
			"🔴 PHISHING",
			"<details>",
			"## Similar Pages",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("benign analysis gets a tip", func(t *testing.T) {
		t.Parallel()

		a := createTestAnalysis()
		a.Ensemble.Label = model.LabelBenign

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteAnalysis(a); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "[!TIP]") {
			t.Error("expected tip alert")
		}
	})

	t.Run("batch", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteBatch(createTestBatch()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{
			"# PhishGuard Batch Report",
			"```mermaid",
			"pie",
			"## Results",
			"https://down.example",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})
}

func TestXLSXWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n, err := NewXLSXWriter(&buf).WriteBatch(createTestBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == 0 || n != buf.Len() {
		t.Errorf("expected %d bytes reported, got %d", buf.Len(), n)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header plus 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "url" || rows[0][1] != "label" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "PHISHING" || rows[2][0] != "https://example.org" {
		t.Errorf("unexpected rows %v", rows[1:3])
	}
	if rows[3][8] != "scoring failed" {
		t.Errorf("expected error column, got %v", rows[3])
	}
}

type failingWriter struct{}

func (failingWriter) WriteAnalysis(*model.FullAnalysis) (int, error) { return 0, errors.New("boom") }
func (failingWriter) WriteBatch(*model.BatchResult) (int, error)     { return 0, errors.New("boom") }

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	m := NewMultiWriter(NewJSONWriter(&a), NewSimpleWriter(&b))

	n, err := m.WriteAnalysis(createTestAnalysis())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != a.Len()+b.Len() {
		t.Errorf("expected %d bytes, got %d", a.Len()+b.Len(), n)
	}

	var c bytes.Buffer
	m = NewMultiWriter(failingWriter{}, NewJSONWriter(&c))
	if _, err := m.WriteBatch(createTestBatch()); err == nil {
		t.Error("expected error")
	}
	if c.Len() != 0 {
		t.Error("expected later writers to be skipped after an error")
	}
}
