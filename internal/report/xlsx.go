package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/nao1215/phishguard/internal/model"
)

// SheetName is the worksheet that holds one row per analyzed URL.
const SheetName = "Analyses"

var xlsxHeaders = []string{
	"url", "label", "probability", "confidence",
	"url_model", "html_model", "dom_model",
	"cached", "error", "id", "analyzed_at",
}

// XLSXWriter outputs reports as an Excel workbook using excelize.
type XLSXWriter struct {
	baseWriter
}

// NewXLSXWriter creates an XLSXWriter that outputs to the given writer.
func NewXLSXWriter(output io.Writer) *XLSXWriter {
	return &XLSXWriter{baseWriter: newBaseWriter(output)}
}

// WriteAnalysis outputs a workbook with a single row.
func (w *XLSXWriter) WriteAnalysis(a *model.FullAnalysis) (int, error) {
	return w.write([]model.BatchItem{{URL: a.URL, Result: a}})
}

// WriteBatch outputs a workbook with one row per batch item, in input
// order.
func (w *XLSXWriter) WriteBatch(b *model.BatchResult) (int, error) {
	return w.write(b.Results)
}

func (w *XLSXWriter) write(items []model.BatchItem) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return 0, err
	}

	for i, h := range xlsxHeaders {
		if err := setCell(f, i+1, 1, h); err != nil {
			return 0, err
		}
	}
	for r, item := range items {
		for c, v := range xlsxRow(item) {
			if err := setCell(f, c+1, r+2, v); err != nil {
				return 0, err
			}
		}
	}

	n, err := f.WriteTo(w.output)
	if err != nil {
		return int(n), fmt.Errorf("failed to write workbook: %w", err)
	}
	return int(n), nil
}

func setCell(f *excelize.File, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, v)
}

func xlsxRow(item model.BatchItem) []any {
	a := item.Result
	if a == nil {
		return []any{item.URL, "", "", "", "", "", "", item.Cached, item.Error, "", ""}
	}
	urlModel := ""
	if a.URLModel != nil {
		urlModel = modelCell(*a.URLModel)
	}
	return []any{
		item.URL,
		string(a.Ensemble.Label),
		a.Ensemble.Probability,
		a.Ensemble.Confidence,
		urlModel,
		modelCell(a.HTMLModel),
		modelCell(a.DOMModel),
		item.Cached,
		item.Error,
		a.ID,
		a.AnalyzedAt.Format(dateFormat),
	}
}

// modelCell renders a per-model result as "LABEL (0.1234)".
func modelCell(r model.AnalysisResult) string {
	return fmt.Sprintf("%s (%s)", r.Label, formatProbability(r.Probability))
}
