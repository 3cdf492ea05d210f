package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nao1215/phishguard/internal/config"
	"github.com/nao1215/phishguard/internal/database"
	"github.com/nao1215/phishguard/internal/model"
)

// ErrAnalysisNotFound is returned when --show or --similar names an unknown
// analysis.
var ErrAnalysisNotFound = errors.New("analysis not found")

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [url]",
		Short: "Browse saved analyses",
		Long: `History lists the analyses saved by analyze, batch and serve, newest first.

Examples:
  # List every saved analysis
  phishguard history

  # List the analyses of one URL
  phishguard history https://example.com/login

  # Print one analysis in full
  phishguard history --show 0b6f6c0e-1d0b-4a0e-9a4e-6f1b5f6e2d11

  # List pages whose HTML is nearly identical to an analysis
  phishguard history --similar 0b6f6c0e-1d0b-4a0e-9a4e-6f1b5f6e2d11

  # Count saved analyses per verdict
  phishguard history --stats`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("show", "", "Print the analysis with this ID")
	cmd.Flags().String("similar", "", "List pages similar to the analysis with this ID")
	cmd.Flags().Bool("stats", false, "Print the number of saved analyses per verdict")
	cmd.Flags().Int("limit", 50, "Maximum number of rows to list (0 for all)")
	addReportFlags(cmd)

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	slog.SetDefault(newLogger(cfg, slog.LevelWarn))

	showID, err := cmd.Flags().GetString("show")
	if err != nil {
		return err
	}
	similarID, err := cmd.Flags().GetString("similar")
	if err != nil {
		return err
	}
	stats, err := cmd.Flags().GetBool("stats")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	out, closeOut, err := openOutput(cfg.ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // output is flushed by each write

	ctx := cmd.Context()
	switch {
	case showID != "":
		return showAnalysis(ctx, db, cfg, out, showID)
	case similarID != "":
		return listSimilar(ctx, db, cfg, out, similarID)
	case stats:
		return printStats(ctx, db, out)
	default:
		var url string
		if len(args) > 0 {
			url = args[0]
		}
		return listHistory(ctx, db, out, url, limit)
	}
}

func showAnalysis(ctx context.Context, db *database.HistoryDB, cfg *config.Config, out io.Writer, id string) error {
	a, err := db.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: %s", ErrAnalysisNotFound, id)
	}
	_, err = newReportWriter(cfg, out).WriteAnalysis(a)
	return err
}

func listSimilar(ctx context.Context, db *database.HistoryDB, cfg *config.Config, out io.Writer, id string) error {
	a, err := db.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: %s", ErrAnalysisNotFound, id)
	}
	if a.Fingerprint == "" {
		return fmt.Errorf("analysis %s has no page fingerprint", id)
	}

	pages, err := db.FindSimilar(ctx, a.Fingerprint, cfg.SimilarityDistance, a.ID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		fmt.Fprintf(out, "No pages within distance %d of %s\n", cfg.SimilarityDistance, a.URL)
		return nil
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "URL", "LABEL", "DISTANCE", "ANALYZED AT"})
	for _, p := range pages {
		t.AppendRow(table.Row{p.ID, p.URL, p.Label, p.Distance, formatTime(p.AnalyzedAt)})
	}
	t.Render()
	return nil
}

func printStats(ctx context.Context, db *database.HistoryDB, out io.Writer) error {
	s, err := db.Stats(ctx)
	if err != nil {
		return err
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"LABEL", "ANALYSES"})
	labels := make([]model.Label, 0, len(s.ByLabel))
	for l := range s.ByLabel {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	for _, l := range labels {
		t.AppendRow(table.Row{l, s.ByLabel[l]})
	}
	t.AppendFooter(table.Row{"TOTAL", s.Total})
	t.Render()

	fmt.Fprintf(out, "%d distinct URLs\n", s.URLs)
	return nil
}

func listHistory(ctx context.Context, db *database.HistoryDB, out io.Writer, url string, limit int) error {
	entries, err := db.History(ctx, url)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No saved analyses")
		return nil
	}
	total := len(entries)
	if limit > 0 && total > limit {
		entries = entries[:limit]
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "URL", "LABEL", "PROBABILITY", "CONFIDENCE", "ANALYZED AT"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.ID,
			e.URL,
			e.Label,
			fmt.Sprintf("%.4f", e.Probability),
			fmt.Sprintf("%.4f", e.Confidence),
			formatTime(e.Timestamp),
		})
	}
	t.Render()

	if len(entries) < total {
		fmt.Fprintf(out, "Showing %d of %d analyses (use --limit 0 for all)\n", len(entries), total)
	}
	return nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	return t
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}
