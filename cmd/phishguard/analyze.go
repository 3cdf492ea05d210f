package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/phishguard/internal/config"
	"github.com/nao1215/phishguard/internal/model"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [url...]",
		Short: "Run a full analysis of URLs or local HTML files",
		Long: `Analyze scores each URL with the URL model, fetches the page, scores its
HTML and DOM, and reports the ensemble verdict.

Local HTML files given with --file are scored with the HTML and DOM models
only. Analyses are saved to the history database unless --no-save is set.

Examples:
  # Analyze a URL
  phishguard analyze https://example.com/login

  # Keep the path and query when encoding the URL
  phishguard analyze --no-normalize https://example.com/login?next=/account

  # Analyze a saved page
  phishguard analyze --file suspicious.html

  # Output a JSON report to a file
  phishguard analyze --json -o report.json https://example.com`,
		Args: cobra.ArbitraryArgs,
		RunE: runAnalyzeCmd,
	}

	cmd.Flags().Bool("no-normalize", false,
		"Encode the full URL instead of scheme and host only")
	cmd.Flags().StringSliceP("file", "F", nil,
		"Local HTML file to analyze (repeatable)")
	cmd.Flags().Bool("no-save", false,
		"Do not save analyses to the history database")
	addReportFlags(cmd)

	return cmd
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		return err
	}
	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return err
	}
	if noSave {
		cfg.SaveToDB = false
	}
	noNormalize, err := cmd.Flags().GetBool("no-normalize")
	if err != nil {
		return err
	}
	files, err := cmd.Flags().GetStringSlice("file")
	if err != nil {
		return err
	}

	if len(args) == 0 && len(files) == 0 {
		return config.ErrNoTarget
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cfg, slog.LevelWarn)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	out, closeOut, err := openOutput(cfg.ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // output is flushed by each write
	w := newReportWriter(cfg, out)

	var errs []error
	emit := func(target string, analysis *model.FullAnalysis, err error) {
		if err != nil {
			logger.Error("analysis failed", "target", target, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			return
		}
		if _, err := w.WriteAnalysis(analysis); err != nil {
			errs = append(errs, fmt.Errorf("%s: failed to write report: %w", target, err))
		}
	}

	for _, target := range args {
		if ctx.Err() != nil {
			break
		}
		analysis, err := a.engine.AnalyzeURL(ctx, target, !noNormalize)
		emit(target, analysis, err)
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		data, err := os.ReadFile(path) //nolint:gosec // user-provided input file
		if err != nil {
			emit(path, nil, err)
			continue
		}
		analysis, err := a.engine.AnalyzeHTML(ctx, string(data))
		emit(path, analysis, err)
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
