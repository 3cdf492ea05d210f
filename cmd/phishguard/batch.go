package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/phishguard/internal/config"
	"github.com/nao1215/phishguard/internal/model"
	"github.com/nao1215/phishguard/internal/pipeline"
	"github.com/nao1215/phishguard/internal/report"
)

// NewBatchCmd creates the batch command.
func NewBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [url...]",
		Short: "Analyze many URLs concurrently",
		Long: `Batch runs a full analysis of every URL, several at a time. Duplicate URLs
are analyzed once and reported as cached.

URLs are read from the arguments and from --list, one per line. Blank lines
and lines starting with # are ignored. Lists longer than 100 URLs are
processed in chunks.

Examples:
  # Analyze URLs from a file
  phishguard batch --list urls.txt

  # Export the results to Excel
  phishguard batch --list urls.txt --xlsx results.xlsx

  # Markdown summary with higher concurrency
  phishguard batch --markdown --concurrency 16 --list urls.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runBatchCmd,
	}

	cmd.Flags().StringP("list", "l", "",
		"File with one URL per line")
	cmd.Flags().Int("concurrency", config.DefaultConcurrency,
		"Number of URLs analyzed at once")
	cmd.Flags().Bool("no-normalize", false,
		"Encode the full URL instead of scheme and host only")
	cmd.Flags().Bool("no-save", false,
		"Do not save analyses to the history database")
	cmd.Flags().String("xlsx", "",
		"Also export the results to an Excel workbook")
	addReportFlags(cmd)

	return cmd
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyReportFlags(cmd, cfg); err != nil {
		return err
	}
	if err := applyIntFlag(cmd, "concurrency", &cfg.Concurrency); err != nil {
		return err
	}
	if err := applyStringFlag(cmd, "xlsx", &cfg.XLSXFile); err != nil {
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
	listPath, err := cmd.Flags().GetString("list")
	if err != nil {
		return err
	}

	urls := append([]string(nil), args...)
	if listPath != "" {
		listed, err := readURLList(listPath)
		if err != nil {
			return err
		}
		urls = append(urls, listed...)
	}
	if len(urls) == 0 {
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

	fmt.Fprintf(cmd.ErrOrStderr(), "Analyzing %d URLs (concurrency: %d)...\n", len(urls), cfg.Concurrency)
	start := time.Now()

	result := &model.BatchResult{}
	for _, chunk := range chunkURLs(urls, pipeline.MaxBatchSize) {
		part, err := a.batch.ProcessURLs(ctx, chunk, !noNormalize)
		if err != nil {
			return err
		}
		mergeBatch(result, part)
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Batch completed in %s: %d/%d succeeded\n\n",
		time.Since(start).Round(time.Millisecond), result.Successful, result.Total)

	out, closeOut, err := openOutput(cfg.ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // output is flushed by the write
	if _, err := newReportWriter(cfg, out).WriteBatch(result); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if cfg.XLSXFile != "" {
		if err := writeXLSX(cfg.XLSXFile, result); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Excel export written to %s\n", cfg.XLSXFile)
	}
	return ctx.Err()
}

// readURLList reads one URL per line, skipping blank lines and # comments.
func readURLList(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided list file
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()
	return parseURLList(f)
}

func parseURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

// chunkURLs splits urls into slices of at most size elements.
func chunkURLs(urls []string, size int) [][]string {
	var chunks [][]string
	for len(urls) > size {
		chunks = append(chunks, urls[:size])
		urls = urls[size:]
	}
	if len(urls) > 0 {
		chunks = append(chunks, urls)
	}
	return chunks
}

func mergeBatch(dst, src *model.BatchResult) {
	dst.Total += src.Total
	dst.Successful += src.Successful
	dst.Results = append(dst.Results, src.Results...)
}

func writeXLSX(path string, result *model.BatchResult) error {
	out, closeOut, err := openOutput(path, nil)
	if err != nil {
		return err
	}
	if _, err := report.NewXLSXWriter(out).WriteBatch(result); err != nil {
		_ = closeOut() //nolint:errcheck // the write error is more useful
		return fmt.Errorf("failed to write Excel export: %w", err)
	}
	return closeOut()
}
