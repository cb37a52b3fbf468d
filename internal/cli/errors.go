package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainguard/internal/control"
	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/errorlog"
)

var exportPath string

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect the persisted error log",
}

var errorsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show error counts, top errors and recent errors",
	Run: withErrorLogger(func(ctx context.Context, logger *errorlog.Logger) error {
		return printStats(os.Stdout, logger.Stats(ctx))
	}),
}

var errorsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export error statistics as JSON",
	Run: withErrorLogger(func(ctx context.Context, logger *errorlog.Logger) error {
		data, err := logger.Export(ctx)
		if err != nil {
			return err
		}
		if exportPath == "" || exportPath == "-" {
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(exportPath, data, 0o600); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		slog.Info("Exported error stats", "path", exportPath)
		return nil
	}),
}

var errorsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored error record",
	Run: withErrorLogger(func(ctx context.Context, logger *errorlog.Logger) error {
		logger.Clear(ctx)
		fmt.Println("Error log cleared")
		return nil
	}),
}

func init() {
	errorsExportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "write the export to a file instead of stdout")

	errorsCmd.AddCommand(errorsStatsCmd, errorsExportCmd, errorsClearCmd)
	rootCmd.AddCommand(errorsCmd)
}

func withErrorLogger(fn func(ctx context.Context, logger *errorlog.Logger) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger, closeFn, err := control.OpenErrorLogger(ctx, cfg)
		if err != nil {
			slog.Error("Failed to open error log", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = closeFn()
		}()

		if err := fn(ctx, logger); err != nil {
			slog.Error("Command failed", "error", err)
			os.Exit(1)
		}
	}
}

func printStats(out io.Writer, stats domain.ErrorStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n\n", stats.TotalErrors)

	_, _ = fmt.Fprintln(w, "CATEGORY\tCOUNT")
	for _, c := range domain.AllCategories {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c, stats.ErrorsByCategory[c])
	}

	_, _ = fmt.Fprintln(w, "\nSEVERITY\tCOUNT")
	for _, s := range domain.AllSeverities {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, stats.ErrorsBySeverity[s])
	}

	_, _ = fmt.Fprintln(w, "\nTOP ERROR\tCOUNT\tLAST SEEN")
	for _, top := range stats.TopErrors {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", truncate(top.Message, 80), top.Count, top.LastOccurrence.Format(time.RFC3339))
	}

	_, _ = fmt.Fprintln(w, "\nRECENT\tCATEGORY\tSEVERITY\tMESSAGE")
	for _, rec := range stats.RecentErrors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Timestamp.Format(time.RFC3339), rec.Category, rec.Severity, truncate(rec.Error.Message, 80))
	}

	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
