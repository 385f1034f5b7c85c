// File: cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/config"
	"github.com/xkilldash9x/autofill-cli/internal/observability"
	"github.com/xkilldash9x/autofill-cli/internal/store"
)

// runStore is the slice of the run history the commands use.
type runStore interface {
	SaveRun(ctx context.Context, pageURL string, res *schemas.RunResult) error
	RecentRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error)
}

// storeProvider creates the run history store. Tests inject a fake.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface) (runStore, func(), error)
}

// pgStoreProvider connects to PostgreSQL.
type pgStoreProvider struct{}

func (pgStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (AUTOFILL_DATABASE_URL)")
	}
	s, pool, err := store.Connect(ctx, cfg.Database().URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return s, cleanup, nil
}

func newStatusCmd(provider storeProvider) *cobra.Command {
	var limit int
	var format string

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show statistics of the most recent fill runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runStatus(ctx, observability.GetLogger(), cfg, provider, limit, format, cmd.OutOrStdout())
		},
	}
	statusCmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or yaml")
	return statusCmd
}

func runStatus(ctx context.Context, logger *zap.Logger, cfg config.Interface, provider storeProvider, limit int, format string, out io.Writer) error {
	format = strings.ToLower(format)
	switch format {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format %q, use table, json or yaml", format)
	}

	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	runs, err := s.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	logger.Debug("Loaded run history.", zap.Int("runs", len(runs)))

	if format != "table" {
		if runs == nil {
			runs = []schemas.RunRecord{}
		}
		return writeResult(out, "", format, runs)
	}
	return printRunTable(out, runs)
}

func printRunTable(out io.Writer, runs []schemas.RunRecord) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tRESULT\tFILLED\tFAILED\tSKIPPED\tSTEPS\tDURATION\tPAGE")
	var filled, failed int
	for _, r := range runs {
		result := "ok"
		if !r.Success {
			result = "errors"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			shortID(r.RunID), r.StartedAt.Local().Format(time.DateTime), result,
			r.Filled, r.Failed, r.Skipped, r.Steps, r.Duration.Round(time.Millisecond), r.PageURL)
		filled += r.Filled
		failed += r.Failed
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d run(s), %d field(s) filled, %d error(s)\n", len(runs), filled, failed)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
