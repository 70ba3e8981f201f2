package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
	"github.com/xkilldash9x/scalpel-sast/internal/store"
)

// findingStore is the part of store.Store the commands use.
type findingStore interface {
	EnsureSchema(ctx context.Context) error
	PersistFindings(ctx context.Context, scanID string, fs []findings.Finding) error
	GetFindingsByScanID(ctx context.Context, scanID string) ([]findings.Finding, error)
}

// storeProvider creates a finding store. Tests inject a mock instead of a
// live database connection.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its resources.
	Create(ctx context.Context, cfg *config.Config) (findingStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (findingStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SCALPEL_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// newReportCmd re-renders the findings of a persisted scan.
func newReportCmd(provider storeProvider) *cobra.Command {
	var scanID, outputPath, format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render the stored findings of a previous scan",
		Long: `Loads the findings persisted by "analyze --persist" for a scan ID and
writes them as a SARIF or JSON report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, scanID, outputPath, format, provider)
		},
	}

	reportCmd.Flags().StringVar(&scanID, "scan-id", "", "The ID of the scan to report on (required)")
	_ = reportCmd.MarkFlagRequired("scan-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. Defaults to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", "sarif", "Report format ('sarif' or 'json').")
	return reportCmd
}

func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	scanID, outputPath, format string,
	provider storeProvider,
) error {
	logger.Info("Starting report generation", zap.String("scan_id", scanID))

	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	fs, err := storeService.GetFindingsByScanID(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to load findings for scan %s: %w", scanID, err)
	}
	if len(fs) == 0 {
		logger.Warn("No findings stored for scan", zap.String("scan_id", scanID))
	}
	return writeReport(logger, fs, format, outputPath)
}

// writeReport renders fs with the reporter for format.
func writeReport(logger *zap.Logger, fs []findings.Finding, format, outputPath string) error {
	reporter, err := reporting.New(format, outputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(fs); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	if outputPath != "" {
		logger.Info("Report written", zap.String("path", outputPath), zap.Int("findings", len(fs)))
	}
	return nil
}
