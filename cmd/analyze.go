package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/checker"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/driver"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/interp"
	"github.com/xkilldash9x/scalpel-sast/internal/engine/issues"
	"github.com/xkilldash9x/scalpel-sast/internal/findings"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend/java"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend/javascript"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/workspace"
)

// ErrAnalysisAborted is returned when the issue handler stopped the run.
var ErrAnalysisAborted = errors.New("analysis aborted")

// analysisResult summarizes one analyze run.
type analysisResult struct {
	ScanID   string
	Files    int
	Findings []findings.Finding
	Summary  driver.Summary
	Issues   []issues.FileCount
	Aborted  bool
}

func newAnalyzeCmd(provider storeProvider) *cobra.Command {
	var persist bool

	analyzeCmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Analyze source trees for tainted data flows",
		Long: `Parses every JavaScript and Java file under the given paths, interprets them
symbolically from each entry point and reports flows from sources to sinks.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			res, err := runAnalyze(ctx, logger, cfg, args, persist, provider)
			if res != nil {
				printSummary(cmd.ErrOrStderr(), res)
			}
			return err
		},
	}

	analyzeCmd.Flags().String("rules", "", "Rule file merged after the built-in rules")
	analyzeCmd.Flags().StringP("format", "f", "sarif", "Report format ('sarif' or 'json')")
	analyzeCmd.Flags().StringP("output", "o", "", "Report file path. Defaults to stdout.")
	analyzeCmd.Flags().String("git-ref", "", "Analyze the files committed at this git revision instead of the working tree")
	analyzeCmd.Flags().IntP("concurrency", "j", 8, "Number of files parsed in parallel")
	analyzeCmd.Flags().Int("tolerance", issues.DefaultTolerance, "Issue severity above which the run aborts")
	analyzeCmd.Flags().BoolVar(&persist, "persist", false, "Store findings in PostgreSQL (requires database.url)")
	return analyzeCmd
}

// runAnalyze performs a complete scan of paths. The report is written even
// when the run aborts, so partial results are not lost.
func runAnalyze(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	paths []string,
	persist bool,
	provider storeProvider,
) (*analysisResult, error) {
	start := time.Now()
	res := &analysisResult{ScanID: uuid.New().String()}
	logger.Info("Starting analysis",
		zap.String("scan_id", res.ScanID),
		zap.Strings("paths", paths),
		zap.String("git_ref", cfg.Workspace().GitRef))

	ruleSet, err := loadRules(cfg.Rules())
	if err != nil {
		return nil, err
	}

	handler := issues.NewHandler(logger, cfg.Engine().Tolerance)
	registry := frontend.NewRegistry(javascript.New(logger), java.New(logger))
	program, err := workspace.NewLoader(cfg.Workspace(), registry, handler, logger).Load(ctx, paths)
	if err != nil {
		if issues.IsAbort(err) {
			res.Aborted = true
			res.Issues = handler.Counts()
			return res, fmt.Errorf("%w: %v", ErrAnalysisAborted, err)
		}
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	res.Files = len(program.Units)

	collector := findings.NewCollector(res.ScanID)
	taintChecker := checker.New(ruleSet, collector, logger, cfg.Engine().AggregateDepth)
	actx := interp.NewAnalysisContext(cfg.Engine(), logger, taintChecker, handler)
	for _, unit := range program.Units {
		actx.AddUnit(unit)
	}

	d, err := driver.New(interp.New(actx), logger, ruleSet.SourceQIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	summary, runErr := d.Run(ctx, driver.Collect(program.Units, ruleSet.EntryPoints))
	res.Summary = summary
	res.Findings = collector.All()
	res.Issues = handler.Counts()
	res.Aborted = runErr != nil

	if err := writeReport(logger, res.Findings, cfg.Report().Format, cfg.Report().Output); err != nil {
		return res, err
	}

	if persist {
		if err := persistFindings(ctx, cfg, provider, res); err != nil {
			return res, err
		}
	}

	logger.Info("Analysis finished",
		zap.String("scan_id", res.ScanID),
		zap.Int("files", res.Files),
		zap.Int("findings", len(res.Findings)),
		zap.Int("entry_points", summary.Interpreted),
		zap.Bool("aborted", res.Aborted),
		zap.Duration("duration", time.Since(start)))

	if runErr != nil {
		return res, fmt.Errorf("%w: %v", ErrAnalysisAborted, runErr)
	}
	return res, nil
}

func persistFindings(ctx context.Context, cfg *config.Config, provider storeProvider, res *analysisResult) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		return err
	}
	return storeService.PersistFindings(ctx, res.ScanID, res.Findings)
}

// printSummary writes the human readable outcome of a run to w.
func printSummary(w io.Writer, res *analysisResult) {
	fmt.Fprintf(w, "\nScan %s: %d files, %d entry points, %d findings\n",
		res.ScanID, res.Files, res.Summary.Interpreted, len(res.Findings))
	if len(res.Issues) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tISSUES")
		for _, c := range res.Issues {
			file := c.File
			if file == "" {
				file = "<unknown>"
			}
			fmt.Fprintf(tw, "%s\t%d\n", file, c.Count)
		}
		tw.Flush()
	}
	if res.Aborted {
		fmt.Fprintln(w, "Analysis aborted; results are partial.")
	}
}
