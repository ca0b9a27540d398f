package analyse

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/scanguard/internal/analyzers"
	"github.com/scan-io-git/scanguard/internal/cache"
	"github.com/scan-io-git/scanguard/internal/engine"
	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/internal/mlfilter"
	"github.com/scan-io-git/scanguard/internal/registry"
	"github.com/scan-io-git/scanguard/internal/scheduler"
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
	"github.com/scan-io-git/scanguard/pkg/shared/httpclient"
	"github.com/scan-io-git/scanguard/pkg/shared/logger"
)

// RunOptionsAnalyse holds the arguments for the analyse command.
type RunOptionsAnalyse struct {
	InputFile      string
	Changed        bool
	OutputPath     string
	ReportFormat   string
	Threads        int
	FailOn         string
	ShowSuppressed bool
	NoCache        bool
	IncludeHidden  bool
	Exclude        []string
}

// Global variables for configuration and command arguments
var (
	AppConfig           *config.Config
	ToolVersion         = "dev"
	analyseOptions      RunOptionsAnalyse
	exampleAnalyseUsage = `  # Analysing a project folder
  scanguard analyse /path/to/my_project

  # Analysing the files listed in a file, one path per line
  scanguard analyse --input-file /path/to/files.txt

  # Analysing only files changed in the git working tree
  scanguard analyse --changed /path/to/my_project

  # Writing a SARIF report with 8 workers and failing on medium findings
  scanguard analyse --format sarif --output /path/to/results -j 8 --fail-on medium /path/to/my_project

  # Bypassing the cache and keeping suppressed findings in the JSON output
  scanguard analyse --no-cache --show-suppressed /path/to/my_project`
)

// AnalyseCmd represents the analyse command.
var AnalyseCmd = &cobra.Command{
	Use:                   "analyse [--config/-c PATH] [--format/-f json|sarif] [--output/-o PATH] [-j WORKERS] [--fail-on SEVERITY] {--input-file/-i PATH | --changed PATH | PATH...}",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleAnalyseUsage,
	Short:                 "Runs every enabled analyzer over a set of files and reports the findings",
	RunE:                  runAnalyseCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config, version string) {
	AppConfig = cfg
	ToolVersion = version
	AnalyseCmd.Long = generateLongDescription(AppConfig)
}

// runAnalyseCommand executes the analyse command.
func runAnalyseCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !shared.HasFlags(cmd.Flags()) {
		return cmd.Help()
	}

	logger := logger.NewLogger(AppConfig, "core-analyse")

	if err := validateAnalyseArgs(&analyseOptions, args); err != nil {
		logger.Error("invalid analyse arguments", "error", err)
		return errs.NewCommandError(err, errs.ExitFailure)
	}

	cfg := applyOverrides(AppConfig, &analyseOptions)

	targets, err := collectTargets(afero.NewOsFs(), &analyseOptions, args)
	if err != nil {
		logger.Error("failed to collect files", "error", err)
		return errs.NewCommandError(err, errs.ExitFailure)
	}
	logger.Debug("files collected", "count", len(targets))

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, plugins, err := buildRegistry(logger, cfg)
	if err != nil {
		logger.Error("failed to prepare analyzers", "error", err)
		return errs.NewCommandError(err, errs.ExitFailure)
	}
	defer plugins.Close()

	opts := []engine.Option{
		engine.WithSampler(scheduler.NewSystemSampler()),
		engine.WithVersion(ToolVersion),
	}
	if cfg.CacheEnabled() {
		c := openCache(logger, cfg)
		defer c.Close()
		opts = append(opts, engine.WithCache(c))
	}
	if cfg.MLEnabled() {
		opts = append(opts, engine.WithFilter(loadFilter(ctx, logger, cfg)))
	}

	results, err := engine.New(logger, cfg, reg, opts...).Run(ctx, targets)
	if err != nil {
		logger.Error("analysis failed", "kind", errs.KindOf(err), "error", err)
		return errs.NewCommandError(err, errs.ExitFailure)
	}

	if err := writeResults(results, &analyseOptions, sourceFolder(args)); err != nil {
		logger.Error("failed to write results", "error", err)
		return errs.NewCommandError(err, errs.ExitFailure)
	}

	if gateErr := failOnGate(results, analyseOptions.FailOn); gateErr != nil {
		logger.Info("findings at or above the fail-on severity", "fail_on", analyseOptions.FailOn)
		return errs.NewCommandError(gateErr, errs.ExitFindings)
	}
	if results.Partial {
		logger.Warn("analysis was interrupted, results are partial")
		return errs.NewCommandError(fmt.Errorf("analysis was interrupted"), errs.ExitFailure)
	}

	logger.Info("analyse command completed successfully", "findings", len(results.Visible()))
	return nil
}

// applyOverrides returns a copy of cfg with the command line overrides applied.
func applyOverrides(cfg *config.Config, options *RunOptionsAnalyse) *config.Config {
	out := *cfg
	if options.Threads > 0 {
		out.Engine.MaxWorkers = options.Threads
	}
	if options.NoCache {
		out.Cache.Enabled = config.BoolPtr(false)
	}
	return &out
}

// buildRegistry registers the enabled built-in analyzers and the configured plugins.
func buildRegistry(logger hclog.Logger, cfg *config.Config) (*registry.Registry, *shared.PluginSet, error) {
	reg := registry.New(logger)
	for _, a := range analyzers.Builtin(cfg) {
		if err := reg.Register(a); err != nil {
			return nil, nil, err
		}
	}

	plugins, err := shared.LoadAnalyzerPlugins(logger, cfg.Scanguard.PluginsFolder, cfg.Analyzers.Plugins, cfg.PluginEnv)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range plugins.Analyzers {
		if err := reg.Register(a); err != nil {
			plugins.Close()
			return nil, nil, err
		}
	}
	return reg, plugins, nil
}

// openCache opens the persistent cache and drops entries older than cache.max_age.
func openCache(logger hclog.Logger, cfg *config.Config) *cache.Cache {
	c := cache.Open(logger, afero.NewOsFs(), cfg.Cache.Dir, cfg.Cache.Shards)
	if cfg.Cache.MaxAge > 0 {
		if n, err := c.Prune(cfg.Cache.MaxAge); err != nil {
			logger.Warn("failed to prune cache", "kind", errs.KindOf(err), "error", err)
		} else if n > 0 {
			logger.Debug("cache pruned", "entries", n)
		}
	}
	return c
}

// loadFilter builds the false-positive filter. A model that cannot be loaded leaves the
// filter in passthrough mode.
func loadFilter(ctx context.Context, logger hclog.Logger, cfg *config.Config) *mlfilter.Filter {
	loader := mlfilter.NewLoader(logger, afero.NewOsFs(), httpclient.InitializeRestyClient(logger, cfg))
	model, err := loader.Load(ctx, cfg.ML.Model)
	if err != nil {
		logger.Warn("false-positive filter disabled", "model", cfg.ML.Model, "kind", errs.KindOf(err), "error", err)
		model = nil
	}
	return mlfilter.New(logger, model, cfg.ML.BatchSize)
}

// failOnGate returns an error when visible findings reach the given severity. "none" disables the gate.
func failOnGate(results *findings.AnalysisResults, failOn string) error {
	if strings.EqualFold(failOn, FailOnNone) {
		return nil
	}
	threshold, err := findings.ParseSeverity(failOn)
	if err != nil {
		return err
	}
	if n := results.CountAtOrAbove(threshold); n > 0 {
		return fmt.Errorf("%d finding(s) at or above %s severity", n, threshold)
	}
	return nil
}

// generateLongDescription generates the long description with the analyzers the configuration enables.
func generateLongDescription(cfg *config.Config) string {
	var names []string
	for _, a := range analyzers.Builtin(cfg) {
		names = append(names, a.Name())
	}
	for _, p := range cfg.Analyzers.Plugins {
		names = append(names, p+" (plugin)")
	}
	return fmt.Sprintf(`Runs every enabled analyzer over a set of files in parallel, serves unchanged files from the
cache, filters likely false positives and reports the findings as JSON or SARIF.

Exit codes: 0 no findings at or above --fail-on, 1 findings at or above --fail-on, 2 failure.

List of enabled analyzers:
  %s`, strings.Join(names, "\n  "))
}

// Initialize flags for the analyse command.
func init() {
	AnalyseCmd.Flags().StringVarP(&analyseOptions.ReportFormat, "format", "f", FormatJSON, "Format for the report with results: json or sarif.")
	AnalyseCmd.Flags().BoolP("help", "h", false, "Show help for the analyse command.")
	AnalyseCmd.Flags().StringVarP(&analyseOptions.InputFile, "input-file", "i", "", "Path to a file with the list of files to analyse, one per line.")
	AnalyseCmd.Flags().BoolVar(&analyseOptions.Changed, "changed", false, "Analyse only files modified, staged or untracked in the git working tree of the given path.")
	AnalyseCmd.Flags().StringVarP(&analyseOptions.OutputPath, "output", "o", "", "Path to the output file or directory. Results go to stdout when empty.")
	AnalyseCmd.Flags().IntVarP(&analyseOptions.Threads, "threads", "j", 0, "Maximum number of concurrent workers. Overrides engine.max_workers.")
	AnalyseCmd.Flags().StringVar(&analyseOptions.FailOn, "fail-on", "high", "Exit with code 1 when a visible finding has this severity or higher (info, low, medium, high, critical, none).")
	AnalyseCmd.Flags().BoolVar(&analyseOptions.ShowSuppressed, "show-suppressed", false, "Keep findings suppressed by the false-positive filter in the JSON output.")
	AnalyseCmd.Flags().BoolVar(&analyseOptions.NoCache, "no-cache", false, "Analyse every file without reading or writing the cache.")
	AnalyseCmd.Flags().BoolVar(&analyseOptions.IncludeHidden, "include-hidden", false, "Walk hidden files and directories. VCS metadata is always skipped.")
	AnalyseCmd.Flags().StringSliceVar(&analyseOptions.Exclude, "exclude", nil, "Glob patterns of files or directories to skip while walking.")
}
