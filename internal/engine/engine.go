package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/scan-io-git/scanguard/internal/aggregator"
	"github.com/scan-io-git/scanguard/internal/cache"
	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/internal/mlfilter"
	"github.com/scan-io-git/scanguard/internal/registry"
	"github.com/scan-io-git/scanguard/internal/scheduler"
	"github.com/scan-io-git/scanguard/internal/streaming"
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
	"github.com/scan-io-git/scanguard/pkg/shared/files"
)

// Synthetic finding reported for a file whose analysis overran the per-file timeout.
const (
	TimeoutAnalyzer = "scheduler"
	TimeoutRule     = "analysis-timeout"
)

// skipError carries the reason a file was not analyzed. It is not a failure.
type skipError struct {
	reason streaming.SkipReason
}

func (e *skipError) Error() string { return "skipped: " + string(e.reason) }

// Engine turns a list of files into one AnalysisResults. It holds no per-run state, so one
// Engine may serve several runs, one after another or concurrently.
type Engine struct {
	logger   hclog.Logger
	cfg      *config.Config
	fs       afero.Fs
	registry *registry.Registry
	cache    *cache.Cache
	filter   *mlfilter.Filter
	sampler  scheduler.LoadSampler
	version  string
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFs replaces the OS filesystem. The cache should be built over the same filesystem.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithCache enables the content cache.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithFilter enables the false-positive filter.
func WithFilter(f *mlfilter.Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithSampler lets the scheduler follow system load.
func WithSampler(s scheduler.LoadSampler) Option {
	return func(e *Engine) { e.sampler = s }
}

// WithVersion sets the tool version reported in results.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// New creates an engine over an already filled registry.
func New(logger hclog.Logger, cfg *config.Config, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger.Named("engine"),
		cfg:      cfg,
		fs:       afero.NewOsFs(),
		registry: reg,
		version:  "dev",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run analyzes files and returns the aggregated results.
// The only error it returns is a *errors.FatalConfigurationError, raised before any file is read.
// Cancelling ctx yields a partial result with Partial set, not an error.
func (e *Engine) Run(ctx context.Context, files []string) (*findings.AnalysisResults, error) {
	if e.cfg == nil {
		return nil, errs.NewFatalConfigurationError("", "configuration object is nil")
	}
	if err := config.ValidateConfig(e.cfg); err != nil {
		return nil, err
	}
	fingerprint, err := config.Fingerprint(e.cfg)
	if err != nil {
		return nil, err
	}
	if e.registry == nil {
		return nil, errs.NewFatalConfigurationError("analyzers", "no analyzer registry")
	}

	start := e.now()
	paths := canonicalize(files)
	e.logger.Info("starting analysis", "files", len(paths), "analyzers", e.registry.Len(), "fingerprint", fingerprint)

	results := make([]aggregator.FileResult, len(paths))
	misses := e.partition(paths, fingerprint, results)

	reader := streaming.NewReader(e.logger, e.fs, streaming.Options{
		StreamingThreshold: e.cfg.Engine.StreamingThresholdBytes,
		MaxFileSize:        e.cfg.Engine.MaxFileSizeBytes,
		ChunkSize:          e.cfg.Engine.ChunkSize,
		OverlapLines:       e.cfg.Engine.OverlapLines(),
	})

	missPaths := make([]string, len(misses))
	for j, i := range misses {
		missPaths[j] = paths[i]
	}

	sched := scheduler.New(e.logger, e.sampler, scheduler.Options{
		MaxWorkers:     e.cfg.Engine.MaxWorkers,
		QueueSize:      e.cfg.Engine.QueueSize,
		Timeout:        e.cfg.Engine.Timeout,
		AdjustEvery:    e.cfg.Engine.AdjustEvery,
		AdjustInterval: e.cfg.Engine.AdjustInterval,
	})
	// states[i] is written only by the task with Index i
	states := make([]analyzedState, len(missPaths))
	fresh, err := sched.Run(ctx, missPaths, func(ctx context.Context, task scheduler.Task) ([]findings.Finding, error) {
		return e.analyzeFile(ctx, reader, task.Path, &states[task.Index])
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule analysis: %w", err)
	}

	for j, r := range fresh {
		var state analyzedState
		if r.Outcome == scheduler.OutcomeCompleted {
			// abandoned tasks may still be writing theirs
			state = states[j]
		}
		results[misses[j]] = e.settle(r, fingerprint, state)
	}

	out := aggregator.Aggregate(results)
	if e.filter != nil && e.cfg.MLEnabled() {
		// scoring is cheap; a partial result is still worth filtering
		out.Findings = e.filter.Apply(context.WithoutCancel(ctx), out.Findings, e.cfg.ML.ConfidenceThreshold)
	}
	aggregator.CountSuppressed(out)

	elapsed := e.now().Sub(start)
	out.RunID = uuid.NewString()
	out.ConfigFingerprint = fingerprint
	out.Tool = findings.ToolMetadata{
		Name:              findings.ToolName,
		Version:           e.version,
		ConfigFingerprint: fingerprint,
		Timestamp:         start.UTC(),
	}
	if e.cacheEnabled() {
		out.Summary.CacheMisses = len(misses)
	}
	out.Partial = ctx.Err() != nil || out.Summary.Cancelled > 0
	out.Elapsed = elapsed
	out.Summary.DurationMS = elapsed.Milliseconds()

	metrics := sched.Metrics()
	e.logger.Info("analysis finished",
		"files", out.FileCount,
		"findings", out.Summary.TotalFindings,
		"suppressed", out.Summary.Suppressed,
		"cache_hits", out.Summary.CacheHits,
		"timed_out", out.Summary.TimedOut,
		"partial", out.Partial,
		"workers", metrics.Workers,
		"elapsed", elapsed)
	return out, nil
}

func (e *Engine) cacheEnabled() bool {
	return e.cache != nil && e.cfg.CacheEnabled()
}

// partition fills results for cache hits and returns the indexes of the files to analyze.
func (e *Engine) partition(paths []string, fingerprint string, results []aggregator.FileResult) []int {
	hit := make([]bool, len(paths))
	if e.cacheEnabled() {
		shared.ForEachBounded(e.cfg.Engine.MaxWorkers, paths, func(i int, path string) {
			entry, ok := e.cache.Lookup(path, fingerprint)
			if !ok {
				return
			}
			hit[i] = true
			results[i] = aggregator.FileResult{Path: path, Findings: entry.Findings, FromCache: true}
			e.logger.Trace("cache hit", "path", path, "recorded_duration", entry.AnalysisDuration)
		})
	}

	var misses []int
	for i, path := range paths {
		if !hit[i] {
			results[i] = aggregator.FileResult{Path: path}
			misses = append(misses, i)
		}
	}
	return misses
}

// settle converts a scheduler result into a file result and writes fresh findings back to the cache.
func (e *Engine) settle(r scheduler.Result, fingerprint string, state analyzedState) aggregator.FileResult {
	path := r.Task.Path
	fr := aggregator.FileResult{Path: path}

	switch r.Outcome {
	case scheduler.OutcomeCompleted:
		fr.Findings = r.Findings
		if !e.cacheEnabled() {
			break
		}
		if !state.ok {
			e.logger.Debug("file changed while it was read, not caching", "path", path)
			break
		}
		if err := e.cache.Store(path, fingerprint, cache.FileState(state.snap), r.Findings, r.Duration); err != nil {
			e.logger.Warn("failed to store analysis in cache", "path", path, "kind", errs.KindOf(err), "error", err)
		}
	case scheduler.OutcomeTimedOut:
		fr.TimedOut = true
		fr.Findings = []findings.Finding{timeoutFinding(path, e.cfg.Engine.Timeout)}
		timeoutErr := &errs.TimeoutError{Path: path, Timeout: e.cfg.Engine.Timeout}
		e.logger.Warn("file analysis abandoned", "path", path, "kind", timeoutErr.Kind(), "error", timeoutErr)
	case scheduler.OutcomeCancelled:
		fr.Cancelled = true
	default:
		var skip *skipError
		if errors.As(r.Err, &skip) {
			fr.Skipped = true
			break
		}
		e.logger.Warn("file analysis failed", "path", path, "kind", errs.KindOf(r.Err), "error", r.Err)
	}
	return fr
}

// analyzedState is the file state the findings of one file were computed from.
type analyzedState struct {
	snap streaming.Snapshot
	ok   bool
}

// analyzeFile reads one file through the streaming reader and runs every applicable analyzer on it.
// state receives the snapshot of the bytes the analyzers saw.
func (e *Engine) analyzeFile(ctx context.Context, reader *streaming.Reader, path string, state *analyzedState) ([]findings.Finding, error) {
	src, err := reader.Open(path)
	if err != nil {
		return nil, err
	}

	switch s := src.(type) {
	case *streaming.Skipped:
		return nil, &skipError{reason: s.Reason}
	case *streaming.Buffered:
		state.snap, state.ok = s.Snapshot()
		return e.registry.Analyze(ctx, path, s.Data)
	case *streaming.Chunked:
		defer s.Close()
		out, err := e.analyzeChunks(ctx, path, s)
		state.snap, state.ok = s.Snapshot()
		return out, err
	}
	return nil, fmt.Errorf("unexpected content source %T", src)
}

// analyzeChunks runs the analyzers on every window, shifts findings to file line numbers and
// drops the duplicates reported twice from overlapping lines.
func (e *Engine) analyzeChunks(ctx context.Context, path string, src *streaming.Chunked) ([]findings.Finding, error) {
	seen := map[string]bool{}
	var out []findings.Finding
	for {
		chunk, ok := src.Next(ctx)
		if !ok {
			break
		}
		found, err := e.registry.Analyze(ctx, path, chunk.Data)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			f = f.Relocated(f.FilePath, chunk.StartLine-1)
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func timeoutFinding(path string, timeout time.Duration) findings.Finding {
	return findings.New(TimeoutAnalyzer, TimeoutRule, path, 0, findings.SeverityLow, findings.CategoryAnalysis,
		fmt.Sprintf("Analysis timed out after %v", timeout)).
		WithSuggestion("Raise engine.timeout or exclude the file.")
}

// canonicalize makes every path canonical and drops repeats, keeping the first occurrence.
func canonicalize(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, f := range paths {
		p, err := files.CanonicalPath(f)
		if err != nil {
			p = filepath.Clean(f)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
