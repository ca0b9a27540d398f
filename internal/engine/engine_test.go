package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/scanguard/internal/cache"
	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/internal/mlfilter"
	"github.com/scan-io-git/scanguard/internal/registry"
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
)

// needleAnalyzer reports every line containing needle.
type needleAnalyzer struct {
	name       string
	needle     string
	confidence float64
	calls      atomic.Int64
}

func (a *needleAnalyzer) Name() string              { return a.name }
func (a *needleAnalyzer) Supports(path string) bool { return true }

func (a *needleAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	a.calls.Add(1)
	var out []findings.Finding
	for i, line := range bytes.Split(content, []byte("\n")) {
		if bytes.Contains(line, []byte(a.needle)) {
			out = append(out, findings.New(a.name, "needle", path, i+1, findings.SeverityMedium, findings.CategorySecurity, "Found "+a.needle).
				WithConfidence(a.confidence))
		}
	}
	return out, ctx.Err()
}

type panicAnalyzer struct{}

func (panicAnalyzer) Name() string              { return "panicky" }
func (panicAnalyzer) Supports(path string) bool { return true }
func (panicAnalyzer) Analyze(context.Context, string, []byte) ([]findings.Finding, error) {
	panic("boom")
}

type failingAnalyzer struct{}

func (failingAnalyzer) Name() string              { return "failing" }
func (failingAnalyzer) Supports(path string) bool { return true }
func (failingAnalyzer) Analyze(context.Context, string, []byte) ([]findings.Finding, error) {
	return nil, errors.New("rule engine crashed")
}

// stuckAnalyzer ignores its context and blocks on files ending in suffix until release is closed.
type stuckAnalyzer struct {
	suffix  string
	release chan struct{}
}

func (a *stuckAnalyzer) Name() string              { return "stuck" }
func (a *stuckAnalyzer) Supports(path string) bool { return true }
func (a *stuckAnalyzer) Analyze(_ context.Context, path string, _ []byte) ([]findings.Finding, error) {
	if strings.HasSuffix(path, a.suffix) {
		<-a.release
	}
	return nil, nil
}

// cancellingAnalyzer cancels the run on its n-th call.
type cancellingAnalyzer struct {
	n      int64
	cancel context.CancelFunc
	calls  atomic.Int64
}

func (a *cancellingAnalyzer) Name() string              { return "cancelling" }
func (a *cancellingAnalyzer) Supports(path string) bool { return true }
func (a *cancellingAnalyzer) Analyze(ctx context.Context, path string, _ []byte) ([]findings.Finding, error) {
	if a.calls.Add(1) == a.n {
		a.cancel()
		return nil, ctx.Err()
	}
	return []findings.Finding{findings.New("cancelling", "seen", path, 1, findings.SeverityInfo, findings.CategoryQuality, "seen")}, nil
}

// savingAnalyzer behaves like needleAnalyzer but, on its first call, overwrites the file with
// content of the same size, the way an editor saving during analysis would.
type savingAnalyzer struct {
	*needleAnalyzer
	fs      afero.Fs
	content string
	once    sync.Once
}

func (a *savingAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	var err error
	a.once.Do(func() {
		if err = afero.WriteFile(a.fs, path, []byte(a.content), 0o644); err != nil {
			return
		}
		later := time.Now().Add(time.Minute)
		err = a.fs.Chtimes(path, later, later)
	})
	if err != nil {
		return nil, err
	}
	return a.needleAnalyzer.Analyze(ctx, path, content)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.MaxWorkers = 4
	cfg.Engine.Timeout = 5 * time.Second
	cfg.ML.Enabled = config.BoolPtr(false)
	return cfg
}

func writeFiles(t *testing.T, fs afero.Fs, n int, content func(i int) string) []string {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("/src/file%02d.go", i)
		require.NoError(t, afero.WriteFile(fs, p, []byte(content(i)), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func newEngine(t *testing.T, cfg *config.Config, fs afero.Fs, analyzers []shared.Analyzer, opts ...Option) *Engine {
	t.Helper()
	reg := registry.New(hclog.NewNullLogger())
	for _, a := range analyzers {
		require.NoError(t, reg.Register(a))
	}
	return New(hclog.NewNullLogger(), cfg, reg, append([]Option{WithFs(fs)}, opts...)...)
}

func withSecret(i int) string {
	if i%2 == 0 {
		return "package main\n\nconst token = \"SECRET\"\n"
	}
	return "package main\n"
}

func TestRunIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 12, withSecret)
	a := &needleAnalyzer{name: "needle", needle: "SECRET", confidence: 0.8}
	e := newEngine(t, testConfig(), fs, []shared.Analyzer{a})

	first, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), append([]string{paths[3], paths[3]}, paths...))
	require.NoError(t, err)

	assert.Len(t, first.Findings, 6)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, 12, second.FileCount, "duplicate inputs are analyzed once")
	assert.Equal(t, first.ConfigFingerprint, second.ConfigFingerprint)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.False(t, first.Partial)
	assert.Equal(t, findings.SchemaVersion, first.SchemaVersion)
	assert.Equal(t, findings.ToolName, first.Tool.Name)
}

func TestRunServesUnchangedFilesFromCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 10, withSecret)
	a := &needleAnalyzer{name: "needle", needle: "SECRET", confidence: 0.8}
	c := cache.New(hclog.NewNullLogger(), fs, nil, 4)
	cfg := testConfig()
	e := newEngine(t, cfg, fs, []shared.Analyzer{a}, WithCache(c))

	first, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Summary.CacheHits)
	assert.Equal(t, 10, first.Summary.CacheMisses)
	assert.EqualValues(t, 10, a.calls.Load())

	fingerprint := first.ConfigFingerprint
	before, ok := c.Lookup(paths[0], fingerprint)
	require.True(t, ok)

	second, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 10, second.Summary.CacheHits)
	assert.Equal(t, 0, second.Summary.CacheMisses)
	assert.EqualValues(t, 10, a.calls.Load(), "no file is reanalyzed")
	assert.Equal(t, first.Findings, second.Findings)

	after, ok := c.Lookup(paths[0], fingerprint)
	require.True(t, ok)
	assert.Equal(t, before.AnalysisDuration, after.AnalysisDuration)
	assert.Equal(t, before.RecordedAt, after.RecordedAt)

	t.Run("changed content is reanalyzed", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, paths[1], []byte("package main\n\nvar SECRET = 1\nvar other = 2\n"), 0o644))
		third, err := e.Run(context.Background(), paths)
		require.NoError(t, err)
		assert.Equal(t, 9, third.Summary.CacheHits)
		assert.EqualValues(t, 11, a.calls.Load())
		assert.Len(t, third.Findings, 6)
	})

	t.Run("changed configuration is reanalyzed", func(t *testing.T) {
		changed := testConfig()
		changed.Engine.ChunkSize = cfg.Engine.ChunkSize * 2
		fourth, err := newEngine(t, changed, fs, []shared.Analyzer{a}, WithCache(c)).Run(context.Background(), paths)
		require.NoError(t, err)
		assert.Equal(t, 0, fourth.Summary.CacheHits)
		assert.NotEqual(t, fingerprint, fourth.ConfigFingerprint)
	})

	t.Run("disabled cache always analyzes", func(t *testing.T) {
		off := testConfig()
		off.Cache.Enabled = config.BoolPtr(false)
		calls := a.calls.Load()
		res, err := newEngine(t, off, fs, []shared.Analyzer{a}, WithCache(c)).Run(context.Background(), paths)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Summary.CacheHits)
		assert.EqualValues(t, calls+10, a.calls.Load())
	})
}

func TestRunDoesNotCacheContentSavedDuringAnalysis(t *testing.T) {
	tests := []struct {
		name      string
		threshold int64
	}{
		{name: "buffered", threshold: 1 << 20},
		{name: "chunked", threshold: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/src/a.go", []byte("SECRET\n"), 0o644))
			a := &savingAnalyzer{
				needleAnalyzer: &needleAnalyzer{name: "needle", needle: "SECRET", confidence: 1},
				fs:             fs,
				content:        "clean!\n",
			}
			cfg := testConfig()
			cfg.Engine.StreamingThresholdBytes = tt.threshold
			e := newEngine(t, cfg, fs, []shared.Analyzer{a}, WithCache(cache.New(hclog.NewNullLogger(), fs, nil, 1)))

			first, err := e.Run(context.Background(), []string{"/src/a.go"})
			require.NoError(t, err)
			require.Len(t, first.Findings, 1, "the content read before the save has the secret")

			second, err := e.Run(context.Background(), []string{"/src/a.go"})
			require.NoError(t, err)
			assert.Equal(t, 0, second.Summary.CacheHits)
			assert.Empty(t, second.Findings)
			assert.EqualValues(t, 2, a.calls.Load())

			third, err := e.Run(context.Background(), []string{"/src/a.go"})
			require.NoError(t, err)
			assert.Equal(t, 1, third.Summary.CacheHits, "findings of the saved content are cached")
			assert.Empty(t, third.Findings)
		})
	}
}

func TestRunReanalyzesWhenPluginChanges(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 4, withSecret)
	a := &needleAnalyzer{name: "needle", needle: "SECRET", confidence: 0.8}
	c := cache.New(hclog.NewNullLogger(), fs, nil, 4)

	pluginsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "entropy"), []byte("build 1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "entropy.VERSION"), []byte(`{"version": "1.0.0"}`), 0o644))
	cfg := testConfig()
	cfg.Scanguard.PluginsFolder = pluginsDir
	cfg.Analyzers.Plugins = []string{"entropy"}

	run := func(cfg *config.Config) *findings.AnalysisResults {
		t.Helper()
		res, err := newEngine(t, cfg, fs, []shared.Analyzer{a}, WithCache(c)).Run(context.Background(), paths)
		require.NoError(t, err)
		return res
	}
	run(cfg)
	require.Equal(t, 4, run(cfg).Summary.CacheHits)

	tuned := *cfg
	tuned.Analyzers.PluginOptions = map[string]map[string]string{"entropy": {"min_length": "32"}}
	assert.Equal(t, 0, run(&tuned).Summary.CacheHits, "a changed plugin option is reanalyzed")

	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "entropy.VERSION"), []byte(`{"version": "1.1.0"}`), 0o644))
	assert.Equal(t, 0, run(cfg).Summary.CacheHits, "an upgraded plugin is reanalyzed")
	assert.Equal(t, 4, run(cfg).Summary.CacheHits)
}

func TestRunDeduplicatesAcrossAnalyzers(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 1, func(int) string { return "key = SECRET\n" })
	e := newEngine(t, testConfig(), fs, []shared.Analyzer{
		&needleAnalyzer{name: "alpha", needle: "SECRET", confidence: 0.6},
		&needleAnalyzer{name: "beta", needle: "SECRET", confidence: 0.9},
	})

	res, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 0.9, res.Findings[0].Confidence)
	assert.Equal(t, "beta", res.Findings[0].Analyzer)
}

func TestRunIsolatesAnalyzerFailures(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 4, func(int) string { return "SECRET\n" })
	e := newEngine(t, testConfig(), fs, []shared.Analyzer{
		panicAnalyzer{},
		failingAnalyzer{},
		&needleAnalyzer{name: "needle", needle: "SECRET", confidence: 1},
	})

	res, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Len(t, res.Findings, 4)
	for _, f := range res.Findings {
		assert.Equal(t, "needle", f.Analyzer)
	}
}

func TestRunTimesOutSlowFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 6, func(int) string { return "SECRET\n" })
	stuck := &stuckAnalyzer{suffix: "file02.go", release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	cfg := testConfig()
	cfg.Engine.MaxWorkers = 2
	cfg.Engine.Timeout = 100 * time.Millisecond
	e := newEngine(t, cfg, fs, []shared.Analyzer{stuck, &needleAnalyzer{name: "needle", needle: "SECRET", confidence: 1}})

	start := time.Now()
	res, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var timeouts, normal int
	for _, f := range res.Findings {
		switch f.RuleID {
		case TimeoutRule:
			timeouts++
			assert.Equal(t, paths[2], f.FilePath)
			assert.Equal(t, TimeoutAnalyzer, f.Analyzer)
			assert.Equal(t, findings.CategoryAnalysis, f.Category)
		default:
			normal++
			assert.NotEqual(t, paths[2], f.FilePath)
		}
	}
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 5, normal)
	assert.Equal(t, 1, res.Summary.TimedOut)
	assert.False(t, res.Partial)
}

func TestRunTimeoutIsNotCached(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 1, func(int) string { return "x\n" })
	stuck := &stuckAnalyzer{suffix: ".go", release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	cfg := testConfig()
	cfg.Engine.Timeout = 50 * time.Millisecond
	c := cache.New(hclog.NewNullLogger(), fs, nil, 1)
	res, err := newEngine(t, cfg, fs, []shared.Analyzer{stuck}, WithCache(c)).Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.TimedOut)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestRunCancellationReturnsPartialResult(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 10, func(int) string { return "x\n" })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &cancellingAnalyzer{n: 5, cancel: cancel}

	cfg := testConfig()
	cfg.Engine.MaxWorkers = 1
	res, err := newEngine(t, cfg, fs, []shared.Analyzer{a}).Run(ctx, paths)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Findings, 4)
	for i, f := range res.Findings {
		assert.Equal(t, paths[i], f.FilePath)
	}
	assert.Equal(t, 6, res.Summary.Cancelled)
	assert.Equal(t, 10, res.FileCount)
}

func TestRunStreamingMatchesBuffered(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 600; i++ {
		if i%7 == 0 {
			fmt.Fprintf(&sb, "line %d has a SECRET inside\n", i)
		} else {
			fmt.Fprintf(&sb, "line %d is harmless filler text\n", i)
		}
	}
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/big.txt", []byte(sb.String()), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/blob.bin", []byte{0x7f, 'E', 'L', 'F', 0, 0, 1, 2, 0, 0}, 0o644))
	paths := []string{"/src/big.txt", "/src/blob.bin"}

	run := func(threshold int64) *findings.AnalysisResults {
		cfg := testConfig()
		cfg.Engine.StreamingThresholdBytes = threshold
		cfg.Engine.ChunkSize = 256
		res, err := newEngine(t, cfg, fs, []shared.Analyzer{&needleAnalyzer{name: "needle", needle: "SECRET", confidence: 1}}).
			Run(context.Background(), paths)
		require.NoError(t, err)
		return res
	}

	buffered := run(1 << 20)
	chunked := run(1)
	assert.Len(t, buffered.Findings, 600/7)
	assert.Equal(t, buffered.Findings, chunked.Findings)
	assert.Equal(t, 1, chunked.Summary.Skipped)
}

func TestRunAppliesFilter(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 3, func(int) string { return "SECRET\n" })

	cfg := testConfig()
	cfg.ML.Enabled = config.BoolPtr(true)
	cfg.ML.ConfidenceThreshold = 0.999
	filter := mlfilter.New(hclog.NewNullLogger(), mlfilter.DefaultModel(), 2)
	e := newEngine(t, cfg, fs, []shared.Analyzer{&needleAnalyzer{name: "needle", needle: "SECRET", confidence: 0.5}}, WithFilter(filter))

	res, err := e.Run(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, res.Findings, 3)
	for _, f := range res.Findings {
		require.NotNil(t, f.MLScore)
		assert.True(t, f.Suppressed)
	}
	assert.Equal(t, 3, res.Summary.Suppressed)
	assert.Empty(t, res.Visible())
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeFiles(t, fs, 1, func(int) string { return "x\n" })
	a := &needleAnalyzer{name: "needle", needle: "x", confidence: 1}

	tests := []struct {
		name   string
		config func() *config.Config
	}{
		{"nil config", func() *config.Config { return nil }},
		{"no workers", func() *config.Config {
			cfg := testConfig()
			cfg.Engine.MaxWorkers = 0
			return cfg
		}},
		{"negative timeout", func() *config.Config {
			cfg := testConfig()
			cfg.Engine.Timeout = -time.Second
			return cfg
		}},
		{"threshold out of range", func() *config.Config {
			cfg := testConfig()
			cfg.ML.ConfidenceThreshold = 1.5
			return cfg
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newEngine(t, tt.config(), fs, []shared.Analyzer{a}).Run(context.Background(), paths)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errs.IsFatal(err))
		})
	}
	assert.Zero(t, a.calls.Load(), "no file is read after a fatal configuration error")
}
