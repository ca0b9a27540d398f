package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/errors"
)

// Handle refers to one registered analyzer.
type Handle struct {
	index    int
	analyzer shared.Analyzer
}

// Name returns the analyzer name.
func (h Handle) Name() string { return h.analyzer.Name() }

// Registry holds the analyzers of a run in registration order.
// It is filled once at startup and only read while files are analyzed.
type Registry struct {
	logger    hclog.Logger
	mu        sync.RWMutex
	analyzers []shared.Analyzer
	names     map[string]struct{}
}

func New(logger hclog.Logger) *Registry {
	return &Registry{
		logger: logger.Named("registry"),
		names:  make(map[string]struct{}),
	}
}

// Register adds an analyzer. Names must be unique.
func (r *Registry) Register(analyzer shared.Analyzer) error {
	if analyzer == nil {
		return fmt.Errorf("analyzer is nil")
	}
	name := analyzer.Name()
	if name == "" {
		return fmt.Errorf("analyzer has an empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return fmt.Errorf("analyzer with name %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.analyzers = append(r.analyzers, analyzer)
	return nil
}

// Len returns the number of registered analyzers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.analyzers)
}

// Names lists the registered analyzers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		names = append(names, a.Name())
	}
	return names
}

// Applicable returns the analyzers that accept path. A panicking Supports counts as "no".
func (r *Registry) Applicable(path string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handles []Handle
	for i, a := range r.analyzers {
		if r.supports(a, path) {
			handles = append(handles, Handle{index: i, analyzer: a})
		}
	}
	return handles
}

func (r *Registry) supports(a shared.Analyzer, path string) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("analyzer panicked in Supports", "analyzer", a.Name(), "path", path, "panic", p)
			ok = false
		}
	}()
	return a.Supports(path)
}

// Run invokes one analyzer on one file. Errors and panics come back as *errors.AnalyzerError.
// Returned findings carry the analyzer name and a fresh stable ID.
func (r *Registry) Run(ctx context.Context, h Handle, path string, content []byte) (result []findings.Finding, err error) {
	name := h.analyzer.Name()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("analyzer panic stack", "analyzer", name, "stack", string(debug.Stack()))
			result = nil
			err = &errors.AnalyzerError{Analyzer: name, Path: path, Panicked: true, Err: fmt.Errorf("%v", p)}
		}
	}()

	out, aerr := h.analyzer.Analyze(ctx, path, content)
	if aerr != nil {
		return nil, errors.NewAnalyzerError(name, path, aerr)
	}

	for i := range out {
		if out[i].Analyzer == "" {
			out[i].Analyzer = name
		}
		if out[i].FilePath == "" {
			out[i].FilePath = path
		}
		out[i].ID = findings.ComputeID(out[i].Analyzer, out[i].RuleID, out[i].FilePath, out[i].Line, out[i].Message)
	}
	return out, nil
}

// Analyze runs every applicable analyzer on content and concatenates their findings.
// A failing analyzer is logged and contributes nothing. Cancellation is checked between
// analyzers; on cancellation the findings gathered so far are returned with ctx.Err().
func (r *Registry) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	var all []findings.Finding
	for _, h := range r.Applicable(path) {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		out, err := r.Run(ctx, h, path, content)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			r.logger.Warn("analyzer failed", "analyzer", h.Name(), "path", path, "kind", errors.KindOf(err), "error", err)
			continue
		}
		all = append(all, out...)
	}
	return all, nil
}
