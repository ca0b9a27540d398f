package analyzers

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// ctxCheckLines is how many lines are scanned between cancellation checks.
const ctxCheckLines = 1024

// Rule is a single-line pattern check.
type Rule struct {
	ID          string
	Pattern     *regexp.Regexp
	Severity    findings.Severity
	Category    findings.Category
	Message     string
	Description string
	Suggestion  string
	Confidence  float64
	// Extensions limits the rule to files with these extensions. Empty means any file.
	Extensions []string
	// Skip drops a match when it also matches, e.g. placeholders.
	Skip *regexp.Regexp
}

func (r *Rule) appliesTo(ext string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// lineAnalyzer runs a set of rules over every line of the content.
type lineAnalyzer struct {
	name       string
	rules      []Rule
	extensions map[string]bool
	filenames  map[string]bool
}

func (a *lineAnalyzer) Name() string { return a.name }

func (a *lineAnalyzer) Supports(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if a.filenames[base] {
		return true
	}
	return a.extensions[extension(path)]
}

func (a *lineAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	ext := extension(path)
	rules := make([]*Rule, 0, len(a.rules))
	for i := range a.rules {
		if a.rules[i].appliesTo(ext) {
			rules = append(rules, &a.rules[i])
		}
	}

	var out []findings.Finding
	err := eachLine(ctx, content, func(lineNo int, line []byte) {
		for _, r := range rules {
			loc := r.Pattern.FindIndex(line)
			if loc == nil {
				continue
			}
			if r.Skip != nil && r.Skip.Match(line) {
				continue
			}
			out = append(out, ruleFinding(a.name, r, path, lineNo, loc[0]+1))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ruleFinding(analyzer string, r *Rule, path string, line, column int) findings.Finding {
	f := findings.New(analyzer, r.ID, path, line, r.Severity, r.Category, r.Message).
		WithColumn(column).
		WithDescription(r.Description).
		WithSuggestion(r.Suggestion)
	if r.Confidence > 0 {
		f = f.WithConfidence(r.Confidence)
	}
	return f
}

// eachLine calls fn for every line of content with its 1-based number, without the trailing newline.
// It stops with ctx.Err() when ctx is done.
func eachLine(ctx context.Context, content []byte, fn func(lineNo int, line []byte)) error {
	lineNo := 0
	for len(content) > 0 {
		lineNo++
		if lineNo%ctxCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := content
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			content = nil
		}
		fn(lineNo, bytes.TrimSuffix(line, []byte{'\r'}))
	}
	return ctx.Err()
}

func extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
