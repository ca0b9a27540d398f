package aggregator

import (
	"sort"
	"strings"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// FileResult is the outcome for one file, whether served from cache or freshly analyzed.
type FileResult struct {
	Path      string
	Findings  []findings.Finding
	FromCache bool
	TimedOut  bool
	Skipped   bool
	Cancelled bool
}

// Aggregate merges per-file results into one deduplicated, deterministically ordered finding list
// with summary counts. Run metadata (ids, timing, cache counters) is left to the caller.
func Aggregate(results []FileResult) *findings.AnalysisResults {
	summary := findings.Summary{
		BySeverity: map[findings.Severity]int{},
		ByCategory: map[findings.Category]int{},
		ByAnalyzer: map[string]int{},
	}

	best := map[string]findings.Finding{}
	for _, r := range results {
		summary.TotalFiles++
		switch {
		case r.TimedOut:
			summary.TimedOut++
		case r.Skipped:
			summary.Skipped++
		case r.Cancelled:
			summary.Cancelled++
		}
		if r.FromCache {
			summary.CacheHits++
		}
		for _, f := range r.Findings {
			key := f.DedupKey()
			if cur, ok := best[key]; !ok || preferred(f, cur) {
				best[key] = f
			}
		}
	}

	merged := make([]findings.Finding, 0, len(best))
	for _, f := range best {
		merged = append(merged, f)
	}
	Sort(merged)

	for _, f := range merged {
		summary.BySeverity[f.Severity]++
		summary.ByCategory[f.Category]++
		summary.ByAnalyzer[f.Analyzer]++
	}
	summary.TotalFindings = len(merged)

	return &findings.AnalysisResults{
		SchemaVersion: findings.SchemaVersion,
		Findings:      merged,
		Summary:       summary,
		FileCount:     len(results),
	}
}

// preferred reports whether a should replace b as the representative of a duplicate group.
func preferred(a, b findings.Finding) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.ID < b.ID
}

// Sort orders findings by severity descending, then path, line, column and id ascending.
func Sort(list []findings.Finding) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if c := strings.Compare(a.FilePath, b.FilePath); c != 0 {
			return c < 0
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.ID < b.ID
	})
}

// CountSuppressed updates the suppressed counter of a summary after filtering.
func CountSuppressed(results *findings.AnalysisResults) {
	n := 0
	for _, f := range results.Findings {
		if f.Suppressed {
			n++
		}
	}
	results.Summary.Suppressed = n
}
