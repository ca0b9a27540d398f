package findings

import (
	"time"
)

// SchemaVersion is the version of the AnalysisResults layout.
const SchemaVersion = "1.0.0"

// ToolName is reported in results metadata and SARIF exports.
const ToolName = "scanguard"

// ToolMetadata describes the producer of a result set.
type ToolMetadata struct {
	Name              string    `json:"name"`
	Version           string    `json:"version"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	Timestamp         time.Time `json:"timestamp"`
}

// Summary holds the run metadata computed by the aggregator and the engine.
type Summary struct {
	TotalFiles    int              `json:"total_files"`
	TotalFindings int              `json:"total_findings"`
	Suppressed    int              `json:"suppressed"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByCategory    map[Category]int `json:"by_category"`
	ByAnalyzer    map[string]int   `json:"by_analyzer"`
	CacheHits     int              `json:"cache_hits"`
	CacheMisses   int              `json:"cache_misses"`
	TimedOut      int              `json:"timed_out"`
	Skipped       int              `json:"skipped"`
	Cancelled     int              `json:"cancelled"`
	DurationMS    int64            `json:"duration_ms"`
}

// AnalysisResults is the final output of one run. It is not modified after the engine returns it.
type AnalysisResults struct {
	SchemaVersion     string        `json:"schema_version"`
	RunID             string        `json:"run_id"`
	Tool              ToolMetadata  `json:"tool"`
	Findings          []Finding     `json:"findings"`
	Summary           Summary       `json:"summary"`
	ConfigFingerprint string        `json:"config_fingerprint"`
	FileCount         int           `json:"file_count"`
	Elapsed           time.Duration `json:"elapsed"`
	Partial           bool          `json:"partial"`
}

// Visible returns the findings that are not suppressed by the false-positive filter.
func (r *AnalysisResults) Visible() []Finding {
	visible := make([]Finding, 0, len(r.Findings))
	for _, f := range r.Findings {
		if !f.Suppressed {
			visible = append(visible, f)
		}
	}
	return visible
}

// CountAtOrAbove counts visible findings with severity >= min.
func (r *AnalysisResults) CountAtOrAbove(min Severity) int {
	n := 0
	for _, f := range r.Findings {
		if !f.Suppressed && f.Severity >= min {
			n++
		}
	}
	return n
}

// HasHighSeverity reports whether any visible finding is high or critical.
func (r *AnalysisResults) HasHighSeverity() bool {
	return r.CountAtOrAbove(SeverityHigh) > 0
}
