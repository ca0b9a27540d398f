package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/scanguard/internal/findings"
)

func TestAggregateDeduplicatesByConfidence(t *testing.T) {
	a := findings.New("security", "sql-injection", "app/db.go", 10, findings.SeverityHigh, findings.CategorySecurity, "SQL built from input").WithConfidence(0.6)
	b := findings.New("taint", "sqli", "app/db.go", 10, findings.SeverityHigh, findings.CategorySecurity, "SQL  built from INPUT").WithConfidence(0.9)
	require.NotEqual(t, a.ID, b.ID)

	res := Aggregate([]FileResult{
		{Path: "app/db.go", Findings: []findings.Finding{a}},
		{Path: "app/db.go", Findings: []findings.Finding{b}},
	})
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 0.9, res.Findings[0].Confidence)
	assert.Equal(t, "taint", res.Findings[0].Analyzer)
}

func TestAggregateTieKeepsSmallerID(t *testing.T) {
	a := findings.New("one", "r", "x.go", 1, findings.SeverityLow, findings.CategoryQuality, "same")
	b := findings.New("two", "r", "x.go", 1, findings.SeverityLow, findings.CategoryQuality, "same")
	want := a.ID
	if b.ID < want {
		want = b.ID
	}

	for _, order := range [][]findings.Finding{{a, b}, {b, a}} {
		res := Aggregate([]FileResult{{Path: "x.go", Findings: order}})
		require.Len(t, res.Findings, 1)
		assert.Equal(t, want, res.Findings[0].ID)
	}
}

func TestAggregateOrderIsDeterministic(t *testing.T) {
	list := []findings.Finding{
		findings.New("s", "r1", "b.go", 5, findings.SeverityLow, findings.CategoryQuality, "low b5"),
		findings.New("s", "r2", "a.go", 9, findings.SeverityCritical, findings.CategorySecurity, "crit a9"),
		findings.New("s", "r3", "a.go", 2, findings.SeverityHigh, findings.CategorySecurity, "high a2"),
		findings.New("s", "r4", "b.go", 1, findings.SeverityHigh, findings.CategorySecurity, "high b1"),
		findings.New("s", "r5", "a.go", 2, findings.SeverityHigh, findings.CategoryIntegrity, "high a2 col").WithColumn(4),
	}

	first := Aggregate([]FileResult{{Path: "a.go", Findings: list[:3]}, {Path: "b.go", Findings: list[3:]}})
	reversed := []findings.Finding{list[4], list[3], list[2], list[1], list[0]}
	second := Aggregate([]FileResult{{Path: "b.go", Findings: reversed}})

	var got []string
	for _, f := range first.Findings {
		got = append(got, f.Message)
	}
	assert.Equal(t, []string{"crit a9", "high a2", "high a2 col", "high b1", "low b5"}, got)
	assert.Equal(t, first.Findings, second.Findings)
}

func TestAggregateSummary(t *testing.T) {
	f1 := findings.New("security", "r1", "a.go", 1, findings.SeverityHigh, findings.CategorySecurity, "one")
	f2 := findings.New("merge_conflict", "r2", "b.go", 3, findings.SeverityCritical, findings.CategoryIntegrity, "two")
	f3 := findings.New("security", "r3", "b.go", 4, findings.SeverityHigh, findings.CategorySecurity, "three")

	res := Aggregate([]FileResult{
		{Path: "a.go", Findings: []findings.Finding{f1}, FromCache: true},
		{Path: "b.go", Findings: []findings.Finding{f2, f3}},
		{Path: "c.bin", Skipped: true},
		{Path: "d.go", TimedOut: true},
		{Path: "e.go", Cancelled: true},
	})

	s := res.Summary
	assert.Equal(t, 5, s.TotalFiles)
	assert.Equal(t, 5, res.FileCount)
	assert.Equal(t, 3, s.TotalFindings)
	assert.Equal(t, 2, s.BySeverity[findings.SeverityHigh])
	assert.Equal(t, 1, s.BySeverity[findings.SeverityCritical])
	assert.Equal(t, 2, s.ByCategory[findings.CategorySecurity])
	assert.Equal(t, 2, s.ByAnalyzer["security"])
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, findings.SchemaVersion, res.SchemaVersion)

	res.Findings[0].Suppressed = true
	CountSuppressed(res)
	assert.Equal(t, 1, res.Summary.Suppressed)
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 0, res.Summary.TotalFiles)
}
