package mlfilter

import (
	"math"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// FeatureVersion identifies the feature vector layout. A model trained on another layout is rejected.
const FeatureVersion = "v1"

// FeatureCount is the length of a v1 feature vector.
const FeatureCount = 12

// FeatureNames lists the v1 features in vector order.
var FeatureNames = [FeatureCount]string{
	"severity",
	"file_type",
	"producer_confidence",
	"message_length",
	"line_position",
	"has_column",
	"rule_specificity",
	"message_entropy",
	"path_depth",
	"category_weight",
	"test_path",
	"analyzer_agreement",
}

var fileTypeWeights = map[string]float64{
	".go": 1, ".py": 1, ".js": 1, ".ts": 1, ".jsx": 1, ".tsx": 1, ".java": 1, ".kt": 1,
	".rb": 1, ".php": 1, ".rs": 1, ".c": 1, ".cc": 1, ".cpp": 1, ".h": 1, ".cs": 1,
	".swift": 1, ".scala": 1, ".sh": 0.9, ".sql": 0.9,
	".yaml": 0.6, ".yml": 0.6, ".json": 0.6, ".toml": 0.6, ".ini": 0.6, ".env": 0.7,
	".xml": 0.5, ".tf": 0.7, ".dockerfile": 0.7,
	".md": 0.2, ".txt": 0.2, ".rst": 0.2, ".html": 0.4,
}

var categoryWeights = map[findings.Category]float64{
	findings.CategorySecurity:    1,
	findings.CategoryIntegrity:   0.9,
	findings.CategoryDependency:  0.8,
	findings.CategoryPerformance: 0.5,
	findings.CategoryQuality:     0.4,
	findings.CategoryAnalysis:    0.3,
}

var testPathMarkers = []string{"test", "spec", "fixture", "mock", "example", "testdata", "vendor"}

// Extract returns the v1 feature vector of f. Every feature is in [0, 1].
// ml_score and suppressed do not contribute, so extraction is stable across filter passes.
func Extract(f findings.Finding) []float64 {
	v := make([]float64, FeatureCount)
	v[0] = float64(f.Severity) / float64(findings.SeverityCritical)
	v[1] = fileTypeWeight(f.FilePath)
	v[2] = f.Confidence
	v[3] = math.Min(float64(len(f.Message))/200, 1)
	v[4] = linePosition(f.Line)
	if f.Column > 0 {
		v[5] = 1
	}
	v[6] = ruleSpecificity(f.RuleID)
	v[7] = entropy(f.Message) / 8
	v[8] = math.Min(float64(pathDepth(f.FilePath))/10, 1)
	v[9] = categoryWeight(f.Category)
	if isTestPath(f.FilePath) {
		v[10] = 1
	}
	// single-analyzer placeholder until cross-analyzer agreement is tracked
	v[11] = 1
	for i := range v {
		v[i] = clamp01(v[i])
	}
	return v
}

func fileTypeWeight(path string) float64 {
	base := strings.ToLower(filepath.Base(path))
	if base == "dockerfile" {
		return fileTypeWeights[".dockerfile"]
	}
	if w, ok := fileTypeWeights[filepath.Ext(base)]; ok {
		return w
	}
	return 0.4
}

func categoryWeight(c findings.Category) float64 {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return 0.3
}

// linePosition is 1 for the first line and decays slowly for later ones.
func linePosition(line int) float64 {
	if line < 1 {
		return 0
	}
	return 1 / (1 + math.Log10(float64(line)))
}

func ruleSpecificity(ruleID string) float64 {
	if ruleID == "" {
		return 0
	}
	parts := strings.FieldsFunc(ruleID, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == '/' || r == ':'
	})
	return math.Min(float64(len(parts))/4, 1)
}

// entropy is the Shannon entropy of s in bits per rune.
func entropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := map[rune]int{}
	total := 0
	for _, r := range s {
		counts[unicode.ToLower(r)]++
		total++
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

func pathDepth(path string) int {
	clean := strings.Trim(filepath.ToSlash(filepath.Clean(path)), "/")
	if clean == "" || clean == "." {
		return 0
	}
	return strings.Count(clean, "/")
}

func isTestPath(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	for _, marker := range testPathMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
