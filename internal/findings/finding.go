package findings

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Severity is an ordered finding severity: Info < Low < Medium < High < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

// Severities lists every severity in ascending order.
func Severities() []Severity {
	return []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(value string) (Severity, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for i, name := range severityNames {
		if name == v {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", value)
}

// MarshalText encodes the severity by name so JSON and YAML stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityInfo || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category groups findings by the kind of issue.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryQuality     Category = "quality"
	CategoryDependency  Category = "dependency"
	CategoryIntegrity   Category = "integrity"
	CategoryAnalysis    Category = "analysis"
)

// Finding is one issue reported by one analyzer for one file location.
type Finding struct {
	ID          string   `json:"id" yaml:"id"`
	Analyzer    string   `json:"analyzer" yaml:"analyzer"`
	RuleID      string   `json:"rule_id" yaml:"rule_id"`
	FilePath    string   `json:"file_path" yaml:"file_path"`
	Line        int      `json:"line" yaml:"line"`
	Column      int      `json:"column,omitempty" yaml:"column,omitempty"` // 0 when unknown
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    Category `json:"category" yaml:"category"`
	Message     string   `json:"message" yaml:"message"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`

	// Set once by the false-positive filter.
	MLScore    *float64 `json:"ml_score,omitempty" yaml:"ml_score,omitempty"`
	Suppressed bool     `json:"suppressed" yaml:"suppressed"`
}

// New builds a finding with a stable ID and full producer confidence.
func New(analyzer, ruleID, filePath string, line int, severity Severity, category Category, message string) Finding {
	f := Finding{
		Analyzer:   analyzer,
		RuleID:     ruleID,
		FilePath:   filePath,
		Line:       line,
		Severity:   severity,
		Category:   category,
		Message:    message,
		Confidence: 1.0,
	}
	f.ID = ComputeID(analyzer, ruleID, filePath, line, message)
	return f
}

// WithColumn returns a copy of f with the column set.
func (f Finding) WithColumn(column int) Finding {
	f.Column = column
	return f
}

// WithConfidence returns a copy of f with the producer confidence clamped to [0, 1].
func (f Finding) WithConfidence(confidence float64) Finding {
	switch {
	case confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	f.Confidence = confidence
	return f
}

// WithDescription returns a copy of f with a longer description.
func (f Finding) WithDescription(description string) Finding {
	f.Description = description
	return f
}

// WithSuggestion returns a copy of f with a remediation hint.
func (f Finding) WithSuggestion(suggestion string) Finding {
	f.Suggestion = suggestion
	return f
}

// Relocated returns a copy of f moved to another path and shifted by lineOffset lines.
// File-level findings (line 0) are not shifted. The ID is recomputed so it keeps matching the
// reported location.
func (f Finding) Relocated(filePath string, lineOffset int) Finding {
	f.FilePath = filePath
	if f.Line > 0 {
		f.Line += lineOffset
	}
	f.ID = ComputeID(f.Analyzer, f.RuleID, f.FilePath, f.Line, f.Message)
	return f
}

// DedupKey identifies the issue independently of which analyzer reported it.
func (f Finding) DedupKey() string {
	h := sha256.New()
	h.Write([]byte(f.FilePath))
	h.Write([]byte{0})
	writeLine(h, f.Line)
	h.Write([]byte(NormalizeMessage(f.Message)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ComputeID returns the stable identifier of a finding. Identical input always yields the same ID.
func ComputeID(analyzer, ruleID, filePath string, line int, message string) string {
	h := sha256.New()
	for _, part := range []string{analyzer, ruleID, filePath} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	writeLine(h, line)
	h.Write([]byte(NormalizeMessage(message)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NormalizeMessage lowercases the message and collapses whitespace.
func NormalizeMessage(message string) string {
	return strings.ToLower(strings.Join(strings.Fields(message), " "))
}

func writeLine(h io.Writer, line int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(line))
	h.Write(buf[:])
}
