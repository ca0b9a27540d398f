package sarif

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scan-io-git/scanguard/internal/findings"
)

const (
	informationURI = "https://github.com/scan-io-git/scanguard"

	// fingerprintKey names the partial fingerprint that carries the stable finding ID.
	fingerprintKey = "scanguardFindingId/v1"

	// SuppressionKind marks findings hidden by the false-positive filter.
	SuppressionKind = "external"
)

// Build converts results into a SARIF 2.1.0 report with a single run.
// File paths under sourceFolder are written relative to it. Suppressed findings stay in the
// report with an external suppression so consumers can still audit them.
func Build(results *findings.AnalysisResults, sourceFolder string) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(findings.ToolName, informationURI)
	if results.Tool.Version != "" {
		run.Tool.Driver.WithVersion(results.Tool.Version)
	}
	run.AddInvocation(!results.Partial)

	for _, f := range results.Findings {
		ruleID := f.Analyzer + "/" + f.RuleID
		rule := run.AddRule(ruleID).
			WithDescription(ruleDescription(f)).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: toSarifLevel(f.Severity)})
		if rule.Properties == nil {
			rule.Properties = sarif.Properties{
				"analyzer": f.Analyzer,
				"category": string(f.Category),
			}
		}

		region := sarif.NewRegion().WithStartLine(max(f.Line, 1))
		if f.Column > 0 {
			region.WithStartColumn(f.Column)
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(artifactURI(f.FilePath, sourceFolder))).
				WithRegion(region),
		)

		result := sarif.NewRuleResult(ruleID).
			WithMessage(sarif.NewTextMessage(f.Message)).
			WithLevel(toSarifLevel(f.Severity)).
			WithLocations([]*sarif.Location{location}).
			WithPartialFingerPrints(map[string]interface{}{fingerprintKey: f.ID})

		props := sarif.Properties{
			"severity":   f.Severity.String(),
			"category":   string(f.Category),
			"confidence": f.Confidence,
		}
		if f.MLScore != nil {
			props["ml_score"] = *f.MLScore
		}
		if f.Suggestion != "" {
			props["suggestion"] = f.Suggestion
		}
		result.Properties = props

		if f.Suppressed {
			result.AddSuppression(sarif.NewSuppression(SuppressionKind).
				WithJustifcation("Scored below the false-positive confidence threshold."))
		}
		run.AddResult(result)
	}

	report.AddRun(run)
	return report, nil
}

// Write encodes results as an indented SARIF document.
func Write(w io.Writer, results *findings.AnalysisResults, sourceFolder string) error {
	report, err := Build(results, sourceFolder)
	if err != nil {
		return err
	}
	if err := report.PrettyWrite(w); err != nil {
		return fmt.Errorf("failed to write SARIF report: %w", err)
	}
	return nil
}

func ruleDescription(f findings.Finding) string {
	if f.Description != "" {
		return f.Description
	}
	return f.Message
}

// toSarifLevel maps a severity onto the SARIF result levels.
func toSarifLevel(s findings.Severity) string {
	switch {
	case s >= findings.SeverityHigh:
		return "error"
	case s == findings.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// artifactURI returns path relative to root with forward slashes when path lies within root.
func artifactURI(path, root string) string {
	if root != "" && pathWithin(path, root) {
		if rel, err := filepath.Rel(root, path); err == nil && rel != "." {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// pathWithin reports whether path is root or lies below it.
func pathWithin(path, root string) bool {
	cleanPath, err1 := filepath.Abs(path)
	cleanRoot, err2 := filepath.Abs(root)
	if err1 != nil || err2 != nil {
		cleanPath = filepath.Clean(path)
		cleanRoot = filepath.Clean(root)
	}
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}
