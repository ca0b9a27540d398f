package analyzers

import (
	"context"
	"regexp"
	"strings"

	"github.com/scan-io-git/scanguard/internal/findings"
)

const NonProductionName = "non_production"

var sourceExtensions = []string{
	".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".java", ".kt", ".scala",
	".rb", ".php", ".rs", ".c", ".cc", ".cpp", ".h", ".cs", ".swift", ".sh", ".bash",
	".vue", ".svelte",
}

var (
	markerPattern   = regexp.MustCompile(`(?:^|\s|//|#|/\*|--)\s*(TODO|FIXME|HACK|XXX|BUG)\b`)
	debuggerPattern = regexp.MustCompile(`^\s*debugger\s*;?\s*$`)
	consolePattern  = regexp.MustCompile(`\bconsole\.(log|debug|info|warn|error|trace)\s*\(`)
	printPattern    = regexp.MustCompile(`^\s*(fmt\.Print(ln|f)?\(|print\(|println!\(|System\.out\.print(ln)?\(|var_dump\(|pp\s)`)
)

var markerSeverity = map[string]findings.Severity{
	"BUG":   findings.SeverityHigh,
	"XXX":   findings.SeverityHigh,
	"FIXME": findings.SeverityMedium,
	"HACK":  findings.SeverityMedium,
	"TODO":  findings.SeverityLow,
}

// NonProduction flags leftovers that should not ship: open markers, debugger statements and debug prints.
type NonProduction struct {
	extensions map[string]bool
	js         map[string]bool
}

func NewNonProduction() *NonProduction {
	return &NonProduction{
		extensions: set(sourceExtensions...),
		js:         set(jsExtensions...),
	}
}

func (a *NonProduction) Name() string { return NonProductionName }

func (a *NonProduction) Supports(path string) bool {
	return a.extensions[extension(path)]
}

func (a *NonProduction) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	isJS := a.js[extension(path)]
	testFile := isTestFile(path)

	var out []findings.Finding
	err := eachLine(ctx, content, func(lineNo int, line []byte) {
		if m := markerPattern.FindSubmatchIndex(line); m != nil {
			keyword := string(line[m[2]:m[3]])
			out = append(out, findings.New(NonProductionName, "unresolved-"+strings.ToLower(keyword), path, lineNo, markerSeverity[keyword], findings.CategoryQuality, keyword+" comment found").
				WithColumn(m[2]+1).
				WithDescription("The line carries a "+keyword+" marker that should be resolved before release.").
				WithSuggestion("Resolve it or track it in the issue tracker.").
				WithConfidence(0.9))
		}

		if isJS && debuggerPattern.Match(line) {
			out = append(out, findings.New(NonProductionName, "debugger-statement", path, lineNo, findings.SeverityHigh, findings.CategoryQuality, "Debugger statement found").
				WithSuggestion("Remove the debugger statement."))
		}

		if testFile {
			return
		}
		if loc := consolePattern.FindIndex(line); isJS && loc != nil {
			out = append(out, findings.New(NonProductionName, "console-statement", path, lineNo, findings.SeverityLow, findings.CategoryQuality, "Console statement found").
				WithColumn(loc[0]+1).
				WithSuggestion("Use a logging library instead of console output.").
				WithConfidence(0.7))
		}
		if loc := printPattern.FindIndex(line); loc != nil {
			out = append(out, findings.New(NonProductionName, "debug-print", path, lineNo, findings.SeverityLow, findings.CategoryQuality, "Debug print found").
				WithColumn(loc[0]+1).
				WithSuggestion("Remove the print or replace it with structured logging.").
				WithConfidence(0.5))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isTestFile(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "_test.") || strings.Contains(p, ".test.") || strings.Contains(p, ".spec.") ||
		strings.Contains(p, "/test/") || strings.Contains(p, "/tests/") || strings.Contains(p, "/testdata/")
}
