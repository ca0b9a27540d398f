package analyzers

import (
	"bytes"
	"context"
	"regexp"

	"github.com/scan-io-git/scanguard/internal/findings"
)

const MergeConflictName = "merge_conflict"

var (
	conflictStart     = regexp.MustCompile(`^<{7}(\s|$)`)
	conflictSeparator = regexp.MustCompile(`^={7}(\s*)$`)
	conflictEnd       = regexp.MustCompile(`^>{7}(\s|$)`)
	conflictBase      = regexp.MustCompile(`^\|{7}(\s|$)`)
)

// MergeConflict reports unresolved git merge conflict markers.
// Start and end markers are unambiguous and reported wherever they appear. A separator line is only
// reported inside an open conflict block, since "=======" is also a heading underline in markup.
type MergeConflict struct{}

func NewMergeConflict() *MergeConflict { return &MergeConflict{} }

func (a *MergeConflict) Name() string { return MergeConflictName }

func (a *MergeConflict) Supports(path string) bool { return true }

func (a *MergeConflict) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	// cheap exit for the common case
	if !bytes.Contains(content, []byte("<<<<<<<")) && !bytes.Contains(content, []byte(">>>>>>>")) {
		return nil, ctx.Err()
	}

	var out []findings.Finding
	open := false
	err := eachLine(ctx, content, func(lineNo int, line []byte) {
		switch {
		case conflictStart.Match(line):
			open = true
			out = append(out, conflictFinding(path, lineNo, "conflict-start", "Merge conflict start marker"))
		case conflictBase.Match(line) && open:
			out = append(out, conflictFinding(path, lineNo, "conflict-base", "Merge conflict base marker"))
		case conflictSeparator.Match(line) && open:
			out = append(out, conflictFinding(path, lineNo, "conflict-separator", "Merge conflict separator"))
		case conflictEnd.Match(line):
			open = false
			out = append(out, conflictFinding(path, lineNo, "conflict-end", "Merge conflict end marker"))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func conflictFinding(path string, line int, rule, message string) findings.Finding {
	return findings.New(MergeConflictName, rule, path, line, findings.SeverityCritical, findings.CategoryIntegrity, message).
		WithColumn(1).
		WithDescription("The file contains an unresolved merge conflict and will not build or behave as intended.").
		WithSuggestion("Resolve the conflict and remove the markers.")
}
