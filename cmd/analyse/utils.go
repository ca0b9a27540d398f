package analyse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/scan-io-git/scanguard/internal/discovery"
	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/internal/sarif"
	"github.com/scan-io-git/scanguard/pkg/shared/files"
)

// Report formats and the value disabling the severity gate.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
	FailOnNone  = "none"
)

// collectTargets resolves the files to analyse from the input file, the git working tree or a walk of args.
func collectTargets(fsys afero.Fs, options *RunOptionsAnalyse, args []string) ([]string, error) {
	switch {
	case options.InputFile != "":
		list, err := discovery.ReadList(fsys, options.InputFile)
		if err != nil {
			return nil, fmt.Errorf("error parsing the input file %s: %w", options.InputFile, err)
		}
		return list, nil
	case options.Changed:
		var out []string
		for _, root := range args {
			changed, err := discovery.Changed(root)
			if err != nil {
				return nil, err
			}
			out = append(out, changed...)
		}
		return out, nil
	}
	return discovery.Walk(fsys, args, discovery.Options{
		IncludeHidden: options.IncludeHidden,
		Exclude:       options.Exclude,
	})
}

// sourceFolder is the folder SARIF locations are made relative to: the single directory target,
// or the working directory.
func sourceFolder(args []string) string {
	if len(args) == 1 {
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			if abs, err := files.CanonicalPath(args[0]); err == nil {
				return abs
			}
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if abs, err := files.CanonicalPath(wd); err == nil {
		return abs
	}
	return wd
}

// encodeResults renders results in the requested format. Suppressed findings are dropped from
// JSON unless showSuppressed is set; SARIF always carries them as suppressions.
func encodeResults(results *findings.AnalysisResults, format string, showSuppressed bool, root string) ([]byte, error) {
	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case FormatSARIF:
		if err := sarif.Write(&buf, results, root); err != nil {
			return nil, err
		}
	default:
		view := *results
		if !showSuppressed {
			view.Findings = results.Visible()
		}
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode results: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// writeResults writes the report to the output path, or to stdout when none is set.
// A folder output gets a scanguard.<format> file inside it.
func writeResults(results *findings.AnalysisResults, options *RunOptionsAnalyse, root string) error {
	data, err := encodeResults(results, options.ReportFormat, options.ShowSuppressed, root)
	if err != nil {
		return err
	}
	if options.OutputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	format := strings.ToLower(options.ReportFormat)
	fullPath, folder, err := files.DetermineFileFullPath(options.OutputPath, findings.ToolName+"."+format)
	if err != nil {
		return err
	}
	if err := files.CreateFolderIfNotExists(folder); err != nil {
		return err
	}
	return files.WriteFile(filepath.Clean(fullPath), data)
}
