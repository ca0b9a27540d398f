package analyse

import (
	"fmt"
	"os"
	"strings"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// validateAnalyseArgs validates the arguments provided to the analyse command.
func validateAnalyseArgs(options *RunOptionsAnalyse, args []string) error {
	if options.InputFile == "" && len(args) == 0 {
		return fmt.Errorf("either 'input-file' flag or a target path must be specified")
	}

	if options.InputFile != "" {
		if len(args) > 0 {
			return fmt.Errorf("you cannot use an 'input-file' flag and a target path at the same time")
		}
		if options.Changed {
			return fmt.Errorf("you cannot use an 'input-file' flag and a 'changed' flag at the same time")
		}
		if _, err := os.Stat(options.InputFile); os.IsNotExist(err) {
			return fmt.Errorf("the input file does not exist: %v", options.InputFile)
		}
	}

	for _, targetPath := range args {
		if _, err := os.Stat(targetPath); os.IsNotExist(err) {
			return fmt.Errorf("the target path does not exist: %v", targetPath)
		}
	}

	switch strings.ToLower(options.ReportFormat) {
	case FormatJSON, FormatSARIF:
	default:
		return fmt.Errorf("unsupported format %q, use %q or %q", options.ReportFormat, FormatJSON, FormatSARIF)
	}

	if options.Threads < 0 {
		return fmt.Errorf("the 'threads' flag must be a positive integer")
	}

	if !strings.EqualFold(options.FailOn, FailOnNone) {
		if _, err := findings.ParseSeverity(options.FailOn); err != nil {
			return fmt.Errorf("invalid 'fail-on' value: %w", err)
		}
	}

	return nil
}
