package analyzers

import (
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
)

// Builtin returns the built-in analyzers enabled in cfg, in a fixed order.
func Builtin(cfg *config.Config) []shared.Analyzer {
	var out []shared.Analyzer
	if cfg.AnalyzerEnabled(SecurityName) {
		out = append(out, NewSecurity())
	}
	if cfg.AnalyzerEnabled(NonProductionName) {
		out = append(out, NewNonProduction())
	}
	if cfg.AnalyzerEnabled(MergeConflictName) {
		out = append(out, NewMergeConflict())
	}
	return out
}
