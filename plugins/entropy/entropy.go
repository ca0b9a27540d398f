package main

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/scan-io-git/scanguard/pkg/shared"
)

var (
	Version       = "unknown"
	GolangVersion = "unknown"
	BuildTime     = "unknown"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Level:      hclog.LevelFromString(os.Getenv("SCANGUARD_LOG_LEVEL")),
		Output:     os.Stderr,
		JSONFormat: true,
	})

	analyzer := NewEntropyAnalyzer(logger, loadOptions())
	logger.Debug("entropy analyzer starting", "version", Version, "go", GolangVersion, "build_time", BuildTime)

	var pluginMap = map[string]plugin.Plugin{
		shared.PluginTypeAnalyzer: &shared.AnalyzerPlugin{Impl: analyzer},
	}

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.HandshakeConfig,
		Plugins:         pluginMap,
	})
}
