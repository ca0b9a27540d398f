package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/scanguard/pkg/shared/config"
)

// NewLogger builds a named logger writing to stderr, so stdout stays free for results.
func NewLogger(cfg *config.Config, name string) hclog.Logger {
	return newLogger(cfg, name, os.Stderr)
}

func newLogger(cfg *config.Config, name string, output io.Writer) hclog.Logger {
	// the environment takes priority over the config file
	levelStr := os.Getenv("SCANGUARD_LOG_LEVEL")
	if levelStr == "" && cfg != nil {
		levelStr = cfg.Logger.Level
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           getLogLevel(strings.ToUpper(levelStr)),
		Output:          output,
		DisableTime:     config.GetBoolValue(cfg, "Logger.DisableTime", true),
		JSONFormat:      config.GetBoolValue(cfg, "Logger.JSONFormat", false),
		IncludeLocation: config.GetBoolValue(cfg, "Logger.IncludeLocation", false),
	})
}

func getLogLevel(levelStr string) hclog.Level {
	switch levelStr {
	case "TRACE":
		return hclog.Trace
	case "DEBUG":
		return hclog.Debug
	case "INFO":
		return hclog.Info
	case "WARN":
		return hclog.Warn
	case "ERROR":
		return hclog.Error
	default:
		return hclog.Info
	}
}
