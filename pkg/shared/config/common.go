package config

import (
	"crypto/tls"
	"runtime"
	"time"
)

// Engine defaults.
const (
	DefaultChunkSize               = 64 * 1024
	DefaultChunkOverlapLines       = 1
	DefaultStreamingThresholdBytes = 2 * 1024 * 1024
	DefaultMaxFileSizeBytes        = 50 * 1024 * 1024
	DefaultTimeout                 = 30 * time.Second
	DefaultAdjustInterval          = 2 * time.Second
	DefaultAdjustEvery             = 16
	DefaultQueueSize               = 256
	DefaultCacheShards             = 16
	DefaultConfidenceThreshold     = 0.3
	DefaultBatchSize               = 64
	DefaultModel                   = "builtin"
)

// BaseHTTPConfig holds common HTTP client configuration settings.
type BaseHTTPConfig struct {
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	Timeout          time.Duration
	TLSClientConfig  *tls.Config
	Proxy            string
}

// RestyHttpClientConfig holds additional configuration settings for the resty http client.
type RestyHttpClientConfig struct {
	BaseHTTPConfig
	Debug bool
}

// DefaultHttpConfig is the base configuration used to download model artifacts.
func DefaultHttpConfig() BaseHTTPConfig {
	return BaseHTTPConfig{
		RetryCount:       3,
		RetryWaitTime:    1 * time.Second,
		RetryMaxWaitTime: 2 * time.Second,
		Timeout:          30 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// DefaultRestyConfig returns the http config used by the resty client.
func DefaultRestyConfig() RestyHttpClientConfig {
	return RestyHttpClientConfig{
		BaseHTTPConfig: DefaultHttpConfig(),
		Debug:          false,
	}
}

// DefaultMaxWorkers is the number of CPUs, at least one.
func DefaultMaxWorkers() int {
	if n := runtime.NumCPU(); n > 1 {
		return n
	}
	return 1
}

// ApplyDefaults fills every unset value of cfg. It does not touch the filesystem.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	e := &cfg.Engine
	e.MaxWorkers = SetThen(e.MaxWorkers, DefaultMaxWorkers())
	e.QueueSize = SetThen(e.QueueSize, DefaultQueueSize)
	e.ChunkSize = SetThen(e.ChunkSize, DefaultChunkSize)
	if e.ChunkOverlapLines == nil {
		e.ChunkOverlapLines = IntPtr(DefaultChunkOverlapLines)
	}
	e.StreamingThresholdBytes = SetThen(e.StreamingThresholdBytes, int64(DefaultStreamingThresholdBytes))
	e.MaxFileSizeBytes = SetThen(e.MaxFileSizeBytes, int64(DefaultMaxFileSizeBytes))
	e.Timeout = SetThen(e.Timeout, DefaultTimeout)
	e.AdjustInterval = SetThen(e.AdjustInterval, DefaultAdjustInterval)
	e.AdjustEvery = SetThen(e.AdjustEvery, DefaultAdjustEvery)

	cfg.Cache.Shards = SetThen(cfg.Cache.Shards, DefaultCacheShards)

	cfg.ML.ConfidenceThreshold = SetThen(cfg.ML.ConfidenceThreshold, DefaultConfidenceThreshold)
	cfg.ML.BatchSize = SetThen(cfg.ML.BatchSize, DefaultBatchSize)
	cfg.ML.Model = SetThen(cfg.ML.Model, DefaultModel)
}

// OverlapLines returns engine.chunk_overlap_lines. An explicit 0 disables the overlap.
func (e *Engine) OverlapLines() int {
	if e.ChunkOverlapLines == nil {
		return DefaultChunkOverlapLines
	}
	return *e.ChunkOverlapLines
}

// CacheEnabled reports whether the content cache is on. Defaults to true.
func (c *Config) CacheEnabled() bool {
	return GetBoolValue(c, "Cache.Enabled", true)
}

// MLEnabled reports whether the false-positive filter is on. Defaults to true.
func (c *Config) MLEnabled() bool {
	return GetBoolValue(c, "ML.Enabled", true)
}

// AnalyzerEnabled reports whether the named built-in analyzer is on. Unknown names are off.
func (c *Config) AnalyzerEnabled(name string) bool {
	switch name {
	case "security":
		return GetBoolValue(c, "Analyzers.Security.Enabled", true)
	case "non_production":
		return GetBoolValue(c, "Analyzers.NonProduction.Enabled", true)
	case "merge_conflict":
		return GetBoolValue(c, "Analyzers.MergeConflict.Enabled", true)
	}
	return false
}
