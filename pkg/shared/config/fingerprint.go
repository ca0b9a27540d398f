package config

import (
	"crypto/sha256"
	"encoding/hex"

	yaml "gopkg.in/yaml.v2"

	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
)

// FingerprintVersion is bumped whenever the set of fingerprinted settings changes.
const FingerprintVersion = "2"

// fingerprintInput is the subset of the configuration that changes analyzer output, plus the
// installed build and options of every configured plugin.
// ML settings are left out: the filter runs after the cache.
type fingerprintInput struct {
	Version                 string           `yaml:"version"`
	Analyzers               Analyzers        `yaml:"analyzers"`
	Plugins                 []pluginIdentity `yaml:"plugins"`
	ChunkSize               int              `yaml:"chunk_size"`
	ChunkOverlapLines       int              `yaml:"chunk_overlap_lines"`
	StreamingThresholdBytes int64            `yaml:"streaming_threshold_bytes"`
	MaxFileSizeBytes        int64            `yaml:"max_file_size_bytes"`
}

// Fingerprint returns the configuration fingerprint used as the second cache key component.
func Fingerprint(cfg *Config) (string, error) {
	if cfg == nil {
		return "", errs.NewFatalConfigurationError("", "cannot fingerprint a nil configuration")
	}

	in := fingerprintInput{
		Version:                 FingerprintVersion,
		Analyzers:               normalizedAnalyzers(cfg),
		ChunkSize:               cfg.Engine.ChunkSize,
		ChunkOverlapLines:       cfg.Engine.OverlapLines(),
		StreamingThresholdBytes: cfg.Engine.StreamingThresholdBytes,
		MaxFileSizeBytes:        cfg.Engine.MaxFileSizeBytes,
	}
	for _, name := range cfg.Analyzers.Plugins {
		in.Plugins = append(in.Plugins, identifyPlugin(cfg, name))
	}

	raw, err := yaml.Marshal(in)
	if err != nil {
		return "", &errs.FatalConfigurationError{Field: "fingerprint", Err: err}
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}

// normalizedAnalyzers resolves the toggles so that an unset toggle and an explicit default hash alike.
func normalizedAnalyzers(cfg *Config) Analyzers {
	return Analyzers{
		Security:      Toggle{Enabled: BoolPtr(cfg.AnalyzerEnabled("security"))},
		NonProduction: Toggle{Enabled: BoolPtr(cfg.AnalyzerEnabled("non_production"))},
		MergeConflict: Toggle{Enabled: BoolPtr(cfg.AnalyzerEnabled("merge_conflict"))},
		Plugins:       append([]string(nil), cfg.Analyzers.Plugins...),
	}
}
