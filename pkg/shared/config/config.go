package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the global scanguard configuration loaded from YAML.
type Config struct {
	Scanguard  Scanguard  `yaml:"scanguard"`
	Logger     Logger     `yaml:"logger"`
	Engine     Engine     `yaml:"engine"`
	Cache      Cache      `yaml:"cache"`
	ML         ML         `yaml:"ml"`
	Analyzers  Analyzers  `yaml:"analyzers"`
	HTTPClient HTTPClient `yaml:"http_client"`
}

// Scanguard holds the folders the tool works with.
type Scanguard struct {
	HomeFolder    string `yaml:"home_folder"`
	PluginsFolder string `yaml:"plugins_folder"`
}

type Logger struct {
	Level           string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	DisableTime     *bool  `yaml:"disable_time"`
	JSONFormat      *bool  `yaml:"json_format"`
	IncludeLocation *bool  `yaml:"include_location"`
}

// Engine holds the orchestration settings: concurrency, streaming and timeouts.
type Engine struct {
	MaxWorkers              int           `yaml:"max_workers" validate:"gte=1,lte=512"`
	QueueSize               int           `yaml:"queue_size" validate:"gte=1"`
	ChunkSize               int           `yaml:"chunk_size" validate:"gte=256"`
	ChunkOverlapLines       *int          `yaml:"chunk_overlap_lines" validate:"omitempty,gte=0,lte=64"`
	StreamingThresholdBytes int64         `yaml:"streaming_threshold_bytes" validate:"gte=1"`
	MaxFileSizeBytes        int64         `yaml:"max_file_size_bytes" validate:"gtefield=StreamingThresholdBytes"`
	Timeout                 time.Duration `yaml:"timeout"`
	AdjustInterval          time.Duration `yaml:"adjust_interval"`
	AdjustEvery             int           `yaml:"adjust_every" validate:"gte=1"`
}

type Cache struct {
	Enabled *bool         `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	Shards  int           `yaml:"shards" validate:"gte=1,lte=1024"`
	MaxAge  time.Duration `yaml:"max_age"`
}

// ML configures the false-positive filter. Model may be a local path, an http(s) URL or an s3:// URL.
type ML struct {
	Enabled             *bool   `yaml:"enabled"`
	Model               string  `yaml:"model"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	BatchSize           int     `yaml:"batch_size" validate:"gte=1"`
}

// Analyzers toggles the built-in analyzers and lists external analyzer plugins by name.
// PluginOptions maps a plugin name to its options, passed to the plugin process as
// SCANGUARD_<NAME>_<OPTION> environment variables.
type Analyzers struct {
	Security      Toggle                       `yaml:"security"`
	NonProduction Toggle                       `yaml:"non_production"`
	MergeConflict Toggle                       `yaml:"merge_conflict"`
	Plugins       []string                     `yaml:"plugins"`
	PluginOptions map[string]map[string]string `yaml:"plugin_options,omitempty"`
}

type Toggle struct {
	Enabled *bool `yaml:"enabled"`
}

type HTTPClient struct {
	Debug            *bool           `yaml:"debug"`
	RetryCount       int             `yaml:"retry_count"`
	RetryWaitTime    time.Duration   `yaml:"retry_wait_time"`
	RetryMaxWaitTime time.Duration   `yaml:"retry_max_wait_time"`
	Timeout          time.Duration   `yaml:"timeout"`
	TLSClientConfig  TLSClientConfig `yaml:"tls_client_config"`
	Proxy            Proxy           `yaml:"proxy"`
}

type TLSClientConfig struct {
	Verify *bool `yaml:"verify"`
}

type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ValidateConfigPath checks that path points at a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes the YAML file at configPath into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// LoadConfig reads the configuration at configPath and fills unset values with defaults.
// A missing file is not an error: the defaults are returned.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := LoadYAML(configPath, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
		}
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
