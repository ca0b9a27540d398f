package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
	"github.com/scan-io-git/scanguard/pkg/shared/files"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report yaml keys rather than Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidateConfig checks that every configuration value is usable.
// Every failure is a FatalConfigurationError.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errs.NewFatalConfigurationError("", "configuration object is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok && len(validationErrors) > 0 {
			first := validationErrors[0]
			return &errs.FatalConfigurationError{
				Field: fieldPath(first),
				Err:   fmt.Errorf("%s", formatValidationError(first)),
			}
		}
		return &errs.FatalConfigurationError{Err: err}
	}

	if err := ValidateEngineConfig(&cfg.Engine); err != nil {
		return err
	}
	if err := validateDuration(cfg.Cache.MaxAge, "cache.max_age", 365*24*time.Hour); err != nil {
		return err
	}
	if err := ValidateHTTPConfig(&cfg.HTTPClient); err != nil {
		return err
	}
	return nil
}

// ValidateEngineConfig checks the engine durations.
func ValidateEngineConfig(engine *Engine) error {
	if engine.Timeout <= 0 {
		return errs.NewFatalConfigurationError("engine.timeout", "must be positive, got %v", engine.Timeout)
	}
	if err := validateDuration(engine.Timeout, "engine.timeout", 1*time.Hour); err != nil {
		return err
	}
	if err := validateDuration(engine.AdjustInterval, "engine.adjust_interval", 1*time.Minute); err != nil {
		return err
	}
	return nil
}

// ValidateHTTPConfig checks if the HTTP configurations have valid values.
func ValidateHTTPConfig(httpConfig *HTTPClient) error {
	if httpConfig.RetryCount < 0 || httpConfig.RetryCount > 20 {
		return errs.NewFatalConfigurationError("http_client.retry_count", "must be between 0 and 20: %d", httpConfig.RetryCount)
	}

	durations := map[string]time.Duration{
		"http_client.retry_max_wait_time": httpConfig.RetryMaxWaitTime,
		"http_client.retry_wait_time":     httpConfig.RetryWaitTime,
		"http_client.timeout":             httpConfig.Timeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 100*time.Second); err != nil {
			return err
		}
	}

	if err := validateProxy(&httpConfig.Proxy); err != nil {
		return &errs.FatalConfigurationError{Field: "http_client.proxy", Err: err}
	}
	return nil
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return errs.NewFatalConfigurationError(name, "%v cannot be negative", d)
	}
	if d > max {
		return errs.NewFatalConfigurationError(name, "duration is too long: %v exceeds maximum of %v", d, max)
	}
	return nil
}

// validateProxy checks the proxy settings. An unset host or port disables the proxy.
func validateProxy(proxy *Proxy) error {
	if proxy.Host == "" || proxy.Port == 0 {
		return nil
	}

	if !strings.Contains(proxy.Host, "://") {
		proxy.Host = "http://" + proxy.Host
	}
	proxy.Host = strings.TrimRight(proxy.Host, "/")

	if _, err := url.Parse(proxy.Host); err != nil {
		return fmt.Errorf("invalid host URL: %w", err)
	}
	if proxy.Port < 1 || proxy.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", proxy.Port)
	}
	return nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("must not be smaller than %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// ResolvePaths fills the home, plugins and cache folders from the environment or defaults and creates them.
func ResolvePaths(cfg *Config) error {
	if cfg == nil {
		return errs.NewFatalConfigurationError("", "configuration object is nil")
	}
	if err := updateHome(cfg); err != nil {
		return fmt.Errorf("failed to update home folder: %w", err)
	}
	if err := updateFolder(&cfg.Scanguard.PluginsFolder, "SCANGUARD_PLUGINS_FOLDER", "plugins", cfg); err != nil {
		return fmt.Errorf("failed to update plugins folder: %w", err)
	}
	if err := updateFolder(&cfg.Cache.Dir, "SCANGUARD_CACHE_DIR", "cache", cfg); err != nil {
		return fmt.Errorf("failed to update cache folder: %w", err)
	}
	return nil
}

// updateHome sets HomeFolder from SCANGUARD_HOME or defaults to ~/.scanguard.
func updateHome(cfg *Config) error {
	if home := os.Getenv("SCANGUARD_HOME"); home != "" {
		cfg.Scanguard.HomeFolder = home
	} else if cfg.Scanguard.HomeFolder == "" {
		homeFolder, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("unable to get user home folder: %w", err)
		}
		cfg.Scanguard.HomeFolder = filepath.Join(homeFolder, ".scanguard")
	}

	expanded, err := files.ExpandPath(cfg.Scanguard.HomeFolder)
	if err != nil {
		return fmt.Errorf("failed to expand home path %q: %w", cfg.Scanguard.HomeFolder, err)
	}
	cfg.Scanguard.HomeFolder = expanded

	return files.CreateFolderIfNotExists(expanded)
}

func updateFolder(folder *string, envVar, defaultSubFolder string, cfg *Config) error {
	if value := os.Getenv(envVar); value != "" {
		*folder = value
	} else if *folder == "" {
		*folder = filepath.Join(cfg.Scanguard.HomeFolder, defaultSubFolder)
	}

	expanded, err := files.ExpandPath(*folder)
	if err != nil {
		return fmt.Errorf("failed to expand path %q: %w", *folder, err)
	}
	*folder = expanded

	return files.CreateFolderIfNotExists(expanded)
}
