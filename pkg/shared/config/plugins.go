package config

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PluginEnvPrefix returns the prefix of the environment variables a plugin reads its options from,
// e.g. SCANGUARD_ENTROPY_ for the entropy plugin.
func PluginEnvPrefix(name string) string {
	return "SCANGUARD_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_"
}

// PluginEnv returns the option variables handed to the named plugin, sorted: those the process
// inherited under PluginEnvPrefix, overridden by analyzers.plugin_options.<name>.
func (c *Config) PluginEnv(name string) []string {
	prefix := PluginEnvPrefix(name)
	vars := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, prefix) {
			vars[k] = v
		}
	}
	for k, v := range c.Analyzers.PluginOptions[name] {
		vars[prefix+strings.ToUpper(k)] = v
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// pluginIdentity is what the fingerprint knows about one configured plugin.
type pluginIdentity struct {
	Name    string   `yaml:"name"`
	Binary  string   `yaml:"binary"`
	Version string   `yaml:"version"`
	Env     []string `yaml:"env"`
}

func identifyPlugin(cfg *Config, name string) pluginIdentity {
	path := filepath.Join(cfg.Scanguard.PluginsFolder, name)
	id := pluginIdentity{Name: name, Binary: "missing", Env: cfg.PluginEnv(name)}
	if sum, err := hashFile(path); err == nil {
		id.Binary = sum
	}
	if data, err := os.ReadFile(path + ".VERSION"); err == nil {
		id.Version = strings.TrimSpace(string(data))
	}
	return id
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
