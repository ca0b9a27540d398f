package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/scan-io-git/scanguard/internal/analyzers"
	"github.com/scan-io-git/scanguard/pkg/shared"
	"github.com/scan-io-git/scanguard/pkg/shared/config"
)

var (
	AppConfig     *config.Config
	CoreVersion   = "dev"
	GolangVersion = "unknown"
	BuildTime     = "unknown"
)

// Versions holds build information of the core binary.
type Versions struct {
	Version       string `json:"version"`
	GolangVersion string `json:"golang_version"`
	BuildTime     string `json:"build_time"`
}

// CoreVersions holds version information for the core application, its analyzers and plugins.
type CoreVersions struct {
	Versions    Versions              `json:"versions"`
	Analyzers   []string              `json:"analyzers"`
	PluginsMeta map[string]PluginMeta `json:"plugins_meta"`
}

// PluginMeta holds version information for a plugin.
type PluginMeta struct {
	Version    string `json:"version"`
	PluginType string `json:"plugin_type"`
	Installed  bool   `json:"-"`
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

// NewVersionCmd creates a new cobra.Command for the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "version",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Print the version number of the application, its analyzers and plugins",
		Run: func(cmd *cobra.Command, args []string) {
			version := CoreVersions{
				Versions: Versions{
					Version:       CoreVersion,
					GolangVersion: GolangVersion,
					BuildTime:     BuildTime,
				},
			}
			if AppConfig != nil {
				for _, a := range analyzers.Builtin(AppConfig) {
					version.Analyzers = append(version.Analyzers, a.Name())
				}
				version.PluginsMeta = getPluginVersions(AppConfig.Scanguard.PluginsFolder, AppConfig.Analyzers.Plugins)
			}

			printVersionInfo(&version)
		},
	}
}

// readVersionFile reads and parses the version file as JSON.
func readVersionFile(versionFilePath string) PluginMeta {
	unknown := PluginMeta{Version: "unknown", PluginType: shared.PluginTypeAnalyzer}
	data, err := os.ReadFile(versionFilePath)
	if err != nil {
		return unknown
	}
	var pm PluginMeta
	if err := json.Unmarshal(data, &pm); err != nil {
		return unknown
	}
	return pm
}

// getPluginVersions reads <name>.VERSION next to every configured plugin binary.
func getPluginVersions(pluginsDir string, names []string) map[string]PluginMeta {
	pluginsMeta := make(map[string]PluginMeta, len(names))
	for _, name := range names {
		meta := readVersionFile(filepath.Join(pluginsDir, name+".VERSION"))
		if info, err := os.Stat(filepath.Join(pluginsDir, name)); err == nil && !info.IsDir() {
			meta.Installed = true
		}
		pluginsMeta[name] = meta
	}
	return pluginsMeta
}

// printVersionInfo prints the version information for the core application and plugins.
func printVersionInfo(versions *CoreVersions) {
	fmt.Printf("Core Version: v%s\n", versions.Versions.Version)
	fmt.Println("Built-in Analyzers:")
	for _, name := range versions.Analyzers {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("Plugin Versions:")
	names := make([]string, 0, len(versions.PluginsMeta))
	for name := range versions.PluginsMeta {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		meta := versions.PluginsMeta[name]
		status := ""
		if !meta.Installed {
			status = ", not installed"
		}
		fmt.Printf("  %s: v%s (Type: %s%s)\n", name, meta.Version, meta.PluginType, status)
	}
	fmt.Printf("Go Version: %s\n", versions.Versions.GolangVersion)
	fmt.Printf("Build Time: %s\n", versions.Versions.BuildTime)
}
