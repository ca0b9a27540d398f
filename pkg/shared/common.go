package shared

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"github.com/spf13/pflag"
)

const (
	PluginTypeAnalyzer string = "analyzer"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SCANGUARD",
	MagicCookieValue: "3f1b9c7e2d4a86b05e91c2f7a3d8e6b4c0f5a192",
}

var PluginMap = map[string]plugin.Plugin{
	PluginTypeAnalyzer: &AnalyzerPlugin{},
}

// PluginSet holds running analyzer plugin processes. Close kills all of them.
type PluginSet struct {
	clients   []*plugin.Client
	Analyzers []Analyzer
}

// Close kills every plugin process.
func (s *PluginSet) Close() {
	if s == nil {
		return
	}
	for _, c := range s.clients {
		c.Kill()
	}
	s.clients = nil
}

// LoadAnalyzerPlugins starts each named plugin binary from pluginsFolder and dispenses its analyzer.
// env, when not nil, returns extra environment variables for the named plugin process.
// The processes stay alive for the whole run; callers must Close the returned set.
func LoadAnalyzerPlugins(logger hclog.Logger, pluginsFolder string, names []string, env func(name string) []string) (*PluginSet, error) {
	set := &PluginSet{}
	for _, name := range names {
		pluginPath := filepath.Join(pluginsFolder, name)
		cmd := exec.Command(pluginPath)
		if env != nil {
			cmd.Env = append(os.Environ(), env(name)...)
		}
		client := plugin.NewClient(&plugin.ClientConfig{
			HandshakeConfig:  HandshakeConfig,
			Plugins:          PluginMap,
			Cmd:              cmd,
			Logger:           logger.Named(name),
			AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		})
		set.clients = append(set.clients, client)

		rpcClient, err := client.Client()
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to start plugin %q: %w", name, err)
		}

		raw, err := rpcClient.Dispense(PluginTypeAnalyzer)
		if err != nil {
			set.Close()
			return nil, fmt.Errorf("failed to dispense plugin %q: %w", name, err)
		}

		analyzer, ok := raw.(Analyzer)
		if !ok {
			set.Close()
			return nil, fmt.Errorf("plugin %q does not implement the analyzer interface", name)
		}
		logger.Debug("analyzer plugin loaded", "plugin", name, "analyzer", analyzer.Name())
		set.Analyzers = append(set.Analyzers, analyzer)
	}
	return set, nil
}

// ForEachBounded calls f for every value with at most limit calls running at once, and waits for all of them.
func ForEachBounded[T any](limit int, values []T, f func(i int, value T)) {
	if limit < 1 {
		limit = 1
	}
	guard := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, value := range values {
		guard <- struct{}{} // blocks while limit calls are running
		wg.Add(1)
		go func(i int, value T) {
			defer wg.Done()
			f(i, value)
			<-guard
		}(i, value)
	}
	wg.Wait()
}

// HasFlags reports whether any flag in the set was changed by the user.
func HasFlags(flags *pflag.FlagSet) bool {
	changed := false
	flags.Visit(func(*pflag.Flag) {
		changed = true
	})
	return changed
}
