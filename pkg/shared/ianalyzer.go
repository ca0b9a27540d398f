package shared

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"

	"github.com/hashicorp/go-plugin"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// Analyzer is the capability contract every analyzer implements.
// Implementations must be safe for concurrent use across files.
type Analyzer interface {
	Name() string
	Supports(path string) bool
	Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error)
}

// AnalyzerAnalyzeRequest is one analyze call sent to an out-of-process analyzer.
type AnalyzerAnalyzeRequest struct {
	Path    string
	Content []byte
}

// AnalyzerAnalyzeResponse carries the findings produced by an out-of-process analyzer.
type AnalyzerAnalyzeResponse struct {
	Findings []findings.Finding
}

// AnalyzerRPCClient is the host side of an analyzer plugin.
type AnalyzerRPCClient struct {
	client   *rpc.Client
	nameOnce sync.Once
	name     string
}

// Name asks the plugin once and remembers the answer.
func (g *AnalyzerRPCClient) Name() string {
	g.nameOnce.Do(func() {
		var resp string
		if err := g.client.Call("Plugin.Name", "", &resp); err != nil || resp == "" {
			resp = "unknown-plugin"
		}
		g.name = resp
	})
	return g.name
}

func (g *AnalyzerRPCClient) Supports(path string) bool {
	var resp bool
	if err := g.client.Call("Plugin.Supports", path, &resp); err != nil {
		return false
	}
	return resp
}

// Analyze forwards the call to the plugin. The plugin keeps running when ctx ends,
// but the caller stops waiting for it.
func (g *AnalyzerRPCClient) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	var resp AnalyzerAnalyzeResponse
	call := g.client.Go("Plugin.Analyze", AnalyzerAnalyzeRequest{Path: path, Content: content}, &resp, make(chan *rpc.Call, 1))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return nil, fmt.Errorf("plugin call failed: %w", done.Error)
		}
		return resp.Findings, nil
	}
}

// AnalyzerRPCServer is the plugin side, wrapping a local Analyzer.
type AnalyzerRPCServer struct {
	Impl Analyzer
}

func (s *AnalyzerRPCServer) Name(_ string, resp *string) error {
	*resp = s.Impl.Name()
	return nil
}

func (s *AnalyzerRPCServer) Supports(path string, resp *bool) error {
	*resp = s.Impl.Supports(path)
	return nil
}

func (s *AnalyzerRPCServer) Analyze(req AnalyzerAnalyzeRequest, resp *AnalyzerAnalyzeResponse) error {
	result, err := s.Impl.Analyze(context.Background(), req.Path, req.Content)
	if err != nil {
		return err
	}
	resp.Findings = result
	return nil
}

// AnalyzerPlugin implements plugin.Plugin for analyzers served over net/rpc.
type AnalyzerPlugin struct {
	Impl Analyzer
}

func (p *AnalyzerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &AnalyzerRPCServer{Impl: p.Impl}, nil
}

func (AnalyzerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &AnalyzerRPCClient{client: c}, nil
}
