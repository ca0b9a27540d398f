package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/scanguard/internal/findings"
)

const (
	analyzerName = "entropy"
	ruleBase64   = "high-entropy-base64"
	ruleHex      = "high-entropy-hex"

	defaultMinLength       = 20
	defaultBase64Threshold = 4.5
	defaultHexThreshold    = 3.0
	maxLineLength          = 4096
	base64Chars            = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=_-"
	hexChars               = "0123456789abcdefABCDEF"
)

var (
	quoted = regexp.MustCompile("[\"'`]([^\"'`\\s]+)[\"'`]")

	skippedExtensions = map[string]bool{
		".lock": true, ".sum": true, ".svg": true, ".map": true, ".min.js": true,
	}
)

// Options tunes detection. Thresholds are Shannon entropy in bits per character.
type Options struct {
	MinLength       int
	Base64Threshold float64
	HexThreshold    float64
}

// loadOptions reads overrides from the plugin environment, where the host puts
// analyzers.plugin_options.entropy as SCANGUARD_ENTROPY_<OPTION>.
func loadOptions() Options {
	opts := Options{
		MinLength:       defaultMinLength,
		Base64Threshold: defaultBase64Threshold,
		HexThreshold:    defaultHexThreshold,
	}
	if v, err := strconv.Atoi(os.Getenv("SCANGUARD_ENTROPY_MIN_LENGTH")); err == nil && v > 0 {
		opts.MinLength = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("SCANGUARD_ENTROPY_BASE64_THRESHOLD"), 64); err == nil && v > 0 {
		opts.Base64Threshold = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("SCANGUARD_ENTROPY_HEX_THRESHOLD"), 64); err == nil && v > 0 {
		opts.HexThreshold = v
	}
	return opts
}

// EntropyAnalyzer reports quoted string literals that look like random secrets.
type EntropyAnalyzer struct {
	logger hclog.Logger
	opts   Options
}

func NewEntropyAnalyzer(logger hclog.Logger, opts Options) *EntropyAnalyzer {
	return &EntropyAnalyzer{logger: logger, opts: opts}
}

func (a *EntropyAnalyzer) Name() string { return analyzerName }

func (a *EntropyAnalyzer) Supports(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for ext := range skippedExtensions {
		if strings.HasSuffix(base, ext) {
			return false
		}
	}
	return true
}

func (a *EntropyAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]findings.Finding, error) {
	var out []findings.Finding
	for i, line := range strings.Split(string(content), "\n") {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(line) > maxLineLength {
			continue
		}
		for _, m := range quoted.FindAllStringSubmatchIndex(line, -1) {
			token := line[m[2]:m[3]]
			if f, ok := a.check(path, i+1, m[2]+1, token); ok {
				out = append(out, f)
			}
		}
	}
	a.logger.Trace("file analyzed", "path", path, "findings", len(out))
	return out, nil
}

// check reports token when it is long enough and its entropy passes the threshold for its alphabet.
func (a *EntropyAnalyzer) check(path string, line, column int, token string) (findings.Finding, bool) {
	if len(token) < a.opts.MinLength {
		return findings.Finding{}, false
	}

	rule, threshold := "", 0.0
	switch {
	case onlyChars(token, hexChars):
		rule, threshold = ruleHex, a.opts.HexThreshold
	case onlyChars(token, base64Chars):
		rule, threshold = ruleBase64, a.opts.Base64Threshold
	default:
		return findings.Finding{}, false
	}

	h := shannon(token)
	if h < threshold {
		return findings.Finding{}, false
	}

	confidence := math.Min(0.5+(h-threshold)/2, 0.95)
	f := findings.New(analyzerName, rule, path, line, findings.SeverityMedium, findings.CategorySecurity,
		fmt.Sprintf("High entropy string (%.2f bits per character) may be a secret", h)).
		WithColumn(column).
		WithConfidence(confidence).
		WithDescription("String literals with high Shannon entropy often are API keys, tokens or private keys.").
		WithSuggestion("Move the value to a secret store or environment variable and rotate it.")
	return f, true
}

func onlyChars(s, alphabet string) bool {
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// shannon is the Shannon entropy of s in bits per byte.
func shannon(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	h := 0.0
	n := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
