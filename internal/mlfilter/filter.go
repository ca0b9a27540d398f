package mlfilter

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/scanguard/internal/findings"
	errs "github.com/scan-io-git/scanguard/pkg/shared/errors"
)

const defaultBatchSize = 64

// Filter scores findings with a Model and flags the ones below a threshold as suppressed.
// Findings are never removed. Without a usable model the filter passes findings through unscored.
type Filter struct {
	logger    hclog.Logger
	model     Model
	batchSize int
}

// New creates a filter. model may be nil.
func New(logger hclog.Logger, model Model, batchSize int) *Filter {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Filter{
		logger:    logger.Named("ml-filter"),
		model:     model,
		batchSize: batchSize,
	}
}

// Enabled reports whether a model is attached.
func (f *Filter) Enabled() bool {
	return f.model != nil
}

// Score returns the model score of one finding.
func (f *Filter) Score(ctx context.Context, finding findings.Finding) (float64, error) {
	scores, err := f.scoreAll(ctx, []findings.Finding{finding})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// Apply returns a copy of in with ml_score and suppressed set on every finding.
// Applying it again with the same threshold yields the same values.
// On any inference failure the findings come back unscored and unsuppressed.
func (f *Filter) Apply(ctx context.Context, in []findings.Finding, threshold float64) []findings.Finding {
	out := make([]findings.Finding, len(in))
	copy(out, in)
	if len(out) == 0 {
		return out
	}

	scores, err := f.scoreAll(ctx, out)
	if err != nil {
		if f.model != nil {
			f.logger.Warn("false-positive filter disabled for this run", "kind", errs.KindOf(err), "error", err)
		}
		for i := range out {
			out[i].MLScore = nil
			out[i].Suppressed = false
		}
		return out
	}

	suppressed := 0
	for i := range out {
		score := scores[i]
		out[i].MLScore = &score
		out[i].Suppressed = score < threshold
		if out[i].Suppressed {
			suppressed++
		}
	}
	f.logger.Debug("findings scored", "total", len(out), "suppressed", suppressed, "threshold", threshold)
	return out
}

func (f *Filter) scoreAll(ctx context.Context, in []findings.Finding) ([]float64, error) {
	if f.model == nil {
		return nil, &errs.InferenceError{Op: "score", Err: fmt.Errorf("no model loaded")}
	}
	if v := f.model.Version(); v != FeatureVersion {
		return nil, &errs.InferenceError{Op: "score", Err: fmt.Errorf("model expects features %q, extractor produces %q", v, FeatureVersion)}
	}

	scores := make([]float64, 0, len(in))
	for start := 0; start < len(in); start += f.batchSize {
		end := min(start+f.batchSize, len(in))
		batch := make([][]float64, 0, end-start)
		for _, finding := range in[start:end] {
			batch = append(batch, Extract(finding))
		}

		out, err := f.model.ScoreBatch(ctx, batch)
		if err != nil {
			return nil, &errs.InferenceError{Op: "score", Err: err}
		}
		if len(out) != len(batch) {
			return nil, &errs.InferenceError{Op: "score", Err: fmt.Errorf("model returned %d scores for %d findings", len(out), len(batch))}
		}
		for _, s := range out {
			if math.IsNaN(s) || s < 0 || s > 1 {
				return nil, &errs.InferenceError{Op: "score", Err: fmt.Errorf("model returned score %v outside [0, 1]", s)}
			}
		}
		scores = append(scores, out...)
	}
	return scores, nil
}
