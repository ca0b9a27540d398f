package mlfilter

import (
	"context"
	"fmt"
	"math"

	"gopkg.in/yaml.v2"
)

// Model scores feature vectors. A score is the probability in [0, 1] that a finding is a true positive.
type Model interface {
	// Version is the feature layout the model was trained on.
	Version() string
	ScoreBatch(ctx context.Context, features [][]float64) ([]float64, error)
}

// LogisticModel is a linear model over the v1 features with a sigmoid output.
type LogisticModel struct {
	Name           string    `yaml:"name" json:"name"`
	FeatureVersion string    `yaml:"feature_version" json:"feature_version"`
	Weights        []float64 `yaml:"weights" json:"weights"`
	Bias           float64   `yaml:"bias" json:"bias"`
}

// DefaultModel returns the model shipped with the binary.
func DefaultModel() *LogisticModel {
	return &LogisticModel{
		Name:           "builtin",
		FeatureVersion: FeatureVersion,
		Weights: []float64{
			1.2,  // severity
			0.6,  // file_type
			2.0,  // producer_confidence
			0.3,  // message_length
			0.1,  // line_position
			0.2,  // has_column
			0.4,  // rule_specificity
			0.5,  // message_entropy
			-0.3, // path_depth
			0.8,  // category_weight
			-2.5, // test_path
			0.5,  // analyzer_agreement
		},
		Bias: -2.0,
	}
}

// ParseModel decodes a YAML or JSON model artifact.
func ParseModel(data []byte) (*LogisticModel, error) {
	var m LogisticModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *LogisticModel) validate() error {
	if m.FeatureVersion != FeatureVersion {
		return fmt.Errorf("model feature version %q does not match %q", m.FeatureVersion, FeatureVersion)
	}
	if len(m.Weights) != FeatureCount {
		return fmt.Errorf("model has %d weights, expected %d", len(m.Weights), FeatureCount)
	}
	for i, w := range append([]float64{m.Bias}, m.Weights...) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("model parameter %d is not finite", i)
		}
	}
	return nil
}

func (m *LogisticModel) Version() string { return m.FeatureVersion }

func (m *LogisticModel) ScoreBatch(ctx context.Context, features [][]float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, len(features))
	for i, x := range features {
		if len(x) != len(m.Weights) {
			return nil, fmt.Errorf("feature vector %d has %d values, expected %d", i, len(x), len(m.Weights))
		}
		z := m.Bias
		for j, w := range m.Weights {
			z += w * x[j]
		}
		scores[i] = 1 / (1 + math.Exp(-z))
	}
	return scores, nil
}
