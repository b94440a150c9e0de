package secondary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/opensource-finance/scamshield/internal/domain"
)

// Model is a logistic regression model over Features.
type Model struct {
	Version      string    `json:"version,omitempty"`
	FeatureOrder []string  `json:"feature_order"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// LoadModel reads a model file. A missing file returns an error wrapping
// ErrModelNotLoaded; an unreadable or invalid file is a configuration error.
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelNotLoaded)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrModelNotLoaded, path)
		}
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that the model only refers to known features and is finite.
func (m *Model) Validate() error {
	if len(m.FeatureOrder) == 0 {
		return errors.New("feature_order is empty")
	}
	if len(m.FeatureOrder) != len(m.Coefficients) {
		return fmt.Errorf("feature_order has %d entries but coefficients has %d",
			len(m.FeatureOrder), len(m.Coefficients))
	}
	for i, name := range m.FeatureOrder {
		if !slices.Contains(FeatureNames, name) {
			return fmt.Errorf("unknown feature %q", name)
		}
		if math.IsNaN(m.Coefficients[i]) || math.IsInf(m.Coefficients[i], 0) {
			return fmt.Errorf("coefficient for %q is not finite", name)
		}
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return errors.New("intercept is not finite")
	}
	return nil
}

// LogisticScorer scores events with a logistic regression model.
type LogisticScorer struct {
	model *Model
}

// NewLogisticScorer creates a scorer for a validated model.
func NewLogisticScorer(m *Model) (*LogisticScorer, error) {
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &LogisticScorer{model: m}, nil
}

// Score returns the scam probability of ev scaled to [0,100].
func (s *LogisticScorer) Score(ctx context.Context, ev *domain.Event) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f := Featurize(ev)
	z := s.model.Intercept
	for i, name := range s.model.FeatureOrder {
		z += s.model.Coefficients[i] * f[name]
	}
	return 100.0 / (1.0 + math.Exp(-z)), nil
}

// Version returns the model version, if the model file named one.
func (s *LogisticScorer) Version() string {
	return s.model.Version
}
