// Package classifier loads and serves the trained detector models.
//
// Artifacts are framework-agnostic logistic regressions: a JSON file per
// detector with feature names, coefficients and an intercept. PredictProba
// is a deterministic sigmoid over the dot product, so a fixed artifact and
// request always score identically.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/trustpay/screening-engine/internal/features"
)

// Artifact is the on-disk model format: <model_dir>/<detector>.json.
type Artifact struct {
	Detector  string    `json:"detector"`
	Version   string    `json:"version"`
	Features  []string  `json:"features"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Model is a loaded, immutable scorer.
type Model struct {
	detector  string
	version   string
	names     []string
	weights   map[string]float64
	intercept float64
}

// Load reads and validates one artifact file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}
	if len(a.Features) == 0 || len(a.Features) != len(a.Weights) {
		return nil, fmt.Errorf("model artifact %s: %d features but %d weights", path, len(a.Features), len(a.Weights))
	}

	weights := make(map[string]float64, len(a.Features))
	for i, name := range a.Features {
		weights[name] = a.Weights[i]
	}

	return &Model{
		detector:  a.Detector,
		version:   a.Version,
		names:     a.Features,
		weights:   weights,
		intercept: a.Intercept,
	}, nil
}

// Detector returns the detector id the artifact was trained for.
func (m *Model) Detector() string { return m.detector }

// Version returns the artifact version string.
func (m *Model) Version() string { return m.version }

// PredictProba returns the positive-class probability for a feature vector.
// Features are matched by name; vector entries the model does not know are
// ignored, model features the vector lacks contribute zero.
func (m *Model) PredictProba(v features.Vector) float64 {
	z := m.intercept
	for i, name := range v.Names {
		if w, ok := m.weights[name]; ok {
			z += w * v.Values[i]
		}
	}
	return sigmoid(z)
}

// WeightsFor returns the coefficient aligned with each vector entry, for
// feature-importance ranking. Unknown features weigh zero.
func (m *Model) WeightsFor(v features.Vector) []float64 {
	out := make([]float64, len(v.Names))
	for i, name := range v.Names {
		out[i] = m.weights[name]
	}
	return out
}

// Margin is the distance of a probability from the decision boundary.
func Margin(p float64) float64 {
	return math.Abs(p - 0.5)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// ArtifactPath returns the conventional artifact location for a detector.
func ArtifactPath(modelDir, detector string) string {
	return filepath.Join(modelDir, detector+".json")
}
