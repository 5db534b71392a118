// Package model holds fitted classification pipelines: a column transformer
// followed by a probabilistic classifier. Pipelines are read-only once built.
package model

import (
	"errors"

	"github.com/fractal-lba/healthxai/internal/api"
)

var (
	// ErrUnknownColumn is returned when a transform needs a column the row lacks.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNoFeatureNames is returned by transforms that cannot name their outputs.
	ErrNoFeatureNames = errors.New("transform does not expose output feature names")
	// ErrDimension is returned when a numeric row has the wrong width.
	ErrDimension = errors.New("feature dimension mismatch")
)

// Pipeline is a fitted classifier over original-schema rows.
type Pipeline interface {
	Predict(rows []api.InputRow) ([]string, error)
	PredictProba(rows []api.InputRow) ([][]float64, error)
	Classes() []string
}

// Staged exposes the preprocessing step and final estimator of a pipeline.
type Staged interface {
	Pipeline
	Preprocessor() Transformer
	FinalEstimator() Estimator
}

// Transformer maps original rows to numeric feature vectors.
type Transformer interface {
	Transform(rows []api.InputRow) ([][]float64, error)
}

// Estimator is a classifier over the transformed numeric space.
type Estimator interface {
	PredictProba(X [][]float64) ([][]float64, error)
	Classes() []string
}

// FeatureNamer is implemented by transformers that can name their outputs.
type FeatureNamer interface {
	FeatureNamesOut(input []string) ([]string, error)
}

// Composite is implemented by transformers built from named column steps.
type Composite interface {
	Steps() []Step
}

// Expanding is implemented by column transforms that emit several outputs per input column.
type Expanding interface {
	Expands() bool
}

// CategoryCounter reports how many outputs an expanding transform emits for
// the i-th column it consumes.
type CategoryCounter interface {
	CategoryCount(i int) (int, bool)
}

// Step is one named sub-transform of a column transformer.
type Step struct {
	Name      string
	Columns   []string
	Transform ColumnTransform // nil for drop steps
	Drop      bool
}

// ColumnTransform encodes the values of a fixed list of columns.
type ColumnTransform interface {
	// Encode appends the encoding of vals (one per step column) to dst.
	Encode(dst []float64, vals []api.Value) ([]float64, error)
	// Width returns the number of outputs produced for the step's columns.
	Width(ncols int) int
}

// PositiveProba extracts the probability column for class index idx.
func PositiveProba(proba [][]float64, idx int) []float64 {
	out := make([]float64, len(proba))
	for i, p := range proba {
		if idx < len(p) {
			out[i] = p[idx]
		}
	}
	return out
}

// ClassIndex returns the position of label in classes, or -1.
func ClassIndex(classes []string, label string) int {
	for i, c := range classes {
		if c == label {
			return i
		}
	}
	return -1
}
