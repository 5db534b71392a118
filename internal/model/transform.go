package model

import (
	"fmt"

	"github.com/fractal-lba/healthxai/internal/api"
)

// ColumnTransformer applies named sub-transforms to column subsets and
// concatenates their outputs in step order. Columns not named by any step
// are dropped.
type ColumnTransformer struct {
	steps []Step
	// prefix output names with "<step>__"
	verbose bool
}

// NewColumnTransformer builds a transformer from its steps.
func NewColumnTransformer(steps []Step, verboseNames bool) (*ColumnTransformer, error) {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("column transformer step has no name")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if !s.Drop && s.Transform == nil {
			return nil, fmt.Errorf("step %q has no transform", s.Name)
		}
	}
	return &ColumnTransformer{steps: steps, verbose: verboseNames}, nil
}

// Steps returns the configured sub-transforms in order.
func (ct *ColumnTransformer) Steps() []Step {
	out := make([]Step, len(ct.steps))
	copy(out, ct.steps)
	return out
}

// Width returns the number of output features.
func (ct *ColumnTransformer) Width() int {
	n := 0
	for _, s := range ct.steps {
		if s.Drop {
			continue
		}
		n += s.Transform.Width(len(s.Columns))
	}
	return n
}

// Transform encodes each row into a numeric vector.
func (ct *ColumnTransformer) Transform(rows []api.InputRow) ([][]float64, error) {
	width := ct.Width()
	out := make([][]float64, len(rows))
	for r, row := range rows {
		vec := make([]float64, 0, width)
		for _, s := range ct.steps {
			if s.Drop {
				continue
			}
			vals := make([]api.Value, len(s.Columns))
			for i, c := range s.Columns {
				v, ok := row.Get(c)
				if !ok {
					return nil, fmt.Errorf("step %s: %w: %s", s.Name, ErrUnknownColumn, c)
				}
				vals[i] = v
			}
			var err error
			vec, err = s.Transform.Encode(vec, vals)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", s.Name, err)
			}
		}
		out[r] = vec
	}
	return out, nil
}

type outputNamer interface {
	OutputNames(columns []string) []string
}

// FeatureNamesOut names every output feature. It fails if any step cannot
// name its outputs.
func (ct *ColumnTransformer) FeatureNamesOut(_ []string) ([]string, error) {
	var names []string
	for _, s := range ct.steps {
		if s.Drop {
			continue
		}
		namer, ok := s.Transform.(outputNamer)
		if !ok {
			return nil, fmt.Errorf("step %s: %w", s.Name, ErrNoFeatureNames)
		}
		for _, n := range namer.OutputNames(s.Columns) {
			if ct.verbose {
				n = s.Name + "__" + n
			}
			names = append(names, n)
		}
	}
	return names, nil
}

// StandardScaler centers and scales numeric columns.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func (s *StandardScaler) Encode(dst []float64, vals []api.Value) ([]float64, error) {
	if len(vals) != len(s.Mean) || len(vals) != len(s.Scale) {
		return nil, fmt.Errorf("scaler: %w: got %d columns, fitted on %d", ErrDimension, len(vals), len(s.Mean))
	}
	for i, v := range vals {
		f, ok := v.Float()
		if !ok {
			return nil, fmt.Errorf("scaler: %q is not numeric", v.Str)
		}
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		dst = append(dst, (f-s.Mean[i])/scale)
	}
	return dst, nil
}

func (s *StandardScaler) Width(ncols int) int { return ncols }

func (s *StandardScaler) OutputNames(columns []string) []string { return columns }

// OneHotEncoder emits one indicator per fitted category. Unknown categories
// encode as all zeros.
type OneHotEncoder struct {
	Categories [][]string
}

func (o *OneHotEncoder) Encode(dst []float64, vals []api.Value) ([]float64, error) {
	if len(vals) != len(o.Categories) {
		return nil, fmt.Errorf("one-hot: %w: got %d columns, fitted on %d", ErrDimension, len(vals), len(o.Categories))
	}
	for i, v := range vals {
		label := v.String()
		for _, c := range o.Categories[i] {
			if c == label {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		}
	}
	return dst, nil
}

func (o *OneHotEncoder) Width(int) int {
	n := 0
	for _, c := range o.Categories {
		n += len(c)
	}
	return n
}

func (o *OneHotEncoder) Expands() bool { return true }

func (o *OneHotEncoder) CategoryCount(i int) (int, bool) {
	if i < 0 || i >= len(o.Categories) {
		return 0, false
	}
	return len(o.Categories[i]), true
}

func (o *OneHotEncoder) OutputNames(columns []string) []string {
	var names []string
	for i, col := range columns {
		if i >= len(o.Categories) {
			break
		}
		for _, c := range o.Categories[i] {
			names = append(names, col+"_"+c)
		}
	}
	return names
}

// BinaryEncoder maps the Positive label to 1 and anything else to 0.
// It does not name its outputs.
type BinaryEncoder struct {
	Positive string
}

func (b *BinaryEncoder) Encode(dst []float64, vals []api.Value) ([]float64, error) {
	for _, v := range vals {
		if v.String() == b.Positive {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}

func (b *BinaryEncoder) Width(ncols int) int { return ncols }

// OrdinalEncoder maps each category to its index; unknown labels encode as -1.
type OrdinalEncoder struct {
	Categories [][]string
}

func (o *OrdinalEncoder) Encode(dst []float64, vals []api.Value) ([]float64, error) {
	if len(vals) != len(o.Categories) {
		return nil, fmt.Errorf("ordinal: %w: got %d columns, fitted on %d", ErrDimension, len(vals), len(o.Categories))
	}
	for i, v := range vals {
		code := -1.0
		label := v.String()
		for j, c := range o.Categories[i] {
			if c == label {
				code = float64(j)
				break
			}
		}
		dst = append(dst, code)
	}
	return dst, nil
}

func (o *OrdinalEncoder) Width(ncols int) int { return ncols }

func (o *OrdinalEncoder) OutputNames(columns []string) []string { return columns }

// Passthrough forwards numeric columns unchanged.
type Passthrough struct{}

func (Passthrough) Encode(dst []float64, vals []api.Value) ([]float64, error) {
	for _, v := range vals {
		f, ok := v.Float()
		if !ok {
			return nil, fmt.Errorf("passthrough: %q is not numeric", v.Str)
		}
		dst = append(dst, f)
	}
	return dst, nil
}

func (Passthrough) Width(ncols int) int { return ncols }

func (Passthrough) OutputNames(columns []string) []string { return columns }
