package xai

import (
	"fmt"

	"github.com/fractal-lba/healthxai/internal/model"
)

// Values is a dense row-major tensor of attribution values.
type Values struct {
	Data  []float64
	Shape []int
}

// Vector wraps a 1-D attribution vector.
func Vector(v []float64) Values {
	return Values{Data: v, Shape: []int{len(v)}}
}

// Tensor wraps data with an explicit shape.
func Tensor(data []float64, shape ...int) (Values, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(data) {
		return Values{}, fmt.Errorf("shape %v holds %d values, got %d", shape, n, len(data))
	}
	return Values{Data: data, Shape: shape}, nil
}

// ToVector reduces v to one value per transformed feature for the first row
// and output cls. Supported layouts: features; rows x features;
// features x rows; rows x classes x features; rows x features x classes.
func (v Values) ToVector(nFeatures, cls int) ([]float64, error) {
	switch len(v.Shape) {
	case 1:
		return append([]float64(nil), v.Data...), nil

	case 2:
		a, b := v.Shape[0], v.Shape[1]
		if a == 0 || b == 0 {
			return nil, fmt.Errorf("empty attribution shape %v", v.Shape)
		}
		if a == nFeatures && b != nFeatures {
			// transposed: take the first column
			out := make([]float64, a)
			for i := 0; i < a; i++ {
				out[i] = v.Data[i*b]
			}
			return out, nil
		}
		return append([]float64(nil), v.Data[:b]...), nil

	case 3:
		r, a, b := v.Shape[0], v.Shape[1], v.Shape[2]
		if r == 0 {
			return nil, fmt.Errorf("empty attribution shape %v", v.Shape)
		}
		switch {
		case b == nFeatures:
			if cls < 0 || cls >= a {
				return nil, fmt.Errorf("class index %d outside %d outputs", cls, a)
			}
			start := cls * b
			return append([]float64(nil), v.Data[start:start+b]...), nil
		case a == nFeatures:
			if cls < 0 || cls >= b {
				return nil, fmt.Errorf("class index %d outside %d outputs", cls, b)
			}
			out := make([]float64, a)
			for i := 0; i < a; i++ {
				out[i] = v.Data[i*b+cls]
			}
			return out, nil
		default:
			return nil, fmt.Errorf("cannot locate %d features in shape %v", nFeatures, v.Shape)
		}

	default:
		return nil, fmt.Errorf("unsupported attribution rank %d", len(v.Shape))
	}
}

// BaseFor picks the base value for output cls; a single base value applies to every output.
func BaseFor(base []float64, cls int) (float64, bool) {
	switch {
	case len(base) == 0:
		return 0, false
	case len(base) == 1:
		return base[0], true
	case cls >= 0 && cls < len(base):
		return base[cls], true
	default:
		return 0, false
	}
}

// PositiveIndex locates the positive class among an estimator's outputs.
// When label is not declared it falls back to index 1 (or 0 for a single
// output) and reports exact=false.
func PositiveIndex(classes []string, label string, outputs int) (idx int, exact bool) {
	if i := model.ClassIndex(classes, label); i >= 0 && i < outputs {
		return i, true
	}
	if outputs >= 2 {
		return 1, false
	}
	return 0, false
}
