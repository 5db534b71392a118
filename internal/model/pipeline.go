package model

import (
	"fmt"

	"github.com/fractal-lba/healthxai/internal/api"
)

// FittedPipeline chains a preprocessing transform and a final estimator.
type FittedPipeline struct {
	name string
	pre  Transformer
	est  Estimator
}

// NewPipeline builds a pipeline. pre may be nil when the estimator consumes
// numeric schema columns directly.
func NewPipeline(name string, pre Transformer, est Estimator) *FittedPipeline {
	return &FittedPipeline{name: name, pre: pre, est: est}
}

// Name returns the registry name of the pipeline.
func (p *FittedPipeline) Name() string { return p.name }

func (p *FittedPipeline) Preprocessor() Transformer { return p.pre }

func (p *FittedPipeline) FinalEstimator() Estimator { return p.est }

func (p *FittedPipeline) Classes() []string { return p.est.Classes() }

func (p *FittedPipeline) PredictProba(rows []api.InputRow) ([][]float64, error) {
	X, err := p.transform(rows)
	if err != nil {
		return nil, err
	}
	return p.est.PredictProba(X)
}

func (p *FittedPipeline) Predict(rows []api.InputRow) ([]string, error) {
	proba, err := p.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	classes := p.est.Classes()
	out := make([]string, len(proba))
	for i, pr := range proba {
		best := 0
		for j := range pr {
			if pr[j] > pr[best] {
				best = j
			}
		}
		if best >= len(classes) {
			return nil, fmt.Errorf("estimator returned %d probabilities for %d classes", len(pr), len(classes))
		}
		out[i] = classes[best]
	}
	return out, nil
}

func (p *FittedPipeline) transform(rows []api.InputRow) ([][]float64, error) {
	if p.pre != nil {
		return p.pre.Transform(rows)
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, 0, row.Len())
		for _, v := range row.Values() {
			f, ok := v.Float()
			if !ok {
				return nil, fmt.Errorf("pipeline %s has no preprocessor and %q is not numeric", p.name, v.Str)
			}
			vec = append(vec, f)
		}
		out[i] = vec
	}
	return out, nil
}
