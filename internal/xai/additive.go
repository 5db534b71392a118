package xai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/model"
)

// additiveOutput is one additive explanation before aggregation.
type additiveOutput struct {
	values        []float64 // per transformed feature, positive class
	base          *float64
	mapping       FeatureMapping
	mappingSource MappingSource
	family        Family
	method        string
	outcomes      []Outcome
}

// explainAdditive explains the final estimator in the transformed space when
// the pipeline exposes its stages, otherwise the whole pipeline as a black
// box over the original fields.
func explainAdditive(
	ctx context.Context,
	p model.Pipeline,
	row api.InputRow,
	bg BackgroundSet,
	cfg Config,
	logger *slog.Logger,
) (*additiveOutput, error) {
	in, out, err := prepareAdditive(p, row, bg, cfg, logger)
	if err != nil {
		return nil, err
	}

	attr, outcomes, err := runChain(ctx, out.family.Strategies(cfg.Kernel), in)
	out.outcomes = outcomes
	if err != nil {
		return out, err
	}

	vec, err := attr.Values.ToVector(in.nFeatures, attr.Positive)
	if err != nil {
		return out, err
	}
	out.values = vec
	out.method = attr.Method
	if b, ok := BaseFor(attr.Base, attr.Positive); ok {
		out.base = &b
	}
	return out, nil
}

func prepareAdditive(p model.Pipeline, row api.InputRow, bg BackgroundSet, cfg Config, logger *slog.Logger) (*additiveInput, *additiveOutput, error) {
	if bg.Len() == 0 {
		return nil, nil, errors.New("empty background")
	}
	columns := row.Columns()

	if staged, ok := p.(model.Staged); ok && staged.Preprocessor() != nil && staged.FinalEstimator() != nil {
		pre, est := staged.Preprocessor(), staged.FinalEstimator()
		X, err := pre.Transform(append([]api.InputRow{row}, bg.Rows...))
		if err == nil && len(X) == bg.Len()+1 {
			x := X[0]
			mapping, src := BuildMapping(pre, columns, len(x))
			pos := positiveIndex(est.Classes(), cfg.PositiveLabel, logger)
			in := &additiveInput{
				estimator:  est,
				x:          x,
				background: X[1:],
				masked:     &numericMasked{est: est, positive: pos, x: x, background: X[1:]},
				positive:   pos,
				nFeatures:  len(x),
			}
			return in, &additiveOutput{mapping: mapping, mappingSource: src, family: FamilyOf(est)}, nil
		}
		logger.Warn("preprocessing failed, explaining pipeline as a black box", "error", err)
	}

	pos := positiveIndex(p.Classes(), cfg.PositiveLabel, logger)
	mapping, src := BuildMapping(nil, columns, len(columns))
	in := &additiveInput{
		masked:    newRowMasked(p, pos, row, bg.Rows),
		positive:  pos,
		nFeatures: len(columns),
	}
	return in, &additiveOutput{mapping: mapping, mappingSource: src, family: FamilyUnknown}, nil
}

func positiveIndex(classes []string, label string, logger *slog.Logger) int {
	idx, exact := PositiveIndex(classes, label, len(classes))
	if !exact {
		logger.Warn("positive class not declared by model, using positional fallback",
			"label", label, "classes", classes, "index", idx)
	}
	return idx
}
