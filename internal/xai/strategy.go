package xai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fractal-lba/healthxai/internal/model"
)

var (
	// ErrNoStrategy is returned when every strategy in a chain failed.
	ErrNoStrategy = errors.New("no explanation strategy succeeded")
	// ErrUnsupportedEstimator is returned by a strategy that cannot handle the estimator.
	ErrUnsupportedEstimator = errors.New("estimator not supported by strategy")
	// ErrBudgetExceeded is returned when an explanation runs past its deadline.
	ErrBudgetExceeded = errors.New("explanation budget exceeded")
)

// Attribution is the raw output of one additive strategy.
type Attribution struct {
	Values Values
	// Base holds the expected model output, one per output (or a single shared value).
	Base []float64
	// Positive is the output index holding the positive class.
	Positive int
	Method   string
}

// additiveInput is what every strategy gets to work with.
type additiveInput struct {
	// estimator is nil when the pipeline is explained as a black box.
	estimator  model.Estimator
	x          []float64
	background [][]float64
	masked     MaskedModel
	positive   int
	nFeatures  int
}

// Strategy is one tier of the additive explanation chain.
type Strategy interface {
	Name() string
	Explain(ctx context.Context, in *additiveInput) (*Attribution, error)
}

// Outcome records how one strategy fared.
type Outcome struct {
	Strategy string
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the strategy produced the attribution.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// runChain tries strategies in order and returns the first valid attribution
// together with every attempt made.
func runChain(ctx context.Context, strategies []Strategy, in *additiveInput) (*Attribution, []Outcome, error) {
	outcomes := make([]Outcome, 0, len(strategies))
	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrBudgetExceeded, err))
			break
		}
		start := time.Now()
		attr, err := safeExplain(ctx, s, in)
		if err == nil {
			err = checkFinite(attr)
		}
		outcomes = append(outcomes, Outcome{Strategy: s.Name(), Err: err, Duration: time.Since(start)})
		if err == nil {
			return attr, outcomes, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, outcomes, fmt.Errorf("%w: %w", ErrNoStrategy, errors.Join(errs...))
}

func safeExplain(ctx context.Context, s Strategy, in *additiveInput) (attr *Attribution, err error) {
	defer func() {
		if r := recover(); r != nil {
			attr, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Explain(ctx, in)
}

func checkFinite(a *Attribution) error {
	if a == nil {
		return errors.New("strategy returned no attribution")
	}
	for _, v := range a.Values.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite attribution value")
		}
	}
	for _, v := range a.Base {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite base value")
		}
	}
	return nil
}
