package xai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/model"
)

// KernelOptions tunes the model-agnostic strategy.
type KernelOptions struct {
	// MaxSamples caps the number of sampled coalitions (0 = 2M+2048).
	MaxSamples int
	// ExactLimit enumerates every coalition when there are at most this many features.
	ExactLimit int
	Seed       uint64
}

func (k KernelOptions) withDefaults() KernelOptions {
	if k.ExactLimit <= 0 {
		k.ExactLimit = 10
	}
	if k.Seed == 0 {
		k.Seed = DefaultSeed
	}
	return k
}

// MaskedModel evaluates the positive-class probability on hybrid rows: masked-in
// features take the query's value, the rest come from each background row.
type MaskedModel interface {
	NumFeatures() int
	// Eval returns, per mask, the mean output over the background.
	Eval(ctx context.Context, masks [][]bool) ([]float64, error)
}

// kernelStrategy is Kernel SHAP: a Shapley-kernel-weighted linear regression
// over feature coalitions, constrained so contributions sum to f(x) - E[f].
type kernelStrategy struct {
	opts KernelOptions
}

func newKernel(k KernelOptions) kernelStrategy {
	return kernelStrategy{opts: k.withDefaults()}
}

func (kernelStrategy) Name() string { return "kernel" }

func (k kernelStrategy) Explain(ctx context.Context, in *additiveInput) (*Attribution, error) {
	if in.masked == nil {
		return nil, errors.New("kernel explanation needs a masked model")
	}
	m := in.masked.NumFeatures()
	if m == 0 {
		return nil, errors.New("no features to explain")
	}

	all, none := make([]bool, m), make([]bool, m)
	for i := range all {
		all[i] = true
	}
	ends, err := in.masked.Eval(ctx, [][]bool{all, none})
	if err != nil {
		return nil, err
	}
	fx, ef := ends[0], ends[1]

	var phi []float64
	if m == 1 {
		phi = []float64{fx - ef}
	} else {
		masks, weights := k.coalitions(m)
		y, err := in.masked.Eval(ctx, masks)
		if err != nil {
			return nil, err
		}
		phi, err = solveConstrained(masks, weights, y, fx, ef)
		if err != nil {
			return nil, err
		}
	}

	v, err := Tensor(phi, 1, m)
	if err != nil {
		return nil, err
	}
	return &Attribution{Values: v, Base: []float64{ef}, Method: "kernel"}, nil
}

// coalitions enumerates every proper non-empty coalition for small m,
// otherwise samples paired coalitions with sizes drawn from the Shapley kernel.
func (k kernelStrategy) coalitions(m int) ([][]bool, []float64) {
	if m <= k.opts.ExactLimit {
		var masks [][]bool
		var weights []float64
		for bits := 1; bits < (1<<m)-1; bits++ {
			mask := make([]bool, m)
			s := 0
			for i := 0; i < m; i++ {
				if bits&(1<<i) != 0 {
					mask[i] = true
					s++
				}
			}
			masks = append(masks, mask)
			weights = append(weights, shapleyKernel(m, s))
		}
		return masks, weights
	}

	n := k.opts.MaxSamples
	if n <= 0 {
		n = 2*m + 2048
	}
	pairs := (n + 1) / 2

	// size s in [1, m-1] carries kernel mass proportional to (m-1)/(s(m-s))
	cdf := make([]float64, m-1)
	total := 0.0
	for s := 1; s < m; s++ {
		total += float64(m-1) / float64(s*(m-s))
		cdf[s-1] = total
	}

	rng := rand.New(rand.NewPCG(k.opts.Seed, k.opts.Seed^0x9e3779b97f4a7c15))
	perm := make([]int, m)
	masks := make([][]bool, 0, 2*pairs)
	for p := 0; p < pairs; p++ {
		u := rng.Float64() * total
		s := 1
		for s < m-1 && cdf[s-1] < u {
			s++
		}
		for i := range perm {
			perm[i] = i
		}
		for i := 0; i < s; i++ {
			j := i + rng.IntN(m-i)
			perm[i], perm[j] = perm[j], perm[i]
		}
		mask := make([]bool, m)
		comp := make([]bool, m)
		for i := range comp {
			comp[i] = true
		}
		for _, f := range perm[:s] {
			mask[f] = true
			comp[f] = false
		}
		masks = append(masks, mask, comp)
	}
	weights := make([]float64, len(masks))
	for i := range weights {
		weights[i] = 1
	}
	return masks, weights
}

// shapleyKernel is (m-1) / (C(m,s) s (m-s)).
func shapleyKernel(m, s int) float64 {
	lc, _ := math.Lgamma(float64(m + 1))
	ls, _ := math.Lgamma(float64(s + 1))
	lr, _ := math.Lgamma(float64(m - s + 1))
	binom := math.Exp(lc - ls - lr)
	return float64(m-1) / (binom * float64(s) * float64(m-s))
}

// solveConstrained fits phi by weighted least squares subject to
// sum(phi) = fx - ef, eliminating the last feature.
func solveConstrained(masks [][]bool, weights, y []float64, fx, ef float64) ([]float64, error) {
	m := len(masks[0])
	p := m - 1
	d := fx - ef

	X := mat.NewDense(len(masks), p, nil)
	yw := mat.NewVecDense(len(masks), nil)
	for r, mask := range masks {
		sw := math.Sqrt(weights[r])
		last := 0.0
		if mask[m-1] {
			last = 1
		}
		for i := 0; i < p; i++ {
			z := 0.0
			if mask[i] {
				z = 1
			}
			X.Set(r, i, sw*(z-last))
		}
		yw.SetVec(r, sw*(y[r]-ef-last*d))
	}

	A := mat.NewSymDense(p, nil)
	A.SymOuterK(1, X.T())
	ridge := 1e-10
	for i := 0; i < p; i++ {
		A.SetSym(i, i, A.At(i, i)+ridge)
	}
	var b mat.VecDense
	b.MulVec(X.T(), yw)

	var sol mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(A) {
		if err := chol.SolveVecTo(&sol, &b); err != nil {
			return nil, fmt.Errorf("kernel regression: %w", err)
		}
	} else if err := sol.SolveVec(A, &b); err != nil {
		return nil, fmt.Errorf("kernel regression: %w", err)
	}

	phi := make([]float64, m)
	sum := 0.0
	for i := 0; i < p; i++ {
		phi[i] = sol.AtVec(i)
		sum += phi[i]
	}
	phi[m-1] = d - sum
	return phi, nil
}

// evalBatch is the number of hybrid rows scored per model call.
const evalBatch = 4096

// numericMasked masks in the transformed feature space of a final estimator.
type numericMasked struct {
	est        model.Estimator
	positive   int
	x          []float64
	background [][]float64
}

func (n *numericMasked) NumFeatures() int { return len(n.x) }

func (n *numericMasked) Eval(ctx context.Context, masks [][]bool) ([]float64, error) {
	return evalMasks(ctx, masks, len(n.background), func(mask []bool, b int) []float64 {
		row := make([]float64, len(n.x))
		for i := range row {
			if mask[i] {
				row[i] = n.x[i]
			} else {
				row[i] = n.background[b][i]
			}
		}
		return row
	}, func(X [][]float64) ([]float64, error) {
		proba, err := n.est.PredictProba(X)
		if err != nil {
			return nil, err
		}
		return model.PositiveProba(proba, n.positive), nil
	})
}

// rowMasked masks original fields and scores whole pipelines.
type rowMasked struct {
	pipeline   model.Pipeline
	positive   int
	columns    []string
	x          []api.Value
	background [][]api.Value
}

func newRowMasked(p model.Pipeline, positive int, query api.InputRow, bg []api.InputRow) *rowMasked {
	rm := &rowMasked{
		pipeline: p,
		positive: positive,
		columns:  query.Columns(),
		x:        query.Values(),
	}
	for _, r := range bg {
		rm.background = append(rm.background, r.Values())
	}
	return rm
}

func (r *rowMasked) NumFeatures() int { return len(r.x) }

func (r *rowMasked) Eval(ctx context.Context, masks [][]bool) ([]float64, error) {
	return evalMasks(ctx, masks, len(r.background), func(mask []bool, b int) api.InputRow {
		vals := make([]api.Value, len(r.x))
		for i := range vals {
			if mask[i] {
				vals[i] = r.x[i]
			} else {
				vals[i] = r.background[b][i]
			}
		}
		return api.MustInputRow(r.columns, vals)
	}, func(rows []api.InputRow) ([]float64, error) {
		proba, err := r.pipeline.PredictProba(rows)
		if err != nil {
			return nil, err
		}
		return model.PositiveProba(proba, r.positive), nil
	})
}

// evalMasks builds one hybrid row per (mask, background row), scores them in
// batches and averages per mask.
func evalMasks[R any](
	ctx context.Context,
	masks [][]bool,
	nbg int,
	build func(mask []bool, b int) R,
	score func([]R) ([]float64, error),
) ([]float64, error) {
	if nbg == 0 {
		return nil, errors.New("empty background")
	}
	out := make([]float64, len(masks))
	batch := make([]R, 0, evalBatch)
	owners := make([]int, 0, evalBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
		ys, err := score(batch)
		if err != nil {
			return err
		}
		if len(ys) != len(batch) {
			return fmt.Errorf("model scored %d of %d rows", len(ys), len(batch))
		}
		for i, y := range ys {
			out[owners[i]] += y / float64(nbg)
		}
		batch, owners = batch[:0], owners[:0]
		return nil
	}

	for k, mask := range masks {
		for b := 0; b < nbg; b++ {
			batch = append(batch, build(mask, b))
			owners = append(owners, k)
			if len(batch) == evalBatch {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
