package xai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/dataset"
	"github.com/fractal-lba/healthxai/internal/model"
)

const (
	DefaultLimeSamples = 5000
	DefaultLimeTopK    = 10
	DefaultLimeBudget  = 10 * time.Second

	// limeTrainingRows caps how many reference rows feed the sampling statistics.
	limeTrainingRows = 10000
	limeBatch        = 500
	selectionAlpha   = 0.01
	surrogateAlpha   = 1.0
)

// LimeOptions tunes the perturbation explainer.
type LimeOptions struct {
	NumSamples int
	TopK       int
	// KernelWidth of the exponential kernel (0 = 0.75 * sqrt(features)).
	KernelWidth float64
	Seed        uint64
	Budget      time.Duration
}

func (o LimeOptions) withDefaults() LimeOptions {
	if o.NumSamples <= 0 {
		o.NumSamples = DefaultLimeSamples
	}
	if o.TopK <= 0 {
		o.TopK = DefaultLimeTopK
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Budget <= 0 {
		o.Budget = DefaultLimeBudget
	}
	return o
}

// limeFeature is how one original column is perturbed and described.
type limeFeature struct {
	column string
	query  api.Value

	// categorical columns
	encoder   *LabelEncoder
	codeFreqs []float64
	queryCode int

	// numeric columns
	bins     *quartileBins
	queryBin int
}

func (f *limeFeature) categorical() bool { return f.encoder != nil }

func (f *limeFeature) label() string {
	if f.categorical() {
		return categoryLabel(f.column, f.query)
	}
	return f.bins.describe(f.queryBin)
}

// decode turns a perturbed cell back into a typed value.
func (f *limeFeature) decode(v float64) api.Value {
	if f.categorical() {
		return api.Cat(f.encoder.Decode(v))
	}
	return api.Num(v)
}

// limeExplainer fits a sparse local linear surrogate around one row.
type limeExplainer struct {
	opts     LimeOptions
	positive string
}

func (l *limeExplainer) explain(ctx context.Context, p model.Pipeline, row api.InputRow, frame *dataset.Frame) (api.LimeExplanationResult, error) {
	opts := l.opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Budget)
	defer cancel()

	features, err := buildLimeFeatures(row, frame, opts.Seed)
	if err != nil {
		return api.LimeExplanationResult{}, err
	}

	pos, _ := PositiveIndex(p.Classes(), l.positive, len(p.Classes()))
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	data, binary := sampleNeighbourhood(features, opts.NumSamples, rng)

	y, err := predictDecoded(ctx, p, pos, row.Columns(), features, data)
	if err != nil {
		return api.LimeExplanationResult{}, err
	}

	d := len(features)
	width := opts.KernelWidth
	if width <= 0 {
		width = 0.75 * math.Sqrt(float64(d))
	}
	weights := make([]float64, len(binary))
	for r, z := range binary {
		dist := 0.0
		for _, v := range z {
			dist += (v - 1) * (v - 1)
		}
		weights[r] = math.Sqrt(math.Exp(-dist / (width * width)))
	}

	all := make([]int, d)
	for j := range all {
		all[j] = j
	}
	selection, err := fitWeightedRidge(binary, all, y, weights, selectionAlpha)
	if err != nil {
		return api.LimeExplanationResult{}, fmt.Errorf("feature selection: %w", err)
	}
	chosen := topByMagnitude(selection.coef, opts.TopK)

	fit, err := fitWeightedRidge(binary, chosen, y, weights, surrogateAlpha)
	if err != nil {
		return api.LimeExplanationResult{}, fmt.Errorf("surrogate: %w", err)
	}

	entries := make([]api.LimeEntry, len(chosen))
	for i, j := range chosen {
		entries[i] = api.LimeEntry{Feature: features[j].label(), Weight: fit.coef[i]}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return math.Abs(entries[a].Weight) > math.Abs(entries[b].Weight)
	})

	return api.LimeExplanationResult{
		Explanation: entries,
		Intercept:   fit.intercept,
		Score:       fit.score,
	}, nil
}

// buildLimeFeatures fits encoders and bins on the reference frame. Without a
// usable frame the query row is the only training record.
func buildLimeFeatures(row api.InputRow, frame *dataset.Frame, seed uint64) ([]*limeFeature, error) {
	cols := row.Columns()
	if len(cols) == 0 {
		return nil, errors.New("row has no fields")
	}

	var training []int
	if frame != nil && frame.Len() > 0 && len(frame.Missing(cols)) == 0 {
		training = sampleIndices(frame.Len(), limeTrainingRows, seed)
	}

	features := make([]*limeFeature, len(cols))
	for j, c := range cols {
		q, _ := row.Get(c)
		f := &limeFeature{column: c, query: q}

		var column []api.Value
		if len(training) > 0 {
			vals, err := frame.Column(c)
			if err != nil {
				return nil, err
			}
			column = make([]api.Value, len(training))
			for k, i := range training {
				column[k] = vals[i]
			}
		} else {
			column = []api.Value{q}
		}

		if q.Kind == api.KindCategorical {
			labels := make([]string, 0, len(column)+1)
			for _, v := range column {
				labels = append(labels, v.String())
			}
			labels = append(labels, q.String())
			f.encoder = NewLabelEncoder(labels)
			f.codeFreqs = make([]float64, f.encoder.Len())
			for _, v := range column {
				code, _ := f.encoder.Encode(v.String())
				f.codeFreqs[code] += 1 / float64(len(column))
			}
			f.queryCode, _ = f.encoder.Encode(q.String())
		} else {
			nums := make([]float64, 0, len(column))
			for _, v := range column {
				if x, ok := v.Float(); ok {
					nums = append(nums, x)
				}
			}
			if len(nums) == 0 {
				nums = []float64{q.Num}
			}
			f.bins = newQuartileBins(c, nums)
			f.queryBin = f.bins.bin(q.Num)
		}
		features[j] = f
	}
	return features, nil
}

// sampleNeighbourhood draws n perturbed rows (the first is the query) and their
// binary "same bin/category as the query" representation.
func sampleNeighbourhood(features []*limeFeature, n int, rng *rand.Rand) (data, binary [][]float64) {
	d := len(features)
	data = make([][]float64, n)
	binary = make([][]float64, n)

	for r := 0; r < n; r++ {
		data[r] = make([]float64, d)
		binary[r] = make([]float64, d)
		for j, f := range features {
			if r == 0 {
				if f.categorical() {
					data[r][j] = float64(f.queryCode)
				} else {
					data[r][j] = f.query.Num
				}
				binary[r][j] = 1
				continue
			}

			if f.categorical() {
				code := drawIndex(f.codeFreqs, rng)
				data[r][j] = float64(code)
				if code == f.queryCode {
					binary[r][j] = 1
				}
				continue
			}

			b := drawIndex(f.bins.freqs, rng)
			v := f.bins.means[b]
			if sd := f.bins.stds[b]; sd > 0 {
				v = rng.NormFloat64()*sd + f.bins.means[b]
				v = math.Max(f.bins.mins[b], math.Min(f.bins.maxs[b], v))
			}
			data[r][j] = v
			if b == f.queryBin {
				binary[r][j] = 1
			}
		}
	}
	return data, binary
}

func drawIndex(probs []float64, rng *rand.Rand) int {
	u := rng.Float64()
	acc := 0.0
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		acc += p
		if u < acc {
			return i
		}
	}
	return last
}

// predictDecoded scores perturbed rows after decoding categorical codes back
// into labels, checking the deadline between batches.
func predictDecoded(ctx context.Context, p model.Pipeline, pos int, cols []string, features []*limeFeature, data [][]float64) ([]float64, error) {
	y := make([]float64, 0, len(data))
	for start := 0; start < len(data); start += limeBatch {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w after %d of %d samples: %v", ErrBudgetExceeded, start, len(data), err)
		}
		end := min(start+limeBatch, len(data))
		rows := make([]api.InputRow, 0, end-start)
		for _, cells := range data[start:end] {
			vals := make([]api.Value, len(cells))
			for j, v := range cells {
				vals[j] = features[j].decode(v)
			}
			row, err := api.NewInputRow(cols, vals)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		proba, err := p.PredictProba(rows)
		if err != nil {
			return nil, fmt.Errorf("model prediction: %w", err)
		}
		y = append(y, model.PositiveProba(proba, pos)...)
	}
	return y, nil
}

// topByMagnitude returns the indices of the k largest |coef|, largest first.
func topByMagnitude(coef []float64, k int) []int {
	idx := make([]int, len(coef))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(coef[idx[a]]) > math.Abs(coef[idx[b]])
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
