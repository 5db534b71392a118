package xai

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/fractal-lba/healthxai/internal/api"
)

// LabelEncoder maps category labels to consecutive integer codes in sorted label order.
type LabelEncoder struct {
	labels []string
	codes  map[string]int
}

// NewLabelEncoder fits an encoder on the distinct values of labels.
func NewLabelEncoder(labels []string) *LabelEncoder {
	seen := make(map[string]bool, len(labels))
	var uniq []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			uniq = append(uniq, l)
		}
	}
	sort.Strings(uniq)

	codes := make(map[string]int, len(uniq))
	for i, l := range uniq {
		codes[l] = i
	}
	return &LabelEncoder{labels: uniq, codes: codes}
}

// Len returns the number of known labels.
func (e *LabelEncoder) Len() int { return len(e.labels) }

// Encode returns the code for label.
func (e *LabelEncoder) Encode(label string) (int, error) {
	c, ok := e.codes[label]
	if !ok {
		return 0, fmt.Errorf("unseen label %q", label)
	}
	return c, nil
}

// Decode maps a possibly perturbed code back to a label by rounding and
// clamping into the valid code range.
func (e *LabelEncoder) Decode(code float64) string {
	if len(e.labels) == 0 {
		return ""
	}
	if math.IsNaN(code) {
		return e.labels[0]
	}
	i := int(math.Round(code))
	if i < 0 {
		i = 0
	}
	if i >= len(e.labels) {
		i = len(e.labels) - 1
	}
	return e.labels[i]
}

// quartileBins discretises one numeric column at its training quartiles.
type quartileBins struct {
	name       string
	boundaries []float64
	freqs      []float64
	means      []float64
	stds       []float64
	mins       []float64
	maxs       []float64
}

func newQuartileBins(name string, values []float64) *quartileBins {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var bounds []float64
	for _, q := range []float64{0.25, 0.5, 0.75} {
		b := percentile(sorted, q)
		if len(bounds) == 0 || b > bounds[len(bounds)-1] {
			bounds = append(bounds, b)
		}
	}

	nb := len(bounds) + 1
	qb := &quartileBins{
		name:       name,
		boundaries: bounds,
		freqs:      make([]float64, nb),
		means:      make([]float64, nb),
		stds:       make([]float64, nb),
		mins:       make([]float64, nb),
		maxs:       make([]float64, nb),
	}

	groups := make([][]float64, nb)
	for _, v := range values {
		b := qb.bin(v)
		groups[b] = append(groups[b], v)
	}
	for b, g := range groups {
		qb.freqs[b] = float64(len(g)) / float64(len(values))
		if len(g) == 0 {
			continue
		}
		mean, lo, hi := 0.0, g[0], g[0]
		for _, v := range g {
			mean += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		mean /= float64(len(g))
		variance := 0.0
		for _, v := range g {
			variance += (v - mean) * (v - mean)
		}
		qb.means[b] = mean
		qb.stds[b] = math.Sqrt(variance / float64(len(g)))
		qb.mins[b] = lo
		qb.maxs[b] = hi
	}
	return qb
}

// bin returns i such that boundaries[i-1] < v <= boundaries[i].
func (q *quartileBins) bin(v float64) int {
	return sort.Search(len(q.boundaries), func(i int) bool { return v <= q.boundaries[i] })
}

// describe renders the condition a value in bin b satisfies.
func (q *quartileBins) describe(b int) string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', 2, 64) }
	n := len(q.boundaries)
	switch {
	case n == 0:
		return q.name
	case b == 0:
		return fmt.Sprintf("%s <= %s", q.name, f(q.boundaries[0]))
	case b >= n:
		return fmt.Sprintf("%s > %s", q.name, f(q.boundaries[n-1]))
	default:
		return fmt.Sprintf("%s < %s <= %s", f(q.boundaries[b-1]), q.name, f(q.boundaries[b]))
	}
}

// percentile interpolates linearly between closest ranks of sorted data.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// categoryLabel describes a categorical condition the way explanations print it.
func categoryLabel(column string, v api.Value) string {
	return column + "=" + v.String()
}
