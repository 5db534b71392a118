package xai

import (
	"math/rand/v2"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/dataset"
)

const (
	// DefaultBackgroundSize caps the number of reference rows.
	DefaultBackgroundSize = 100
	// DefaultSeed makes sampling reproducible across requests.
	DefaultSeed uint64 = 42
	// fallbackReplicas is the size of the synthetic background built from the query.
	fallbackReplicas = 10
)

// BackgroundSet is the reference distribution for an additive explanation.
// Rows share the query's column order.
type BackgroundSet struct {
	Rows []api.InputRow
	// Synthetic is set when the rows are copies of the query row.
	Synthetic bool
	// Reason says why the dataset could not be used, when Synthetic.
	Reason string
}

// Len returns the number of rows.
func (b BackgroundSet) Len() int { return len(b.Rows) }

// SampleBackground draws at most n rows of frame restricted to the query's
// columns. A nil frame, a frame lacking any query column, or a frame without
// rows yields the query replicated ten times.
func SampleBackground(frame *dataset.Frame, query api.InputRow, n int, seed uint64) BackgroundSet {
	if n <= 0 {
		n = DefaultBackgroundSize
	}
	columns := query.Columns()

	switch {
	case frame == nil:
		return replicate(query, "dataset unavailable")
	case len(frame.Missing(columns)) > 0:
		return replicate(query, "dataset lacks columns")
	case frame.Len() == 0:
		return replicate(query, "dataset has no usable rows")
	}

	idx := sampleIndices(frame.Len(), n, seed)
	rows := make([]api.InputRow, 0, len(idx))
	for _, i := range idx {
		row, err := frame.Row(i, columns)
		if err != nil {
			return replicate(query, err.Error())
		}
		rows = append(rows, row)
	}
	return BackgroundSet{Rows: rows}
}

// sampleIndices returns min(n, total) distinct indices in [0,total). When no
// sampling is needed the indices are in order.
func sampleIndices(total, n int, seed uint64) []int {
	if total <= n {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	// partial Fisher-Yates over a lazily materialised permutation
	swapped := make(map[int]int, n)
	at := func(i int) int {
		if v, ok := swapped[i]; ok {
			return v
		}
		return i
	}
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(total-i)
		vi, vj := at(i), at(j)
		swapped[i], swapped[j] = vj, vi
		idx[i] = vj
	}
	return idx
}

func replicate(query api.InputRow, reason string) BackgroundSet {
	rows := make([]api.InputRow, fallbackReplicas)
	for i := range rows {
		rows[i] = query
	}
	return BackgroundSet{Rows: rows, Synthetic: true, Reason: reason}
}
