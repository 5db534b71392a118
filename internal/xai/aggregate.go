package xai

import (
	"fmt"
	"math"
	"sort"

	"github.com/fractal-lba/healthxai/internal/api"
)

// FeatureMapping maps a transformed-feature index to the original field it came from.
type FeatureMapping map[int]string

// Label returns the field for index i, or the generic name f<i>.
func (m FeatureMapping) Label(i int) string {
	if name, ok := m[i]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("f%d", i)
}

// Aggregate folds per-transformed-feature values onto original fields, in
// order of first appearance. A field owning one index keeps the signed value;
// a field owning several gets the sum of absolute values, marked Magnitude.
func Aggregate(values []float64, m FeatureMapping) []api.ContributionEntry {
	type group struct {
		sum    float64
		absSum float64
		count  int
	}

	var order []string
	groups := make(map[string]*group)
	for i, v := range values {
		name := m.Label(i)
		g, ok := groups[name]
		if !ok {
			g = &group{}
			groups[name] = g
			order = append(order, name)
		}
		g.sum += v
		g.absSum += math.Abs(v)
		g.count++
	}

	out := make([]api.ContributionEntry, len(order))
	for i, name := range order {
		g := groups[name]
		out[i] = api.ContributionEntry{Feature: name, Value: g.sum}
		if g.count > 1 {
			out[i].Value = g.absSum
			out[i].Magnitude = true
		}
	}
	return out
}

// Rank sorts entries by absolute value, largest first. Ties keep input order.
func Rank(entries []api.ContributionEntry) []api.ContributionEntry {
	out := append([]api.ContributionEntry(nil), entries...)
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].Value) > math.Abs(out[b].Value)
	})
	return out
}
