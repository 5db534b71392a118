package model

import (
	"fmt"
	"math"
	"sort"
)

// LogisticRegression is a fitted binary logistic model.
type LogisticRegression struct {
	Coef      []float64
	Intercept float64
	Labels    []string
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// Decision returns the log-odds of the second class.
func (lr *LogisticRegression) Decision(x []float64) (float64, error) {
	if len(x) != len(lr.Coef) {
		return 0, fmt.Errorf("logistic regression: %w: got %d, want %d", ErrDimension, len(x), len(lr.Coef))
	}
	z := lr.Intercept
	for i, w := range lr.Coef {
		z += w * x[i]
	}
	return z, nil
}

func (lr *LogisticRegression) PredictProba(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, x := range X {
		z, err := lr.Decision(x)
		if err != nil {
			return nil, err
		}
		p := sigmoid(z)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

func (lr *LogisticRegression) Classes() []string { return lr.Labels }

// KNN is a k-nearest-neighbours classifier with uniform weights.
type KNN struct {
	K      int
	Points [][]float64
	Target []string
	Labels []string
}

func (k *KNN) PredictProba(X [][]float64) ([][]float64, error) {
	if len(k.Points) == 0 {
		return nil, fmt.Errorf("knn: no fitted points")
	}
	kk := k.K
	if kk <= 0 || kk > len(k.Points) {
		kk = len(k.Points)
	}

	classIdx := make(map[string]int, len(k.Labels))
	for i, c := range k.Labels {
		classIdx[c] = i
	}

	type neighbour struct {
		dist float64
		idx  int
	}
	out := make([][]float64, len(X))
	nb := make([]neighbour, len(k.Points))
	for r, x := range X {
		for i, p := range k.Points {
			if len(p) != len(x) {
				return nil, fmt.Errorf("knn: %w: got %d, want %d", ErrDimension, len(x), len(p))
			}
			d := 0.0
			for j := range p {
				diff := p[j] - x[j]
				d += diff * diff
			}
			nb[i] = neighbour{dist: d, idx: i}
		}
		sort.SliceStable(nb, func(a, b int) bool { return nb[a].dist < nb[b].dist })

		proba := make([]float64, len(k.Labels))
		for _, n := range nb[:kk] {
			if c, ok := classIdx[k.Target[n.idx]]; ok {
				proba[c] += 1.0 / float64(kk)
			}
		}
		out[r] = proba
	}
	return out, nil
}

func (k *KNN) Classes() []string { return k.Labels }
