package xai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fractal-lba/healthxai/internal/model"
)

// treeInterventional computes exact SHAP values of a tree ensemble against
// each background row and averages them. Features outside a coalition take
// the background row's value, so no cover statistics are needed.
type treeInterventional struct{}

func (treeInterventional) Name() string { return "tree-interventional" }

func (treeInterventional) Explain(ctx context.Context, in *additiveInput) (*Attribution, error) {
	ens, ok := in.estimator.(model.TreeEnsemble)
	if !ok {
		return nil, ErrUnsupportedEstimator
	}
	if len(in.background) == 0 {
		return nil, errors.New("interventional explanation needs background rows")
	}
	ts := ens.TreeSet()
	if len(ts.Trees) == 0 {
		return nil, fmt.Errorf("ensemble has no trees")
	}

	m := len(in.x)
	phi := make([][]float64, ts.Outputs)
	for o := range phi {
		phi[o] = make([]float64, m)
	}
	base := make([]float64, ts.Outputs)
	copy(base, ts.Base)

	inv := 1.0 / float64(len(in.background))
	w := &ivWalker{
		x:     in.x,
		phi:   phi,
		side:  make([]int8, m),
		scale: ts.Scale * inv,
	}
	for _, r := range in.background {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
		if len(r) != m {
			return nil, fmt.Errorf("background row has %d features, query has %d", len(r), m)
		}
		w.r = r
		for _, t := range ts.Trees {
			w.tree = t
			if err := w.walk(0); err != nil {
				return nil, err
			}
			leaf, err := t.Leaf(r)
			if err != nil {
				return nil, err
			}
			for o, v := range t.Nodes[leaf].Value {
				base[o] += ts.Scale * v * inv
			}
		}
	}

	return treeAttribution(ts, phi, base, in.positive, "tree-interventional")
}

const (
	sideNone int8 = iota
	sideX
	sideR
)

type ivWalker struct {
	tree  *model.Tree
	x, r  []float64
	phi   [][]float64
	side  []int8
	xs    []int
	rs    []int
	scale float64
}

func (w *ivWalker) walk(i int) error {
	n := &w.tree.Nodes[i]
	if n.IsLeaf() {
		w.credit(n.Value)
		return nil
	}

	f := n.Feature
	if f >= len(w.x) {
		return fmt.Errorf("split on feature %d, row has %d", f, len(w.x))
	}
	xLeft := w.x[f] <= n.Threshold
	rLeft := w.r[f] <= n.Threshold
	child := func(left bool) int {
		if left {
			return n.Left
		}
		return n.Right
	}

	if xLeft == rLeft {
		return w.walk(child(xLeft))
	}
	switch w.side[f] {
	case sideX:
		return w.walk(child(xLeft))
	case sideR:
		return w.walk(child(rLeft))
	}

	w.side[f] = sideX
	w.xs = append(w.xs, f)
	if err := w.walk(child(xLeft)); err != nil {
		return err
	}
	w.xs = w.xs[:len(w.xs)-1]

	w.side[f] = sideR
	w.rs = append(w.rs, f)
	err := w.walk(child(rLeft))
	w.rs = w.rs[:len(w.rs)-1]
	w.side[f] = sideNone
	return err
}

// credit distributes a leaf's value: a feature that must follow x gains
// (a-1)! b! / (a+b)!, one that must follow r loses a! (b-1)! / (a+b)!.
func (w *ivWalker) credit(leaf []float64) {
	a, b := len(w.xs), len(w.rs)
	if a > 0 {
		wx := shapleyWeight(a-1, b, a+b) * w.scale
		for _, f := range w.xs {
			for o, v := range leaf {
				w.phi[o][f] += wx * v
			}
		}
	}
	if b > 0 {
		wr := shapleyWeight(a, b-1, a+b) * w.scale
		for _, f := range w.rs {
			for o, v := range leaf {
				w.phi[o][f] -= wr * v
			}
		}
	}
}

// shapleyWeight returns p! q! / n!.
func shapleyWeight(p, q, n int) float64 {
	lp, _ := math.Lgamma(float64(p + 1))
	lq, _ := math.Lgamma(float64(q + 1))
	ln, _ := math.Lgamma(float64(n + 1))
	return math.Exp(lp + lq - ln)
}
