package xai

// The path-dependent algorithm below follows the TreeSHAP recursion of
// Lundberg et al. as implemented in xgboost's cpu_treeshap.cc
// (Copyright by XGBoost Contributors 2017-2023, Apache 2.0 licensed),
// generalised to multi-output leaves and sklearn's "<=" split rule.

import (
	"context"
	"fmt"

	"github.com/fractal-lba/healthxai/internal/model"
)

// treePathDependent computes exact SHAP values from the tree structure and
// node cover statistics alone; it needs no background data.
type treePathDependent struct{}

func (treePathDependent) Name() string { return "tree-path-dependent" }

func (treePathDependent) Explain(ctx context.Context, in *additiveInput) (*Attribution, error) {
	ens, ok := in.estimator.(model.TreeEnsemble)
	if !ok {
		return nil, ErrUnsupportedEstimator
	}
	ts := ens.TreeSet()
	if len(ts.Trees) == 0 {
		return nil, fmt.Errorf("ensemble has no trees")
	}
	for i, t := range ts.Trees {
		if err := checkCover(t); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}

	m := len(in.x)
	phi := make([][]float64, ts.Outputs)
	for o := range phi {
		phi[o] = make([]float64, m)
	}
	base := make([]float64, ts.Outputs)
	copy(base, ts.Base)

	for _, t := range ts.Trees {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
		means := make([][]float64, len(t.Nodes))
		fillNodeMeanValues(t, 0, means)
		for o := range base {
			base[o] += ts.Scale * means[0][o]
		}

		depth := t.MaxDepth() + 2
		pathData := make([]pathElement, depth*(depth+1)/2)
		w := &shapWalker{tree: t, x: in.x, phi: phi, scale: ts.Scale}
		if err := w.walk(0, 0, pathData, 1, 1, -1); err != nil {
			return nil, err
		}
	}

	return treeAttribution(ts, phi, base, in.positive, "tree-path-dependent")
}

// treeAttribution lays out per-output contributions. A single logit output
// is the log-odds of the second class, so it is negated when the positive
// class is the first one.
func treeAttribution(ts model.TreeSet, phi [][]float64, base []float64, positive int, method string) (*Attribution, error) {
	m := len(phi[0])
	if ts.Outputs == 1 {
		vals := append([]float64(nil), phi[0]...)
		b := []float64{base[0]}
		if ts.Link == model.LinkLogit && positive == 0 {
			for i := range vals {
				vals[i] = -vals[i]
			}
			b[0] = -b[0]
		}
		v, err := Tensor(vals, 1, m)
		if err != nil {
			return nil, err
		}
		return &Attribution{Values: v, Base: b, Positive: 0, Method: method}, nil
	}

	flat := make([]float64, 0, ts.Outputs*m)
	for _, p := range phi {
		flat = append(flat, p...)
	}
	v, err := Tensor(flat, 1, ts.Outputs, m)
	if err != nil {
		return nil, err
	}
	return &Attribution{Values: v, Base: base, Positive: positive, Method: method}, nil
}

func checkCover(t *model.Tree) error {
	for i := range t.Nodes {
		if t.Nodes[i].Cover <= 0 {
			return fmt.Errorf("node %d has no cover statistics", i)
		}
	}
	return nil
}

// fillNodeMeanValues stores the cover-weighted mean leaf value under every node.
func fillNodeMeanValues(t *model.Tree, i int, means [][]float64) []float64 {
	n := &t.Nodes[i]
	if n.IsLeaf() {
		means[i] = n.Value
		return n.Value
	}
	left := fillNodeMeanValues(t, n.Left, means)
	right := fillNodeMeanValues(t, n.Right, means)
	lc, rc := t.Nodes[n.Left].Cover, t.Nodes[n.Right].Cover

	out := make([]float64, len(left))
	for o := range out {
		out[o] = (left[o]*lc + right[o]*rc) / n.Cover
	}
	means[i] = out
	return out
}

type pathElement struct {
	featureIndex int
	zeroFraction float64
	oneFraction  float64
	pweight      float64
}

type shapWalker struct {
	tree  *model.Tree
	x     []float64
	phi   [][]float64
	scale float64
}

func (w *shapWalker) walk(
	nodeIndex, uniqueDepth int,
	parentPath []pathElement,
	parentZeroFraction, parentOneFraction float64,
	parentFeatureIndex int,
) error {
	node := &w.tree.Nodes[nodeIndex]

	path := parentPath[uniqueDepth+1:]
	copy(path, parentPath[:uniqueDepth+1])
	extendPath(path, uniqueDepth, parentZeroFraction, parentOneFraction, parentFeatureIndex)

	if node.IsLeaf() {
		for i := 1; i <= uniqueDepth; i++ {
			s, err := unwoundPathSum(path, uniqueDepth, i)
			if err != nil {
				return err
			}
			el := path[i]
			for o, v := range node.Value {
				w.phi[o][el.featureIndex] += s * (el.oneFraction - el.zeroFraction) * v * w.scale
			}
		}
		return nil
	}

	split := node.Feature
	if split >= len(w.x) {
		return fmt.Errorf("split on feature %d, row has %d", split, len(w.x))
	}
	hot, cold := node.Right, node.Left
	if w.x[split] <= node.Threshold {
		hot, cold = node.Left, node.Right
	}

	hotZeroFraction := w.tree.Nodes[hot].Cover / node.Cover
	coldZeroFraction := w.tree.Nodes[cold].Cover / node.Cover
	incomingZeroFraction, incomingOneFraction := 1.0, 1.0

	// undo an earlier split on the same feature so it can be redone here
	pathIndex := 0
	for ; pathIndex <= uniqueDepth; pathIndex++ {
		if path[pathIndex].featureIndex == split {
			break
		}
	}
	if pathIndex != uniqueDepth+1 {
		incomingZeroFraction = path[pathIndex].zeroFraction
		incomingOneFraction = path[pathIndex].oneFraction
		unwindPath(path, uniqueDepth, pathIndex)
		uniqueDepth--
	}

	if err := w.walk(hot, uniqueDepth+1, path, hotZeroFraction*incomingZeroFraction, incomingOneFraction, split); err != nil {
		return err
	}
	return w.walk(cold, uniqueDepth+1, path, coldZeroFraction*incomingZeroFraction, 0, split)
}

func extendPath(path []pathElement, uniqueDepth int, zeroFraction, oneFraction float64, featureIndex int) {
	path[uniqueDepth] = pathElement{
		featureIndex: featureIndex,
		zeroFraction: zeroFraction,
		oneFraction:  oneFraction,
	}
	if uniqueDepth == 0 {
		path[uniqueDepth].pweight = 1
	}
	d := float64(uniqueDepth + 1)
	for i := uniqueDepth - 1; i >= 0; i-- {
		path[i+1].pweight += oneFraction * path[i].pweight * float64(i+1) / d
		path[i].pweight = zeroFraction * path[i].pweight * float64(uniqueDepth-i) / d
	}
}

func unwindPath(path []pathElement, uniqueDepth, pathIndex int) {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[uniqueDepth].pweight
	d := float64(uniqueDepth + 1)

	for i := uniqueDepth - 1; i >= 0; i-- {
		if oneFraction != 0 {
			tmp := path[i].pweight
			path[i].pweight = nextOnePortion * d / (float64(i+1) * oneFraction)
			nextOnePortion = tmp - path[i].pweight*zeroFraction*float64(uniqueDepth-i)/d
		} else {
			path[i].pweight = path[i].pweight * d / (zeroFraction * float64(uniqueDepth-i))
		}
	}
	for i := pathIndex; i < uniqueDepth; i++ {
		path[i].featureIndex = path[i+1].featureIndex
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

func unwoundPathSum(path []pathElement, uniqueDepth, pathIndex int) (float64, error) {
	oneFraction := path[pathIndex].oneFraction
	zeroFraction := path[pathIndex].zeroFraction
	nextOnePortion := path[uniqueDepth].pweight
	d := float64(uniqueDepth + 1)

	total := 0.0
	for i := uniqueDepth - 1; i >= 0; i-- {
		switch {
		case oneFraction != 0:
			tmp := nextOnePortion * d / (float64(i+1) * oneFraction)
			total += tmp
			nextOnePortion = path[i].pweight - tmp*zeroFraction*(float64(uniqueDepth-i)/d)
		case zeroFraction != 0:
			total += (path[i].pweight / zeroFraction) / (float64(uniqueDepth-i) / d)
		case path[i].pweight != 0:
			return 0, fmt.Errorf("unique path %d must have zero weight", i)
		}
	}
	return total, nil
}
