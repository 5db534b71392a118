package model

import (
	"errors"
	"fmt"
)

// TreeNode is one node of a binary decision tree. Leaves have Left == Right == -1.
// A row goes left when x[Feature] <= Threshold.
type TreeNode struct {
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Value     []float64 `json:"value"`
	// Cover is the number (or weight) of training samples reaching the node.
	Cover float64 `json:"cover"`
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool { return n.Left < 0 && n.Right < 0 }

// Tree is a fitted tree rooted at node 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Validate checks child indices, feature indices and leaf widths.
func (t *Tree) Validate(nfeatures, outputs int) error {
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			if len(n.Value) != outputs {
				return fmt.Errorf("leaf %d has %d values, want %d", i, len(n.Value), outputs)
			}
			continue
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, n.Left, n.Right)
		}
		if n.Feature < 0 || (nfeatures > 0 && n.Feature >= nfeatures) {
			return fmt.Errorf("node %d splits on feature %d outside [0,%d)", i, n.Feature, nfeatures)
		}
	}
	return nil
}

// Leaf returns the leaf index reached by x.
func (t *Tree) Leaf(x []float64) (int, error) {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return i, nil
		}
		if n.Feature >= len(x) {
			return 0, fmt.Errorf("tree: %w: split on %d, row has %d", ErrDimension, n.Feature, len(x))
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// MaxDepth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) MaxDepth() int {
	return t.depth(0)
}

func (t *Tree) depth(i int) int {
	n := &t.Nodes[i]
	if n.IsLeaf() {
		return 0
	}
	return 1 + max(t.depth(n.Left), t.depth(n.Right))
}

// Link names the function applied to a tree ensemble's raw output.
type Link string

const (
	// LinkIdentity means the raw output is already a probability.
	LinkIdentity Link = "identity"
	// LinkLogit means the raw output is the log-odds of the second class.
	LinkLogit Link = "logit"
)

// TreeSet is the additive structure of a tree ensemble:
// raw(x)[o] = Base[o] + Scale * sum_t tree_t(x)[o].
type TreeSet struct {
	Trees   []*Tree
	Scale   float64
	Base    []float64
	Outputs int
	Link    Link
}

// TreeEnsemble is implemented by estimators whose output is a TreeSet.
type TreeEnsemble interface {
	Estimator
	TreeSet() TreeSet
}

// Raw evaluates the ensemble's untransformed output for x.
func (ts TreeSet) Raw(x []float64) ([]float64, error) {
	out := make([]float64, ts.Outputs)
	copy(out, ts.Base)
	for _, t := range ts.Trees {
		leaf, err := t.Leaf(x)
		if err != nil {
			return nil, err
		}
		for o, v := range t.Nodes[leaf].Value {
			out[o] += ts.Scale * v
		}
	}
	return out, nil
}

// DecisionTree is a single classification tree whose leaves hold class probabilities.
type DecisionTree struct {
	Tree   *Tree
	Labels []string
}

func (d *DecisionTree) PredictProba(X [][]float64) ([][]float64, error) {
	return probaFromSet(d.TreeSet(), X)
}

func (d *DecisionTree) Classes() []string { return d.Labels }

func (d *DecisionTree) TreeSet() TreeSet {
	return TreeSet{
		Trees:   []*Tree{d.Tree},
		Scale:   1,
		Base:    make([]float64, len(d.Labels)),
		Outputs: len(d.Labels),
		Link:    LinkIdentity,
	}
}

// RandomForest averages the class probabilities of its trees.
type RandomForest struct {
	Trees  []*Tree
	Labels []string
}

func (rf *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	return probaFromSet(rf.TreeSet(), X)
}

func (rf *RandomForest) Classes() []string { return rf.Labels }

func (rf *RandomForest) TreeSet() TreeSet {
	scale := 0.0
	if len(rf.Trees) > 0 {
		scale = 1.0 / float64(len(rf.Trees))
	}
	return TreeSet{
		Trees:   rf.Trees,
		Scale:   scale,
		Base:    make([]float64, len(rf.Labels)),
		Outputs: len(rf.Labels),
		Link:    LinkIdentity,
	}
}

// GradientBoosting is a binary boosted ensemble of regression trees on the log-odds scale.
type GradientBoosting struct {
	Init         float64
	LearningRate float64
	Trees        []*Tree
	Labels       []string
}

func (gb *GradientBoosting) PredictProba(X [][]float64) ([][]float64, error) {
	return probaFromSet(gb.TreeSet(), X)
}

func (gb *GradientBoosting) Classes() []string { return gb.Labels }

func (gb *GradientBoosting) TreeSet() TreeSet {
	return TreeSet{
		Trees:   gb.Trees,
		Scale:   gb.LearningRate,
		Base:    []float64{gb.Init},
		Outputs: 1,
		Link:    LinkLogit,
	}
}

func probaFromSet(ts TreeSet, X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, x := range X {
		raw, err := ts.Raw(x)
		if err != nil {
			return nil, err
		}
		if ts.Link == LinkLogit {
			p := sigmoid(raw[0])
			out[i] = []float64{1 - p, p}
			continue
		}
		out[i] = raw
	}
	return out, nil
}
