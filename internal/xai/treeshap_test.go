package xai

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/healthxai/internal/model"
)

func leaf(cover float64, value ...float64) model.TreeNode {
	return model.TreeNode{Left: -1, Right: -1, Value: value, Cover: cover}
}

func split(feature int, threshold float64, left, right int, cover float64) model.TreeNode {
	return model.TreeNode{Left: left, Right: right, Feature: feature, Threshold: threshold, Cover: cover}
}

// testTree splits on all three features; leaves hold [P(No), P(Yes)].
func testTree() *model.Tree {
	return &model.Tree{Nodes: []model.TreeNode{
		split(0, 0.5, 1, 2, 10),
		split(1, 0.5, 3, 4, 6),
		split(2, 1.0, 5, 6, 4),
		leaf(4, 0.8, 0.2),
		leaf(2, 0.3, 0.7),
		leaf(3, 0.2, 0.8),
		leaf(1, 0.0, 1.0),
	}}
}

func secondTree() *model.Tree {
	return &model.Tree{Nodes: []model.TreeNode{
		split(2, 0.5, 1, 2, 10),
		leaf(5, 0.6, 0.4),
		split(0, 1.5, 3, 4, 5),
		leaf(2, 0.5, 0.5),
		leaf(3, 0.1, 0.9),
	}}
}

// coverExpectation is E[tree(x) | x_S] under the tree's cover distribution.
func coverExpectation(tr *model.Tree, i int, x []float64, in []bool, out int) float64 {
	n := tr.Nodes[i]
	if n.IsLeaf() {
		return n.Value[out]
	}
	if in[n.Feature] {
		if x[n.Feature] <= n.Threshold {
			return coverExpectation(tr, n.Left, x, in, out)
		}
		return coverExpectation(tr, n.Right, x, in, out)
	}
	l, r := tr.Nodes[n.Left], tr.Nodes[n.Right]
	return (l.Cover*coverExpectation(tr, n.Left, x, in, out) + r.Cover*coverExpectation(tr, n.Right, x, in, out)) / n.Cover
}

// bruteShapley enumerates every coalition of m features.
func bruteShapley(m int, value func(in []bool) float64) []float64 {
	phi := make([]float64, m)
	fact := func(n int) float64 {
		f := 1.0
		for i := 2; i <= n; i++ {
			f *= float64(i)
		}
		return f
	}
	for i := 0; i < m; i++ {
		for bits := 0; bits < 1<<m; bits++ {
			if bits&(1<<i) != 0 {
				continue
			}
			in := make([]bool, m)
			s := 0
			for j := 0; j < m; j++ {
				if bits&(1<<j) != 0 {
					in[j] = true
					s++
				}
			}
			w := fact(s) * fact(m-s-1) / fact(m)
			without := value(in)
			in[i] = true
			phi[i] += w * (value(in) - without)
		}
	}
	return phi
}

func TestTreePathDependent_MatchesBruteForce(t *testing.T) {
	trees := []*model.Tree{testTree(), secondTree()}
	rf := &model.RandomForest{Trees: trees, Labels: []string{"No", "Yes"}}
	x := []float64{0.2, 0.9, 0.4}

	attr, err := treePathDependent{}.Explain(context.Background(), &additiveInput{
		estimator: rf, x: x, positive: 1, nFeatures: 3,
	})
	require.NoError(t, err)

	got, err := attr.Values.ToVector(3, attr.Positive)
	require.NoError(t, err)

	want := bruteShapley(3, func(in []bool) float64 {
		v := 0.0
		for _, tr := range trees {
			v += coverExpectation(tr, 0, x, in, 1) / float64(len(trees))
		}
		return v
	})
	assert.InDeltaSlice(t, want, got, 1e-9)

	base, ok := BaseFor(attr.Base, attr.Positive)
	require.True(t, ok)
	proba, err := rf.PredictProba([][]float64{x})
	require.NoError(t, err)
	sum := base
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, proba[0][1], sum, 1e-9)
}

func TestTreePathDependent_NeedsCover(t *testing.T) {
	tr := testTree()
	tr.Nodes[4].Cover = 0
	dt := &model.DecisionTree{Tree: tr, Labels: []string{"No", "Yes"}}

	_, err := treePathDependent{}.Explain(context.Background(), &additiveInput{
		estimator: dt, x: []float64{0, 0, 0}, positive: 1, nFeatures: 3,
	})
	assert.Error(t, err)
}

func TestTreeStrategies_RejectOtherEstimators(t *testing.T) {
	lr := &model.LogisticRegression{Coef: []float64{1}, Labels: []string{"No", "Yes"}}
	in := &additiveInput{estimator: lr, x: []float64{1}, background: [][]float64{{0}}, positive: 1, nFeatures: 1}

	_, err := treePathDependent{}.Explain(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnsupportedEstimator)
	_, err = treeInterventional{}.Explain(context.Background(), in)
	assert.ErrorIs(t, err, ErrUnsupportedEstimator)
}

func TestTreeInterventional_MatchesBruteForce(t *testing.T) {
	trees := []*model.Tree{testTree(), secondTree()}
	rf := &model.RandomForest{Trees: trees, Labels: []string{"No", "Yes"}}
	x := []float64{0.2, 0.9, 0.4}
	bg := [][]float64{{1, 0, 2}, {0, 1, 0}, {2, 0.2, 0.8}}

	attr, err := treeInterventional{}.Explain(context.Background(), &additiveInput{
		estimator: rf, x: x, background: bg, positive: 1, nFeatures: 3,
	})
	require.NoError(t, err)

	got, err := attr.Values.ToVector(3, attr.Positive)
	require.NoError(t, err)

	f := func(row []float64) float64 {
		p, err := rf.PredictProba([][]float64{row})
		require.NoError(t, err)
		return p[0][1]
	}
	want := bruteShapley(3, func(in []bool) float64 {
		v := 0.0
		for _, b := range bg {
			h := make([]float64, 3)
			for j := range h {
				if in[j] {
					h[j] = x[j]
				} else {
					h[j] = b[j]
				}
			}
			v += f(h) / float64(len(bg))
		}
		return v
	})
	assert.InDeltaSlice(t, want, got, 1e-9)

	base, ok := BaseFor(attr.Base, attr.Positive)
	require.True(t, ok)
	sum := base
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, f(x), sum, 1e-9)
}

func boostedTree() *model.Tree {
	return &model.Tree{Nodes: []model.TreeNode{
		split(0, 0.5, 1, 2, 10),
		leaf(6, -1.2),
		split(1, 0.5, 3, 4, 4),
		leaf(1, 0.4),
		leaf(3, 2.0),
	}}
}

func TestTreePathDependent_GradientBoostingLogOdds(t *testing.T) {
	x := []float64{1, 1}
	gb := &model.GradientBoosting{Init: -0.3, LearningRate: 0.5, Trees: []*model.Tree{boostedTree()}, Labels: []string{"No", "Yes"}}

	attr, err := treePathDependent{}.Explain(context.Background(), &additiveInput{
		estimator: gb, x: x, positive: 1, nFeatures: 2,
	})
	require.NoError(t, err)
	got, err := attr.Values.ToVector(2, attr.Positive)
	require.NoError(t, err)
	base, _ := BaseFor(attr.Base, attr.Positive)

	raw, err := gb.TreeSet().Raw(x)
	require.NoError(t, err)
	assert.InDelta(t, raw[0], base+got[0]+got[1], 1e-9)

	// the single output is the log-odds of the second class; flipping the
	// class order flips the sign
	flipped := &model.GradientBoosting{Init: -0.3, LearningRate: 0.5, Trees: []*model.Tree{boostedTree()}, Labels: []string{"Yes", "No"}}
	attr2, err := treePathDependent{}.Explain(context.Background(), &additiveInput{
		estimator: flipped, x: x, positive: 0, nFeatures: 2,
	})
	require.NoError(t, err)
	got2, err := attr2.Values.ToVector(2, attr2.Positive)
	require.NoError(t, err)
	for i := range got {
		assert.InDelta(t, -got[i], got2[i], 1e-12)
	}
	base2, _ := BaseFor(attr2.Base, attr2.Positive)
	assert.InDelta(t, -base, base2, 1e-12)
	assert.False(t, math.IsNaN(base2))
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, FamilyLinear, FamilyOf(&model.LogisticRegression{}))
	assert.Equal(t, FamilyTree, FamilyOf(&model.RandomForest{}))
	assert.Equal(t, FamilyTree, FamilyOf(&model.GradientBoosting{}))
	assert.Equal(t, FamilyOther, FamilyOf(&model.KNN{}))
	assert.Equal(t, FamilyUnknown, FamilyOf(nil))

	names := func(ss []Strategy) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = s.Name()
		}
		return out
	}
	assert.Equal(t, []string{"tree-path-dependent", "tree-interventional", "kernel"}, names(FamilyTree.Strategies(KernelOptions{})))
	assert.Equal(t, []string{"kernel"}, names(FamilyLinear.Strategies(KernelOptions{})))
}
