package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fractal-lba/healthxai/internal/api"
)

const testPipelineJSON = `{
  "name": "log_reg",
  "classes": ["No", "Yes"],
  "preprocess": {
    "steps": [
      {"name": "num", "type": "standard_scaler", "columns": ["BMI"], "mean": [28], "scale": [4]},
      {"name": "onehot", "type": "one_hot", "columns": ["Smoking", "Sex"], "categories": [["No", "Yes"], ["Female", "Male"]]},
      {"name": "skip", "type": "drop", "columns": ["Race"]}
    ]
  },
  "classifier": {"type": "logistic_regression", "coef": [1.0, -0.5, 0.5, 0.2, -0.2], "intercept": -1.0}
}`

func testRow(t *testing.T) api.InputRow {
	t.Helper()
	row, err := api.NewInputRow(
		[]string{"BMI", "Smoking", "Sex", "Race"},
		[]api.Value{api.Num(32), api.Cat("Yes"), api.Cat("Male"), api.Cat("White")},
	)
	if err != nil {
		t.Fatalf("NewInputRow: %v", err)
	}
	return row
}

func TestParsePipeline_Logistic(t *testing.T) {
	p, err := ParsePipeline(strings.NewReader(testPipelineJSON))
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}

	X, err := p.Preprocessor().Transform([]api.InputRow{testRow(t)})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	want := []float64{1, 0, 1, 0, 1}
	if len(X[0]) != len(want) {
		t.Fatalf("width = %d, want %d", len(X[0]), len(want))
	}
	for i := range want {
		if X[0][i] != want[i] {
			t.Errorf("X[%d] = %v, want %v", i, X[0][i], want[i])
		}
	}

	proba, err := p.PredictProba([]api.InputRow{testRow(t)})
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	// z = -1 + 1*1 + 0.5*1 + (-0.2)*1 = 0.3
	wantP := 1 / (1 + math.Exp(-0.3))
	if math.Abs(proba[0][1]-wantP) > 1e-12 {
		t.Errorf("P(Yes) = %v, want %v", proba[0][1], wantP)
	}

	labels, err := p.Predict([]api.InputRow{testRow(t)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if labels[0] != "Yes" {
		t.Errorf("Predict = %q, want Yes", labels[0])
	}
}

func TestColumnTransformer_FeatureNames(t *testing.T) {
	p, err := ParsePipeline(strings.NewReader(testPipelineJSON))
	if err != nil {
		t.Fatalf("ParsePipeline: %v", err)
	}

	namer := p.Preprocessor().(FeatureNamer)
	names, err := namer.FeatureNamesOut(nil)
	if err != nil {
		t.Fatalf("FeatureNamesOut: %v", err)
	}
	want := []string{"num__BMI", "onehot__Smoking_No", "onehot__Smoking_Yes", "onehot__Sex_Female", "onehot__Sex_Male"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestColumnTransformer_BinaryHasNoNames(t *testing.T) {
	ct, err := NewColumnTransformer([]Step{
		{Name: "bin", Columns: []string{"Smoking"}, Transform: &BinaryEncoder{Positive: "Yes"}},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ct.FeatureNamesOut(nil); !errors.Is(err, ErrNoFeatureNames) {
		t.Errorf("expected ErrNoFeatureNames, got %v", err)
	}
}

func TestColumnTransformer_MissingColumn(t *testing.T) {
	ct, err := NewColumnTransformer([]Step{
		{Name: "num", Columns: []string{"SleepTime"}, Transform: Passthrough{}},
	}, true)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ct.Transform([]api.InputRow{testRow(t)})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestOneHot_UnknownCategoryEncodesZeros(t *testing.T) {
	enc := &OneHotEncoder{Categories: [][]string{{"A", "B"}}}
	out, err := enc.Encode(nil, []api.Value{api.Cat("C")})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0 || out[1] != 0 {
		t.Errorf("unknown category = %v, want zeros", out)
	}
}

func stump(feature int, threshold float64, left, right []float64) *Tree {
	return &Tree{Nodes: []TreeNode{
		{Left: 1, Right: 2, Feature: feature, Threshold: threshold, Cover: 10},
		{Left: -1, Right: -1, Value: left, Cover: 6},
		{Left: -1, Right: -1, Value: right, Cover: 4},
	}}
}

func TestRandomForest_AveragesTrees(t *testing.T) {
	rf := &RandomForest{
		Trees: []*Tree{
			stump(0, 0.5, []float64{0.9, 0.1}, []float64{0.2, 0.8}),
			stump(1, 0.5, []float64{0.6, 0.4}, []float64{0.3, 0.7}),
		},
		Labels: []string{"No", "Yes"},
	}

	proba, err := rf.PredictProba([][]float64{{1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	// tree 1 -> right (0.8), tree 2 -> left (0.4)
	if math.Abs(proba[0][1]-0.6) > 1e-12 {
		t.Errorf("P(Yes) = %v, want 0.6", proba[0][1])
	}
}

func TestGradientBoosting_LogOdds(t *testing.T) {
	gb := &GradientBoosting{
		Init:         -1,
		LearningRate: 0.5,
		Trees:        []*Tree{stump(0, 0.5, []float64{-1}, []float64{2})},
		Labels:       []string{"No", "Yes"},
	}

	proba, err := gb.PredictProba([][]float64{{1}})
	if err != nil {
		t.Fatal(err)
	}
	want := 1 / (1 + math.Exp(-(-1 + 0.5*2)))
	if math.Abs(proba[0][1]-want) > 1e-12 {
		t.Errorf("P(Yes) = %v, want %v", proba[0][1], want)
	}
}

func TestKNN_Votes(t *testing.T) {
	knn := &KNN{
		K:      3,
		Points: [][]float64{{0}, {0.1}, {0.2}, {5}},
		Target: []string{"Yes", "No", "Yes", "No"},
		Labels: []string{"No", "Yes"},
	}

	proba, err := knn.PredictProba([][]float64{{0.05}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(proba[0][1]-2.0/3.0) > 1e-12 {
		t.Errorf("P(Yes) = %v, want 2/3", proba[0][1])
	}
}

func TestTree_ValidateRejectsBackEdges(t *testing.T) {
	tree := &Tree{Nodes: []TreeNode{
		{Left: 0, Right: 1, Feature: 0},
		{Left: -1, Right: -1, Value: []float64{1}},
	}}
	if err := tree.Validate(1, 1); err == nil {
		t.Error("expected invalid children error")
	}
}

func TestRegistry_LoadDirAndResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "logistic_regression.json"), []byte(testPipelineJSON), 0644); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry("")
	missing, err := reg.LoadDir(dir, DefaultFiles)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(missing) != 3 {
		t.Errorf("missing = %v, want 3 entries", missing)
	}

	rp, err := reg.Resolve("unknown_model")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rp.Name != "log_reg" {
		t.Errorf("fallback = %q, want log_reg", rp.Name)
	}
	if len(rp.BinaryHash) != 64 {
		t.Errorf("BinaryHash = %q, want sha256 hex", rp.BinaryHash)
	}
}

func TestRegistry_ResolveWithoutDefault(t *testing.T) {
	reg := NewRegistry("log_reg")
	if _, err := reg.Resolve("knn"); err == nil {
		t.Error("expected error when nothing is loaded")
	}
}
