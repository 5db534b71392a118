package xai

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/dataset"
	"github.com/fractal-lba/healthxai/internal/model"
)

func TestLabelEncoder(t *testing.T) {
	enc := NewLabelEncoder([]string{"Yes", "No", "Yes", "Maybe"})

	require.Equal(t, 3, enc.Len())
	for want, l := range []string{"Maybe", "No", "Yes"} {
		code, err := enc.Encode(l)
		require.NoError(t, err)
		assert.Equal(t, want, code, "codes follow sorted label order")
		assert.Equal(t, l, enc.Decode(float64(code)))
	}

	_, err := enc.Encode("Never")
	assert.Error(t, err)

	assert.Equal(t, "No", enc.Decode(1.4))
	assert.Equal(t, "Yes", enc.Decode(7))
	assert.Equal(t, "Maybe", enc.Decode(-3))
}

func TestQuartileBins(t *testing.T) {
	q := newQuartileBins("BMI", []float64{1, 2, 3, 4, 5, 6, 7, 8})

	assert.Equal(t, []float64{2.75, 4.5, 6.25}, q.boundaries)
	assert.Equal(t, 0, q.bin(2.75))
	assert.Equal(t, 1, q.bin(2.76))
	assert.Equal(t, 3, q.bin(7))

	assert.Equal(t, "BMI <= 2.75", q.describe(0))
	assert.Equal(t, "2.75 < BMI <= 4.50", q.describe(1))
	assert.Equal(t, "BMI > 6.25", q.describe(3))

	total := 0.0
	for _, f := range q.freqs {
		total += f
	}
	assert.InDelta(t, 1, total, 1e-12)
}

func TestQuartileBins_ConstantColumn(t *testing.T) {
	q := newQuartileBins("SleepTime", []float64{7, 7, 7})

	assert.Equal(t, []float64{7}, q.boundaries)
	assert.Equal(t, 0, q.bin(7))
	assert.Equal(t, "SleepTime <= 7.00", q.describe(0))
}

func limePipeline(t *testing.T) *model.FittedPipeline {
	t.Helper()
	ct, err := model.NewColumnTransformer([]model.Step{
		{Name: "num", Columns: []string{"BMI"}, Transform: &model.StandardScaler{Mean: []float64{28}, Scale: []float64{5}}},
		{Name: "cat", Columns: []string{"Smoking", "Sex"}, Transform: &model.OneHotEncoder{Categories: [][]string{{"No", "Yes"}, {"Female", "Male"}}}},
	}, true)
	require.NoError(t, err)
	lr := &model.LogisticRegression{
		Coef:      []float64{0.4, -0.9, 0.9, 0.05, -0.05},
		Intercept: -1,
		Labels:    []string{"No", "Yes"},
	}
	return model.NewPipeline("log_reg", ct, lr)
}

func limeFrame(t *testing.T, n int) *dataset.Frame {
	t.Helper()
	smoking := []string{"No", "Yes"}
	sex := []string{"Female", "Male"}
	records := make([][]api.Value, n)
	for i := range records {
		records[i] = []api.Value{
			api.Num(18 + float64(i%25)),
			api.Cat(smoking[(i/3)%2]),
			api.Cat(sex[(i/7)%2]),
		}
	}
	f, err := dataset.NewFrame([]string{"BMI", "Smoking", "Sex"}, records)
	require.NoError(t, err)
	return f
}

func limeQuery() api.InputRow {
	return api.MustInputRow(
		[]string{"BMI", "Smoking", "Sex"},
		[]api.Value{api.Num(25), api.Cat("Yes"), api.Cat("Male")},
	)
}

func TestLime_Explain(t *testing.T) {
	l := &limeExplainer{opts: LimeOptions{NumSamples: 800, TopK: 2}, positive: "Yes"}

	res, err := l.explain(context.Background(), limePipeline(t), limeQuery(), limeFrame(t, 300))
	require.NoError(t, err)

	require.Len(t, res.Explanation, 2)
	assert.Equal(t, "Smoking=Yes", res.Explanation[0].Feature)
	assert.Greater(t, res.Explanation[0].Weight, 0.0)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 1.0)
}

func TestLime_Deterministic(t *testing.T) {
	l := &limeExplainer{opts: LimeOptions{NumSamples: 300, Seed: 9}, positive: "Yes"}
	p, frame := limePipeline(t), limeFrame(t, 120)

	a, err := l.explain(context.Background(), p, limeQuery(), frame)
	require.NoError(t, err)
	b, err := l.explain(context.Background(), p, limeQuery(), frame)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestLime_WithoutDataset(t *testing.T) {
	l := &limeExplainer{opts: LimeOptions{NumSamples: 50}, positive: "Yes"}

	res, err := l.explain(context.Background(), limePipeline(t), limeQuery(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Explanation, 3)
	for _, e := range res.Explanation {
		assert.InDelta(t, 0, e.Weight, 1e-9)
	}
}

func TestLime_BudgetExceeded(t *testing.T) {
	l := &limeExplainer{opts: LimeOptions{NumSamples: 100}, positive: "Yes"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.explain(ctx, limePipeline(t), limeQuery(), limeFrame(t, 50))
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestLime_LabelsCoverEveryColumn(t *testing.T) {
	l := &limeExplainer{opts: LimeOptions{NumSamples: 400}, positive: "Yes"}

	res, err := l.explain(context.Background(), limePipeline(t), limeQuery(), limeFrame(t, 200))
	require.NoError(t, err)

	var labels []string
	for _, e := range res.Explanation {
		labels = append(labels, e.Feature)
	}
	assert.ElementsMatch(t, []string{"Smoking=Yes", "Sex=Male", fmt.Sprintf("%.2f < BMI <= %.2f", 24.0, 30.0)}, labels)
}
