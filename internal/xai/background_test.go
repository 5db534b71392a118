package xai

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/dataset"
)

func queryRow(t *testing.T) api.InputRow {
	t.Helper()
	return api.MustInputRow(
		[]string{"BMI", "Smoking"},
		[]api.Value{api.Num(25), api.Cat("No")},
	)
}

func numberedFrame(t *testing.T, n int) *dataset.Frame {
	t.Helper()
	records := make([][]api.Value, n)
	for i := range records {
		records[i] = []api.Value{api.Num(float64(i)), api.Cat(fmt.Sprintf("s%d", i%2)), api.Cat("x")}
	}
	f, err := dataset.NewFrame([]string{"BMI", "Smoking", "Extra"}, records)
	require.NoError(t, err)
	return f
}

func TestSampleBackground_SmallFrameUsesAllRowsInOrder(t *testing.T) {
	bg := SampleBackground(numberedFrame(t, 7), queryRow(t), 100, DefaultSeed)

	require.Equal(t, 7, bg.Len())
	assert.False(t, bg.Synthetic)
	for i, r := range bg.Rows {
		assert.Equal(t, []string{"BMI", "Smoking"}, r.Columns())
		v, _ := r.Get("BMI")
		assert.Equal(t, float64(i), v.Num)
	}
}

func TestSampleBackground_LargeFrameIsSampled(t *testing.T) {
	frame := numberedFrame(t, 10000)

	bg := SampleBackground(frame, queryRow(t), 200, DefaultSeed)

	require.Equal(t, 200, bg.Len())
	seen := make(map[float64]bool)
	for _, r := range bg.Rows {
		assert.Equal(t, []string{"BMI", "Smoking"}, r.Columns())
		v, _ := r.Get("BMI")
		assert.False(t, seen[v.Num], "row %v drawn twice", v.Num)
		seen[v.Num] = true
	}
}

func TestSampleBackground_Deterministic(t *testing.T) {
	frame := numberedFrame(t, 5000)

	a := SampleBackground(frame, queryRow(t), 50, 7)
	b := SampleBackground(frame, queryRow(t), 50, 7)
	c := SampleBackground(frame, queryRow(t), 50, 8)

	assert.Equal(t, a.Rows, b.Rows)
	assert.NotEqual(t, a.Rows, c.Rows)
}

func TestSampleBackground_Fallbacks(t *testing.T) {
	missing, err := dataset.NewFrame([]string{"BMI"}, [][]api.Value{{api.Num(30)}})
	require.NoError(t, err)
	empty, err := dataset.NewFrame([]string{"BMI", "Smoking"}, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame *dataset.Frame
	}{
		{"no dataset", nil},
		{"missing column", missing},
		{"no rows", empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queryRow(t)
			bg := SampleBackground(tt.frame, q, 100, DefaultSeed)

			assert.True(t, bg.Synthetic)
			assert.NotEmpty(t, bg.Reason)
			require.Equal(t, 10, bg.Len())
			for _, r := range bg.Rows {
				assert.Equal(t, q, r)
			}
		})
	}
}

func TestSampleIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, sampleIndices(3, 10, 1))

	idx := sampleIndices(1000, 10, 1)
	require.Len(t, idx, 10)
	for _, i := range idx {
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 1000)
	}
}
