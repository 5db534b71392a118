package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/config"
	"github.com/fractal-lba/healthxai/internal/model"
	"github.com/fractal-lba/healthxai/internal/predlog"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Dir = "../../models"
	cfg.Dataset.Path = "../../data/skin_cancer_sample.csv"
	cfg.Explain.LimeSamples = 400

	store, err := predlog.NewMemoryStore("")
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithRegisterer(prometheus.NewRegistry()),
		WithStore(store),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func scenarioInput(t *testing.T) api.InputRow {
	t.Helper()
	row, err := api.PrepareInput(map[string]string{
		"BMI":              "25",
		"Smoking":          "No",
		"Sex":              "Male",
		"AgeCategory":      "40-44",
		"GenHealth":        "Good",
		"HeartDisease":     "No",
		"PhysicalActivity": "Yes",
	})
	if err != nil {
		t.Fatalf("PrepareInput: %v", err)
	}
	return row
}

func TestNew_LoadsShippedModels(t *testing.T) {
	a := testApp(t)

	want := []string{"gradient_boosting", "knn", "log_reg", "random_forest"}
	got := a.Registry.Names()
	if len(got) != len(want) {
		t.Fatalf("models = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("models[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestNew_NoModels(t *testing.T) {
	cfg := config.Default()
	cfg.Models.Dir = t.TempDir()

	_, err := New(cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	if err == nil {
		t.Fatal("expected error with an empty models directory")
	}
}

func TestPredict_EveryModel(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	for _, name := range a.Registry.Names() {
		t.Run(name, func(t *testing.T) {
			resp, err := a.Predict(ctx, PredictRequest{Model: name, Input: scenarioInput(t)})
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if resp.Model != name {
				t.Errorf("model = %s, want %s", resp.Model, name)
			}
			if resp.Probability < 0 || resp.Probability > 1 {
				t.Errorf("probability = %v", resp.Probability)
			}
			if resp.Explanation.Failed() {
				t.Fatalf("explanation failed: %s", resp.Explanation.Error)
			}
			if n := len(resp.Explanation.AllFeatures); n != len(api.Schema) {
				t.Errorf("explanation covers %d fields, want %d", n, len(api.Schema))
			}
			if len(resp.Explanation.TopFeatures) != api.DefaultTopFeatures {
				t.Errorf("top features = %d", len(resp.Explanation.TopFeatures))
			}
			if resp.LocalExplanation != nil {
				t.Error("local explanation computed without being requested")
			}
			if resp.ID == "" || resp.Summary == "" {
				t.Errorf("missing id or summary: %+v", resp)
			}
		})
	}

	n, _ := a.Store.Count(ctx)
	if n != 4 {
		t.Errorf("recorded %d predictions, want 4", n)
	}
}

func TestPredict_UnknownModelFallsBack(t *testing.T) {
	a := testApp(t)

	resp, err := a.Predict(context.Background(), PredictRequest{Model: "svm", Input: scenarioInput(t)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if resp.Model != model.DefaultModel {
		t.Errorf("model = %s, want %s", resp.Model, model.DefaultModel)
	}
}

func TestPredict_IncludeLocal(t *testing.T) {
	a := testApp(t)

	resp, err := a.Predict(context.Background(), PredictRequest{Model: "log_reg", Input: scenarioInput(t), IncludeLocal: true})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if resp.LocalExplanation == nil {
		t.Fatal("local explanation missing")
	}
	if resp.LocalExplanation.Failed() {
		t.Fatalf("local explanation failed: %s", resp.LocalExplanation.Error)
	}
	if len(resp.LocalExplanation.Explanation) == 0 {
		t.Error("local explanation is empty")
	}
}

func TestPredict_RecordsExplanation(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	resp, err := a.Predict(ctx, PredictRequest{Model: "random_forest", Input: scenarioInput(t)})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := a.Store.Get(ctx, resp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Explanation == nil || rec.Explanation.Method != "tree-path-dependent" {
		t.Errorf("recorded explanation = %+v", rec.Explanation)
	}
}

func TestPredict_LogsScrubbedInput(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	row := scenarioInput(t).With("Race", api.Cat("someone@mail.org"))
	resp, err := a.Predict(ctx, PredictRequest{Model: "log_reg", Input: row, ClientIP: "198.51.100.23"})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := a.Store.Get(ctx, resp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v, _ := rec.Input.Get("Race"); v.Str != "[REDACTED_EMAIL]" {
		t.Errorf("logged Race = %q, want redacted", v.Str)
	}
	if rec.ClientIP != "198.51.100.0" {
		t.Errorf("logged client IP = %q, want 198.51.100.0", rec.ClientIP)
	}
	// the response echoes what the caller sent
	if v, _ := resp.Input.Get("Race"); v.Str != "someone@mail.org" {
		t.Errorf("response Race = %q", v.Str)
	}
}

func TestExplain_MissingDataset(t *testing.T) {
	a := testApp(t)
	a.Config.Dataset.Path = "does-not-exist.csv"
	// the explainer is bound to the original path; rebuild with the broken one
	b, err := New(a.Config, a.Logger, WithRegisterer(prometheus.NewRegistry()), WithRegistry(a.Registry), WithStore(a.Store))
	if err != nil {
		t.Fatal(err)
	}

	res, err := b.Explain(context.Background(), "log_reg", scenarioInput(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() {
		t.Errorf("explanation without dataset failed: %s", res.Error)
	}
}
