package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Explain.BackgroundSize != 100 || cfg.Explain.Seed != 42 || cfg.Explain.TopFeatures != 5 {
		t.Errorf("unexpected explain defaults: %+v", cfg.Explain)
	}
	if cfg.Explain.LimeSamples != 5000 || cfg.Explain.LimeTopK != 10 || cfg.Explain.LimeBudget != 10*time.Second {
		t.Errorf("unexpected lime defaults: %+v", cfg.Explain)
	}
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthxai.yaml")
	yaml := `
server:
  port: "9090"
explain:
  background_size: 50
  lime_budget: 3s
predlog:
  backend: file
  path: /tmp/predictions.jsonl
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Explain.BackgroundSize != 50 {
		t.Errorf("background_size = %d, want 50", cfg.Explain.BackgroundSize)
	}
	if cfg.Explain.LimeBudget != 3*time.Second {
		t.Errorf("lime_budget = %v, want 3s", cfg.Explain.LimeBudget)
	}
	// untouched keys keep their defaults
	if cfg.Explain.TopFeatures != 5 {
		t.Errorf("top_features = %d, want 5", cfg.Explain.TopFeatures)
	}
	if cfg.PredLogOptions().Backend != "file" {
		t.Errorf("backend = %q, want file", cfg.PredLogOptions().Backend)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"PORT":            "7000",
		"TOKEN_RATE":      "5",
		"PREDLOG_BACKEND": "redis",
		"REDIS_ADDR":      "cache:6379",
		"LIME_BUDGET":     "500ms",
		"LOG_LEVEL":       "",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.Port != "7000" || cfg.Server.TokenRate != 5 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.PredLog.Backend != "redis" || cfg.PredLog.RedisAddr != "cache:6379" {
		t.Errorf("predlog = %+v", cfg.PredLog)
	}
	if cfg.Explain.LimeBudget != 500*time.Millisecond {
		t.Errorf("lime budget = %v", cfg.Explain.LimeBudget)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("empty LOG_LEVEL should keep default, got %q", cfg.Log.Level)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	if err := cfg.applyEnv(env(map[string]string{"TOKEN_RATE": "lots"})); err == nil {
		t.Error("expected error for non-numeric TOKEN_RATE")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.PredLog.Backend = "file"
	cfg.Explain.BackgroundSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"predlog.path", "background_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestExplainConfig(t *testing.T) {
	cfg := Default()
	cfg.Explain.Seed = 7

	xc := cfg.ExplainConfig()
	if xc.Seed != 7 || xc.Kernel.Seed != 7 || xc.Lime.Seed != 7 {
		t.Errorf("seed not propagated: %+v", xc)
	}
	if xc.PositiveLabel != "Yes" {
		t.Errorf("positive label = %q", xc.PositiveLabel)
	}
}
