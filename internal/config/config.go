// Package config loads service configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/healthxai/internal/predlog"
	"github.com/fractal-lba/healthxai/internal/xai"
)

// Config is the full service configuration.
type Config struct {
	Server struct {
		Port           string        `yaml:"port"`
		TokenRate      int           `yaml:"token_rate"` // requests/sec, 0 = unlimited
		MaxRequestSize int64         `yaml:"max_request_size"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		AdminUser      string        `yaml:"admin_user"`
		AdminPass      string        `yaml:"admin_pass"`
	} `yaml:"server"`

	Models struct {
		Dir     string `yaml:"dir"`
		Default string `yaml:"default"`
	} `yaml:"models"`

	Dataset struct {
		Path     string        `yaml:"path"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"dataset"`

	Explain struct {
		BackgroundSize int           `yaml:"background_size"`
		Seed           uint64        `yaml:"seed"`
		TopFeatures    int           `yaml:"top_features"`
		PositiveLabel  string        `yaml:"positive_label"`
		KernelSamples  int           `yaml:"kernel_samples"`
		LimeSamples    int           `yaml:"lime_samples"`
		LimeTopK       int           `yaml:"lime_top_k"`
		LimeBudget     time.Duration `yaml:"lime_budget"`
	} `yaml:"explain"`

	PredLog struct {
		Backend       string `yaml:"backend"`
		Path          string `yaml:"path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		PostgresConn  string `yaml:"postgres_conn"`
	} `yaml:"predlog"`

	Telemetry struct {
		OTelEndpoint string  `yaml:"otel_endpoint"` // empty disables tracing
		SamplingRate float64 `yaml:"sampling_rate"`
		Environment  string  `yaml:"environment"`
	} `yaml:"telemetry"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.TokenRate = 100
	c.Server.MaxRequestSize = 1 << 20
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 60 * time.Second

	c.Models.Dir = "models"
	c.Models.Default = "log_reg"

	c.Dataset.Path = "data/skin_cancer_sample.csv"
	c.Dataset.CacheTTL = time.Hour

	def := xai.DefaultConfig()
	c.Explain.BackgroundSize = def.BackgroundSize
	c.Explain.Seed = def.Seed
	c.Explain.TopFeatures = def.TopFeatures
	c.Explain.PositiveLabel = def.PositiveLabel
	c.Explain.LimeSamples = def.Lime.NumSamples
	c.Explain.LimeTopK = def.Lime.TopK
	c.Explain.LimeBudget = def.Lime.Budget

	c.PredLog.Backend = predlog.BackendMemory
	c.PredLog.RedisAddr = "localhost:6379"

	c.Telemetry.SamplingRate = 1.0
	c.Telemetry.Environment = "production"

	c.Log.Level = "info"
	c.Log.Format = "json"
	return &c
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by HEALTHXAI_CONFIG, if set.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("HEALTHXAI_CONFIG"))
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("PORT", &c.Server.Port)
	str("ADMIN_USER", &c.Server.AdminUser)
	str("ADMIN_PASS", &c.Server.AdminPass)
	str("MODELS_DIR", &c.Models.Dir)
	str("DEFAULT_MODEL", &c.Models.Default)
	str("DATASET_PATH", &c.Dataset.Path)
	str("POSITIVE_LABEL", &c.Explain.PositiveLabel)
	str("PREDLOG_BACKEND", &c.PredLog.Backend)
	str("PREDLOG_PATH", &c.PredLog.Path)
	str("REDIS_ADDR", &c.PredLog.RedisAddr)
	str("REDIS_PASSWORD", &c.PredLog.RedisPassword)
	str("POSTGRES_CONN", &c.PredLog.PostgresConn)
	str("OTEL_ENDPOINT", &c.Telemetry.OTelEndpoint)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	for key, dst := range map[string]*int{
		"TOKEN_RATE":      &c.Server.TokenRate,
		"BACKGROUND_SIZE": &c.Explain.BackgroundSize,
		"LIME_SAMPLES":    &c.Explain.LimeSamples,
		"REDIS_DB":        &c.PredLog.RedisDB,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("LIME_BUDGET"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LIME_BUDGET: %w", err)
		}
		c.Explain.LimeBudget = d
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port == "" {
		problems = append(problems, "server.port is empty")
	}
	if c.Server.TokenRate < 0 {
		problems = append(problems, "server.token_rate must be >= 0")
	}
	if c.Models.Dir == "" {
		problems = append(problems, "models.dir is empty")
	}
	if c.Explain.BackgroundSize <= 0 {
		problems = append(problems, "explain.background_size must be > 0")
	}
	if c.Explain.TopFeatures <= 0 {
		problems = append(problems, "explain.top_features must be > 0")
	}
	if c.Explain.LimeSamples <= 1 {
		problems = append(problems, "explain.lime_samples must be > 1")
	}
	if c.Explain.LimeBudget <= 0 {
		problems = append(problems, "explain.lime_budget must be > 0")
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		problems = append(problems, "telemetry.sampling_rate must be within [0,1]")
	}

	switch c.PredLog.Backend {
	case predlog.BackendMemory:
	case predlog.BackendFile:
		if c.PredLog.Path == "" {
			problems = append(problems, "predlog.path is required for the file backend")
		}
	case predlog.BackendRedis:
		if c.PredLog.RedisAddr == "" {
			problems = append(problems, "predlog.redis_addr is required for the redis backend")
		}
	case predlog.BackendPostgres:
		if c.PredLog.PostgresConn == "" {
			problems = append(problems, "predlog.postgres_conn is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown predlog.backend %q", c.PredLog.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExplainConfig converts the explain section for the explainer.
func (c *Config) ExplainConfig() xai.Config {
	return xai.Config{
		BackgroundSize: c.Explain.BackgroundSize,
		Seed:           c.Explain.Seed,
		TopFeatures:    c.Explain.TopFeatures,
		PositiveLabel:  c.Explain.PositiveLabel,
		Kernel:         xai.KernelOptions{MaxSamples: c.Explain.KernelSamples, Seed: c.Explain.Seed},
		Lime: xai.LimeOptions{
			NumSamples: c.Explain.LimeSamples,
			TopK:       c.Explain.LimeTopK,
			Seed:       c.Explain.Seed,
			Budget:     c.Explain.LimeBudget,
		},
	}
}

// PredLogOptions converts the predlog section for predlog.Open.
func (c *Config) PredLogOptions() predlog.Options {
	return predlog.Options{
		Backend:       c.PredLog.Backend,
		Path:          c.PredLog.Path,
		RedisAddr:     c.PredLog.RedisAddr,
		RedisPassword: c.PredLog.RedisPassword,
		RedisDB:       c.PredLog.RedisDB,
		PostgresConn:  c.PredLog.PostgresConn,
	}
}
