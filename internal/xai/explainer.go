// Package xai explains individual predictions of fitted pipelines in terms of
// the original input fields, with an additive (Shapley value) method and a
// local surrogate (LIME) method.
package xai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/dataset"
	"github.com/fractal-lba/healthxai/internal/metrics"
	"github.com/fractal-lba/healthxai/internal/model"
	"github.com/fractal-lba/healthxai/pkg/otel"
)

const tracerName = "healthxai/xai"

// Config holds explanation parameters.
type Config struct {
	BackgroundSize int
	Seed           uint64
	TopFeatures    int
	// PositiveLabel is the class whose probability is explained.
	PositiveLabel string
	Kernel        KernelOptions
	Lime          LimeOptions
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BackgroundSize: DefaultBackgroundSize,
		Seed:           DefaultSeed,
		TopFeatures:    api.DefaultTopFeatures,
		PositiveLabel:  "Yes",
		Kernel:         KernelOptions{Seed: DefaultSeed},
		Lime: LimeOptions{
			NumSamples: DefaultLimeSamples,
			TopK:       DefaultLimeTopK,
			Seed:       DefaultSeed,
			Budget:     DefaultLimeBudget,
		},
	}
}

// Explainer produces explanations for any pipeline against a shared reference
// dataset. It holds no per-request state and is safe for concurrent use.
type Explainer struct {
	cfg     Config
	source  dataset.Source
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithDataset sets the reference dataset used for background and LIME statistics.
func WithDataset(src dataset.Source) Option {
	return func(e *Explainer) { e.source = src }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Explainer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Explainer) { e.metrics = m }
}

// New creates an Explainer. Zero-valued config fields take defaults.
func New(cfg Config, opts ...Option) *Explainer {
	def := DefaultConfig()
	if cfg.BackgroundSize <= 0 {
		cfg.BackgroundSize = def.BackgroundSize
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	if cfg.TopFeatures <= 0 {
		cfg.TopFeatures = def.TopFeatures
	}
	if cfg.PositiveLabel == "" {
		cfg.PositiveLabel = def.PositiveLabel
	}
	if cfg.Kernel.Seed == 0 {
		cfg.Kernel.Seed = cfg.Seed
	}
	if cfg.Lime.Seed == 0 {
		cfg.Lime.Seed = cfg.Seed
	}
	cfg.Lime = cfg.Lime.withDefaults()

	e := &Explainer{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Explainer) Config() Config { return e.cfg }

func (e *Explainer) frame() *dataset.Frame {
	if e.source == nil {
		return nil
	}
	f, err := e.source.Frame()
	if err != nil {
		e.logger.Warn("reference dataset unavailable", "error", err)
		return nil
	}
	return f
}

// Background samples the reference rows used to explain row.
func (e *Explainer) Background(row api.InputRow) BackgroundSet {
	bg := SampleBackground(e.frame(), row, e.cfg.BackgroundSize, e.cfg.Seed)
	if bg.Synthetic {
		e.logger.Warn("using replicated query row as background", "reason", bg.Reason)
		if e.metrics != nil {
			e.metrics.BackgroundFallbacks.Inc()
		}
	}
	return bg
}

// Explain attributes the positive-class output for row to the original
// fields. It never panics; failures come back in the Error field.
func (e *Explainer) Explain(ctx context.Context, p model.Pipeline, row api.InputRow) (res api.ExplanationResult) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, tracerName, "xai.Explain", otel.AttrFields.Int(row.Len()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("additive explanation panicked", "panic", r)
			res = api.ExplanationResult{Error: fmt.Sprintf("explanation failed: %v", r)}
		}
		if res.Failed() {
			otel.RecordError(span, errors.New(res.Error), "additive explanation failed")
		}
		e.observe("additive", res.Failed(), start)
	}()

	if p == nil {
		return api.ExplanationResult{Error: "no model supplied"}
	}
	if row.Len() == 0 {
		return api.ExplanationResult{Error: "input row has no fields"}
	}

	bg := e.Background(row)
	span.SetAttributes(otel.BackgroundAttributes(bg.Len(), bg.Synthetic)...)
	out, err := explainAdditive(ctx, p, row, bg, e.cfg, e.logger)
	if out != nil {
		e.record(span, out)
	}
	if err != nil {
		e.logger.Warn("additive explanation failed", "error", err)
		return api.ExplanationResult{Error: err.Error()}
	}

	all := Rank(Aggregate(out.values, out.mapping))
	for _, c := range all {
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return api.ExplanationResult{Error: "non-finite contribution for " + c.Feature}
		}
	}
	if out.base != nil && (math.IsNaN(*out.base) || math.IsInf(*out.base, 0)) {
		out.base = nil
	}

	span.SetAttributes(otel.AttrMethod.String(out.method))
	top := all
	if len(top) > e.cfg.TopFeatures {
		top = top[:e.cfg.TopFeatures]
	}
	return api.ExplanationResult{
		BaseValue:   out.base,
		TopFeatures: append([]api.ContributionEntry(nil), top...),
		AllFeatures: all,
		Method:      out.method,
	}
}

// ExplainLocal fits a local surrogate around row. It never panics; failures
// come back in the Error field.
func (e *Explainer) ExplainLocal(ctx context.Context, p model.Pipeline, row api.InputRow) (res api.LimeExplanationResult) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, tracerName, "xai.ExplainLocal", otel.AttrFields.Int(row.Len()))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("local explanation panicked", "panic", r)
			res = api.LimeExplanationResult{Error: fmt.Sprintf("explanation failed: %v", r)}
		}
		if res.Failed() {
			otel.RecordError(span, errors.New(res.Error), "local explanation failed")
		}
		e.observe("local", res.Failed(), start)
	}()

	if p == nil {
		return api.LimeExplanationResult{Error: "no model supplied"}
	}
	if row.Len() == 0 {
		return api.LimeExplanationResult{Error: "input row has no fields"}
	}

	lime := &limeExplainer{opts: e.cfg.Lime, positive: e.cfg.PositiveLabel}
	out, err := lime.explain(ctx, p, row, e.frame())
	if err != nil {
		e.logger.Warn("local explanation failed", "error", err)
		return api.LimeExplanationResult{Error: err.Error()}
	}
	for _, entry := range out.Explanation {
		if math.IsNaN(entry.Weight) || math.IsInf(entry.Weight, 0) {
			return api.LimeExplanationResult{Error: "non-finite weight for " + entry.Feature}
		}
	}
	if math.IsNaN(out.Intercept) || math.IsInf(out.Intercept, 0) {
		return api.LimeExplanationResult{Error: "non-finite surrogate intercept"}
	}
	if math.IsNaN(out.Score) || math.IsInf(out.Score, 0) {
		out.Score = 0
	}
	return out
}

func (e *Explainer) record(span trace.Span, out *additiveOutput) {
	span.SetAttributes(
		otel.AttrFamily.String(out.family.String()),
		otel.AttrMappingSource.String(string(out.mappingSource)),
	)
	for _, o := range out.outcomes {
		outcome := "ok"
		if !o.Succeeded() {
			outcome = "error"
			e.logger.Debug("explanation strategy failed", "strategy", o.Strategy, "error", o.Err)
		}
		otel.AddEvent(span, "strategy."+outcome,
			otel.AttrStrategy.String(o.Strategy),
			otel.AttrLatencyMs.Float64(float64(o.Duration.Microseconds())/1000),
		)
		if e.metrics != nil {
			e.metrics.StrategyAttempts.WithLabelValues(o.Strategy, outcome).Inc()
		}
	}
	if e.metrics != nil {
		e.metrics.MappingSources.WithLabelValues(string(out.mappingSource)).Inc()
	}
}

func (e *Explainer) observe(method string, failed bool, start time.Time) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	e.metrics.Explanations.WithLabelValues(method, outcome).Inc()
	e.metrics.ExplainLatency.WithLabelValues(method).Observe(millis(time.Since(start)))
}

// millis keeps sub-millisecond precision.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
