// Package app wires the loaded models, reference dataset, explainer and
// prediction log into one application context shared by every request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/fractal-lba/healthxai/internal/api"
	"github.com/fractal-lba/healthxai/internal/config"
	"github.com/fractal-lba/healthxai/internal/dataset"
	"github.com/fractal-lba/healthxai/internal/metrics"
	"github.com/fractal-lba/healthxai/internal/model"
	"github.com/fractal-lba/healthxai/internal/predlog"
	"github.com/fractal-lba/healthxai/internal/privacy"
	"github.com/fractal-lba/healthxai/internal/xai"
	"github.com/fractal-lba/healthxai/pkg/otel"
)

const tracerName = "healthxai/app"

// ErrNoModels is returned when no pipeline could be loaded.
var ErrNoModels = errors.New("no models loaded")

// App is loaded once at startup and passed by reference to every handler.
type App struct {
	Config    *config.Config
	Registry  *model.Registry
	Datasets  *dataset.Cache
	Explainer *xai.Explainer
	Store     predlog.Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	scanner *privacy.Scanner
}

// Option customises New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	store      predlog.Store
	registry   *model.Registry
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithStore uses an already-open prediction log instead of opening one from config.
func WithStore(s predlog.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRegistry uses pre-registered pipelines instead of loading cfg.Models.Dir.
func WithRegistry(r *model.Registry) Option {
	return func(o *options) { o.registry = r }
}

// New loads models and opens the prediction log described by cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := o.registry
	if reg == nil {
		reg = model.NewRegistry(cfg.Models.Default)
		missing, err := reg.LoadDir(cfg.Models.Dir, model.DefaultFiles)
		if err != nil {
			return nil, err
		}
		for _, name := range missing {
			logger.Warn("model file not found, skipping", "model", name, "dir", cfg.Models.Dir)
		}
	}
	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoModels, cfg.Models.Dir)
	}
	for _, name := range reg.Names() {
		rp, _ := reg.Get(name)
		logger.Info("model loaded", "model", name, "path", rp.Path, "sha256", rp.BinaryHash)
	}

	datasets, err := dataset.NewCache(4, cfg.Dataset.CacheTTL, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New(o.registerer)

	store := o.store
	if store == nil {
		store, err = predlog.Open(cfg.PredLogOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open prediction log: %w", err)
		}
	}

	explainer := xai.New(cfg.ExplainConfig(),
		xai.WithDataset(datasets.Source(cfg.Dataset.Path)),
		xai.WithLogger(logger),
		xai.WithMetrics(m),
	)

	return &App{
		Config:    cfg,
		Registry:  reg,
		Datasets:  datasets,
		Explainer: explainer,
		Store:     store,
		Metrics:   m,
		Logger:    logger,
		scanner:   privacy.NewScanner(),
	}, nil
}

// Close releases the prediction log.
func (a *App) Close() error {
	return a.Store.Close()
}

// PredictRequest is one scoring request.
type PredictRequest struct {
	Model string
	Input api.InputRow
	// IncludeLocal also computes the local surrogate explanation.
	IncludeLocal bool
	ClientIP     string
}

// Predict scores the input, explains it and records the outcome. Explanation
// failures are reported inside the response; only scoring failures are errors.
func (a *App) Predict(ctx context.Context, req PredictRequest) (*api.PredictResponse, error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, tracerName, "app.Predict", otel.AttrFields.Int(req.Input.Len()))
	defer span.End()

	rp, err := a.Registry.Resolve(req.Model)
	if err != nil {
		otel.RecordError(span, err, "model resolution failed")
		return nil, err
	}
	if rp.Name != req.Model && req.Model != "" {
		a.Logger.Warn("unknown model requested, using default", "requested", req.Model, "model", rp.Name)
	}

	label, prob, err := a.score(rp.Pipeline, req.Input)
	if err != nil {
		a.Metrics.PredictErrors.WithLabelValues(rp.Name).Inc()
		otel.RecordError(span, err, "prediction failed")
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	a.Metrics.Predictions.WithLabelValues(rp.Name).Inc()
	span.SetAttributes(otel.PredictionAttributes(rp.Name, label, prob)...)

	resp := &api.PredictResponse{
		Success:     true,
		Model:       rp.Name,
		Label:       label,
		Probability: prob,
		Input:       req.Input,
		Timestamp:   time.Now().UTC(),
	}
	if label == a.Config.Explain.PositiveLabel {
		resp.Prediction = 1
	}

	var local api.LimeExplanationResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp.Explanation = a.Explainer.Explain(gctx, rp.Pipeline, req.Input)
		return nil
	})
	if req.IncludeLocal {
		g.Go(func() error {
			local = a.Explainer.ExplainLocal(gctx, rp.Pipeline, req.Input)
			return nil
		})
	}
	_ = g.Wait() // explainers report failures in their results
	if req.IncludeLocal {
		resp.LocalExplanation = &local
	}
	resp.Summary = xai.Narrative(resp.Explanation)

	logged, found := a.scanner.ScrubRow(req.Input)
	for _, d := range found {
		a.Logger.Warn("personal data redacted from logged input", "field", d.Field, "type", d.Type)
	}
	rec := predlog.NewRecord(rp.Name, resp.Prediction, label, prob, logged)
	rec.Explanation = &resp.Explanation
	rec.Summary = resp.Summary
	rec.ClientIP = privacy.MaskIP(req.ClientIP)
	rec.Timestamp = resp.Timestamp
	if err := a.Store.Append(ctx, rec); err != nil {
		a.Metrics.PredLogErrors.Inc()
		a.Logger.Error("failed to record prediction", "error", err)
	} else {
		resp.ID = rec.ID
	}

	span.SetAttributes(otel.PerformanceAttributes(float64(time.Since(start).Microseconds()) / 1000)...)
	return resp, nil
}

// Explain runs only the additive explanation for the named model.
func (a *App) Explain(ctx context.Context, modelName string, row api.InputRow) (api.ExplanationResult, error) {
	rp, err := a.Registry.Resolve(modelName)
	if err != nil {
		return api.ExplanationResult{}, err
	}
	return a.Explainer.Explain(ctx, rp.Pipeline, row), nil
}

// ExplainLocal runs only the local surrogate explanation for the named model.
func (a *App) ExplainLocal(ctx context.Context, modelName string, row api.InputRow) (api.LimeExplanationResult, error) {
	rp, err := a.Registry.Resolve(modelName)
	if err != nil {
		return api.LimeExplanationResult{}, err
	}
	return a.Explainer.ExplainLocal(ctx, rp.Pipeline, row), nil
}

// score returns the predicted label and the positive-class probability.
func (a *App) score(p model.Pipeline, row api.InputRow) (string, float64, error) {
	rows := []api.InputRow{row}
	labels, err := p.Predict(rows)
	if err != nil {
		return "", 0, err
	}
	proba, err := p.PredictProba(rows)
	if err != nil {
		return "", 0, err
	}
	if len(labels) != 1 || len(proba) != 1 {
		return "", 0, fmt.Errorf("model returned %d labels and %d probability rows for one input", len(labels), len(proba))
	}

	pos, exact := xai.PositiveIndex(p.Classes(), a.Config.Explain.PositiveLabel, len(proba[0]))
	if !exact {
		a.Logger.Warn("positive class not declared by model, using positional fallback",
			"label", a.Config.Explain.PositiveLabel, "classes", p.Classes(), "index", pos)
	}
	return labels[0], model.PositiveProba(proba, pos)[0], nil
}
