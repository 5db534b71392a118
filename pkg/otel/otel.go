package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracing for the prediction and explanation paths.

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName          string
	ServiceVersion       string
	Environment          string
	CollectorEndpoint    string
	CollectorInsecure    bool
	SamplingRate         float64 // 0.0 to 1.0 (1.0 = always sample)
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig returns production defaults
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		ServiceVersion:       "1.0.0",
		Environment:          "production",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true,
		SamplingRate:         1.0,
		MaxEventsPerSpan:     128,
		MaxAttributesPerSpan: 64,
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("healthxai")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown flushes and stops the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	// Prediction attributes
	AttrModel       = attribute.Key("model.name")
	AttrPrediction  = attribute.Key("prediction.label")
	AttrProbability = attribute.Key("prediction.probability")
	AttrFields      = attribute.Key("input.fields")

	// Explanation attributes
	AttrMethod        = attribute.Key("xai.method")
	AttrFamily        = attribute.Key("xai.family")
	AttrStrategy      = attribute.Key("xai.strategy")
	AttrMappingSource = attribute.Key("xai.mapping_source")
	AttrBackground    = attribute.Key("xai.background_rows")
	AttrSynthetic     = attribute.Key("xai.background_synthetic")

	// Performance attributes
	AttrLatencyMs = attribute.Key("latency.ms")
)

// PredictionAttributes describes one scored request.
func PredictionAttributes(model, label string, probability float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrModel.String(model),
		AttrPrediction.String(label),
		AttrProbability.Float64(probability),
	}
}

// BackgroundAttributes describes the reference sample behind an explanation.
func BackgroundAttributes(rows int, synthetic bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBackground.Int(rows),
		AttrSynthetic.Bool(synthetic),
	}
}

func PerformanceAttributes(latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrLatencyMs.Float64(latencyMs),
	}
}
