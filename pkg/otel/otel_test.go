package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}

	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}

	if config.CollectorEndpoint == "" {
		t.Error("Collector endpoint should not be empty")
	}

	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestPredictionAttributes(t *testing.T) {
	attrs := PredictionAttributes("log_reg", "Yes", 0.73)

	if len(attrs) != 3 {
		t.Errorf("Expected 3 attributes, got %d", len(attrs))
	}

	found := false
	for _, attr := range attrs {
		if attr.Key == AttrModel && attr.Value.AsString() == "log_reg" {
			found = true
			break
		}
	}
	if !found {
		t.Error("model attribute not found")
	}
}

func TestBackgroundAttributes(t *testing.T) {
	attrs := BackgroundAttributes(100, false)
	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Value.AsInt64() != 100 {
		t.Errorf("Expected 100 background rows, got %d", attrs[0].Value.AsInt64())
	}
	if attrs[1].Value.AsBool() {
		t.Error("background should not be synthetic")
	}
}

func TestPerformanceAttributes(t *testing.T) {
	attrs := PerformanceAttributes(25.5)

	if len(attrs) != 1 {
		t.Errorf("Expected 1 attribute, got %d", len(attrs))
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// This will use the global no-op tracer since we haven't initialized OTel
	ctx, span := StartSpan(ctx, "healthxai/test", "test-span",
		attribute.String("test.key", "test.value"),
	)

	if ctx == nil {
		t.Error("Context should not be nil")
	}

	if span == nil {
		t.Error("Span should not be nil")
	}

	span.End()
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "healthxai/test", "test-span")

	// Should not panic
	RecordError(span, nil, "")
	RecordError(span, nil, "test message")

	span.End()
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "healthxai/test", "test-span")

	// Should not panic
	AddEvent(span, "test-event")
	AddEvent(span, "test-event-with-attrs",
		attribute.String("key", "value"),
	)

	span.End()
}
