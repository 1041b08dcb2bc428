package experiment

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cwbudde/gravbench/internal/experiment"

// telemetry holds the tracer and the metric instruments of a runner.
// Without configured providers the global (no-op by default) ones are used.
type telemetry struct {
	tracer trace.Tracer

	attempts     metric.Int64Counter
	exportErrors metric.Int64Counter
	duration     metric.Float64Histogram
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) (*telemetry, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}
	var err error

	t.attempts, err = meter.Int64Counter(
		"gravbench.attempts",
		metric.WithDescription("Number of finished attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}

	t.exportErrors, err = meter.Int64Counter(
		"gravbench.export_errors",
		metric.WithDescription("Number of artifacts that could not be written"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create export error counter: %w", err)
	}

	t.duration, err = meter.Float64Histogram(
		"gravbench.attempt.duration",
		metric.WithDescription("Attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return t, nil
}

// startAttempt opens the span of one attempt.
func (t *telemetry) startAttempt(ctx context.Context, optimizer string, task *task) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "experiment.attempt", trace.WithAttributes(
		attribute.String("optimizer", optimizer),
		attribute.String("problem", task.key.Problem),
		attribute.String("cell", task.key.Cell),
		attribute.Int("attempt", task.key.Attempt),
		attribute.Int("dim", task.prob.Dim()),
	))
}

// finishAttempt records the outcome of an attempt on its span and metrics.
func (t *telemetry) finishAttempt(ctx context.Context, span trace.Span, optimizer string, res *AttemptResult) {
	status := "completed"
	if res.Err != nil {
		status = "cancelled"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetAttributes(
			attribute.Float64("final_best", float64(res.FinalBest)),
			attribute.Int("evaluations", res.Evaluations),
		)
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.Int("export_errors", res.ExportErrors))

	opts := metric.WithAttributes(
		attribute.String("optimizer", optimizer),
		attribute.String("problem", res.Key.Problem),
		attribute.String("status", status),
	)
	t.attempts.Add(ctx, 1, opts)
	t.duration.Record(ctx, float64(res.Duration)/float64(time.Millisecond), opts)
	if res.ExportErrors > 0 {
		t.exportErrors.Add(ctx, int64(res.ExportErrors), opts)
	}
}
