// Package telemetry provides OpenTelemetry instrumentation for MentorMesh
// turns: a span per turn and per node, a turn counter, a tool execution
// counter and a node duration histogram.
//
// Exporters are configured through the standard OTEL_* environment variables
// (OTEL_EXPORTER_OTLP_ENDPOINT and friends). A nil *Instruments is valid and
// records nothing.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/hupe1980/mentormesh"

// Attribute keys.
var (
	AttrSessionID = attribute.Key("mentormesh.session_id")
	AttrTurnID    = attribute.Key("mentormesh.turn_id")
	AttrNode      = attribute.Key("mentormesh.node")
	AttrTool      = attribute.Key("mentormesh.tool")
	AttrStatus    = attribute.Key("mentormesh.status")
	AttrLoopCount = attribute.Key("mentormesh.loop_count")
)

// Instruments holds the tracer and metric instruments.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	Turns          metric.Int64Counter
	ToolExecutions metric.Int64Counter
	NodeDuration   metric.Float64Histogram
}

// Init sets up trace and metric providers with OTLP HTTP exporters and
// registers them globally. The returned shutdown func flushes both.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "mentormesh"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := New()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)

		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	return inst, shutdown, nil
}

// New creates instruments from the globally registered providers. Without
// Init those are no-ops, which is what tests use.
func New() (*Instruments, error) {
	return NewFromProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewFromProviders creates instruments from explicit providers.
func NewFromProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)

	turns, err := meter.Int64Counter("mentormesh.turns",
		metric.WithDescription("Completed turns"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("mentormesh.tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	nodeDuration, err := meter.Float64Histogram("mentormesh.node.duration",
		metric.WithDescription("Node execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tp.Tracer(scopeName),
		Meter:          meter,
		Turns:          turns,
		ToolExecutions: toolExecutions,
		NodeDuration:   nodeDuration,
	}, nil
}

// StartTurn opens the turn span. The returned func ends it and counts the
// turn with its outcome.
func (i *Instruments) StartTurn(ctx context.Context, sessionID, turnID string) (context.Context, func(loopCount int, err error)) {
	if i == nil {
		return ctx, func(int, error) {}
	}

	ctx, span := i.Tracer.Start(ctx, "mentormesh.turn", trace.WithAttributes(
		AttrSessionID.String(sessionID),
		AttrTurnID.String(turnID),
	))

	return ctx, func(loopCount int, err error) {
		span.SetAttributes(AttrLoopCount.Int(loopCount))
		record(span, err)
		span.End()

		i.Turns.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status(err))))
	}
}

// StartNode opens a span for one node execution. The returned func ends it
// and records the node duration.
func (i *Instruments) StartNode(ctx context.Context, node string) (context.Context, func(err error)) {
	if i == nil {
		return ctx, func(error) {}
	}

	start := time.Now()

	ctx, span := i.Tracer.Start(ctx, "mentormesh.node."+node, trace.WithAttributes(AttrNode.String(node)))

	return ctx, func(err error) {
		record(span, err)
		span.End()

		i.NodeDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(AttrNode.String(node), AttrStatus.String(status(err))))
	}
}

// RecordTool counts one tool execution.
func (i *Instruments) RecordTool(ctx context.Context, name string, _ time.Duration, err error) {
	if i == nil {
		return
	}

	i.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrTool.String(name),
		AttrStatus.String(status(err)),
	))
}

func record(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return
	}

	span.SetStatus(codes.Ok, "")
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
