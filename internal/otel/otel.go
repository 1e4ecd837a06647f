package otel

import (
	"context"
	"fmt"
	"sync"

	eventbus "github.com/sunmin89/bazel/internal/eventbus"
	events "github.com/sunmin89/bazel/internal/events"
	evalid "github.com/sunmin89/bazel/internal/evalid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("skyeval")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer    trace.Tracer
	evalSpans sync.Map // evaluation id -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.EvalStart) {
		id, _ := evalid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "eval.node")
		span.SetAttributes(
			attribute.String("node.key", fmt.Sprint(e.Key)),
			attribute.String("node.kind", e.Key.Kind()),
		)
		s.evalSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.DepGroup) {
		id, _ := evalid.FromContext(ctx)
		v, ok := s.evalSpans.Load(id)
		if !ok {
			return
		}
		v.(trace.Span).AddEvent("deps.group",
			trace.WithAttributes(attribute.Int("deps.group.size", e.Size)))
	})

	eventbus.Subscribe(func(ctx context.Context, e events.EvalFinish) {
		id, _ := evalid.FromContext(ctx)
		v, ok := s.evalSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("deps.count", e.Deps),
			attribute.Int("deps.groups", e.Groups),
		)
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		}
		span.End()
	})
}
