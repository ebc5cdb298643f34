// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies the spans created by this module.
const InstrumentationName = "github.com/innovationmech/sagakeeper/pkg/saga"

// SagaTracer creates spans for saga invocations.
type SagaTracer struct {
	tracer  oteltrace.Tracer
	enabled bool
}

// NewSagaTracer creates a tracer backed by provider. A nil provider disables
// tracing.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	tracer := monitoring.NewSagaTracer(tp)
func NewSagaTracer(provider oteltrace.TracerProvider) *SagaTracer {
	if provider == nil {
		return &SagaTracer{tracer: noop.NewTracerProvider().Tracer(InstrumentationName)}
	}
	return &SagaTracer{tracer: provider.Tracer(InstrumentationName), enabled: true}
}

// Enabled reports whether spans are recorded.
func (st *SagaTracer) Enabled() bool {
	return st.enabled
}

// StartInvocationSpan starts the span of one saga handler invocation.
//
//	ctx, span := tracer.StartInvocationSpan(ctx, "OrderSaga", "StartOrder")
//	defer span.End()
func (st *SagaTracer) StartInvocationSpan(ctx context.Context, sagaType, messageType string) (context.Context, oteltrace.Span) {
	return st.tracer.Start(ctx,
		fmt.Sprintf("saga.%s", sagaType),
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(
			attribute.String("saga.type", sagaType),
			attribute.String("message.type", messageType),
		),
	)
}

// RecordEvent adds an event to the span in ctx.
func (st *SagaTracer) RecordEvent(ctx context.Context, eventName string, attributes map[string]interface{}) {
	if !st.enabled {
		return
	}
	span := oteltrace.SpanFromContext(ctx)

	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, convertToAttribute(k, v))
	}
	span.AddEvent(eventName, oteltrace.WithAttributes(attrs...))
}

// RecordSuccess marks the span in ctx as successful with the final status.
func (st *SagaTracer) RecordSuccess(ctx context.Context, status string) {
	if !st.enabled {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("saga.status", status))
	span.SetStatus(codes.Ok, "")
}

// RecordFailure marks the span in ctx as failed.
func (st *SagaTracer) RecordFailure(ctx context.Context, err error) {
	if !st.enabled || err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func convertToAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
