package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"goa.design/clue/log"
)

type (
	// ClueLogger delegates structured logging to goa.design/clue.
	ClueLogger struct{}

	// ClueMetrics records counters and timers via an OpenTelemetry meter.
	ClueMetrics struct {
		counters map[string]metric.Float64Counter
		timers   map[string]metric.Float64Histogram
		meter    metric.Meter
	}

	// ClueTracer starts spans via an OpenTelemetry tracer.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

func fielders(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fielders = append(fielders, log.KV{K: key, V: keyvals[i+1]})
	}
	return fielders
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, msg, fielders(keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, msg, fielders(keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, msg, fielders(keyvals)...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append(fielders(keyvals), log.KV{K: "msg", V: msg})...)
}

// NewClueMetrics constructs a Metrics recorder backed by an OTEL meter
// registered under the given instrumentation name.
func NewClueMetrics(instrumentationName string) Metrics {
	return &ClueMetrics{
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
		meter:    otel.Meter(instrumentationName),
	}
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counters[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name)
		if err != nil {
			return
		}
		m.timers[name] = h
	}
	h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

// NewClueTracer constructs a Tracer registered under the given
// instrumentation name.
func NewClueTracer(instrumentationName string) Tracer {
	return &ClueTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, clueSpan{span: span}
}

func (s clueSpan) End()                        { s.span.End() }
func (s clueSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(tagAttrs(stringify(keyvals))...))
}
func (s clueSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s clueSpan) RecordError(err error)                         { s.span.RecordError(err) }

func stringify(keyvals []any) []string {
	out := make([]string, 0, len(keyvals))
	for _, kv := range keyvals {
		switch v := kv.(type) {
		case string:
			out = append(out, v)
		default:
			out = append(out, "")
		}
	}
	return out
}
