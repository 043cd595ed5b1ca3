package shm

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/CoolandonRS/polyglot/pkg/shm"

type bufferMetrics struct {
	claims       metric.Int64Counter
	bytesRead    metric.Int64Counter
	bytesWritten metric.Int64Counter
	resets       metric.Int64Counter
}

func newBufferMetrics(m metric.Meter) *bufferMetrics {
	if m == nil {
		m = noopmetric.NewMeterProvider().Meter(instrumentationName)
	}
	fallback := noopmetric.Meter{}
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return &bufferMetrics{
		claims:       counter("polyglot.shm.claims", "Claims taken on the shared buffer.", "{claim}"),
		bytesRead:    counter("polyglot.shm.bytes.read", "Payload bytes copied out of the shared buffer.", "By"),
		bytesWritten: counter("polyglot.shm.bytes.written", "Payload bytes copied into the shared buffer.", "By"),
		resets:       counter("polyglot.shm.resets", "Forced resets of the shared buffer.", "{reset}"),
	}
}

func tracerOrNoop(t trace.Tracer) trace.Tracer {
	if t == nil {
		return nooptrace.NewTracerProvider().Tracer(instrumentationName)
	}
	return t
}

func opAttr(op Operation) metric.AddOption {
	return metric.WithAttributes(attribute.String("operation", op.String()))
}
