package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	maskOperationCounter  metric.Int64Counter
	placeholderCounter    metric.Int64Counter
	streamFlushCounter    metric.Int64Counter
	detectorFanoutCounter metric.Int64Counter
	detectorLatencyHist   metric.Float64Histogram
)

// MaskMetrics captures the fields recorded for one masking operation.
type MaskMetrics struct {
	Direction    string // request or response
	Messages     int
	Placeholders int
}

// RecordMask emits counters describing one masking pass.
func RecordMask(ctx context.Context, m MaskMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mask.direction", m.Direction))
	maskOperationCounter.Add(ctx, 1, attrs)
	if m.Placeholders > 0 {
		placeholderCounter.Add(ctx, int64(m.Placeholders), attrs)
	}
}

// RecordStreamFlush counts end-of-stream buffer flushes.
func RecordStreamFlush(ctx context.Context) {
	if err := ensureMetrics(); err != nil {
		return
	}
	streamFlushCounter.Add(ctx, 1)
}

// RecordDetectorFanout captures one detector dispatch: how many windows the
// chunker issued and how long the fan-out took end to end.
func RecordDetectorFanout(ctx context.Context, windows int, duration time.Duration) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("detector.windows", windows))
	detectorFanoutCounter.Add(ctx, 1, attrs)
	if duration > 0 {
		detectorLatencyHist.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("veilproxy.mask")

		maskOperationCounter, metricsInitErr = meter.Int64Counter(
			"veilproxy.mask.operations_total",
			metric.WithDescription("Masking passes partitioned by direction"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		placeholderCounter, metricsInitErr = meter.Int64Counter(
			"veilproxy.mask.placeholders_total",
			metric.WithDescription("Placeholders allocated or reused during masking"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		streamFlushCounter, metricsInitErr = meter.Int64Counter(
			"veilproxy.unmask.stream_flushes_total",
			metric.WithDescription("Streaming unmask buffers flushed at end of stream"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		detectorFanoutCounter, metricsInitErr = meter.Int64Counter(
			"veilproxy.detector.dispatches_total",
			metric.WithDescription("Detector dispatches partitioned by window count"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		detectorLatencyHist, metricsInitErr = meter.Float64Histogram(
			"veilproxy.detector.duration_milliseconds",
			metric.WithDescription("End-to-end detector fan-out latency"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
