// Package usage emits per-LLM-call usage records for external cost
// accounting. Metering is fire-and-forget: a failing sink logs and
// never blocks the pipeline.
package usage

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dorohq/doro/internal/domain"
)

// Meter receives one record per LLM call.
type Meter interface {
	Record(ctx context.Context, rec domain.UsageRecord)
}

// SlogMeter writes usage records to the structured log.
type SlogMeter struct {
	logger *slog.Logger
}

func NewSlogMeter(logger *slog.Logger) *SlogMeter {
	return &SlogMeter{logger: logger}
}

func (m *SlogMeter) Record(ctx context.Context, rec domain.UsageRecord) {
	m.logger.InfoContext(ctx, "llm usage",
		slog.String("operation", rec.Operation),
		slog.String("model", rec.Model),
		slog.Int("input_tokens", rec.InputTokens),
		slog.Int("output_tokens", rec.OutputTokens),
		slog.Bool("estimated", rec.Estimated),
	)
}

// OTelMeter exports usage as OpenTelemetry counters.
type OTelMeter struct {
	calls        metric.Int64Counter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
}

func NewOTelMeter() (*OTelMeter, error) {
	meter := otel.Meter("github.com/dorohq/doro/internal/usage")

	calls, err := meter.Int64Counter("doro.llm.calls",
		metric.WithDescription("LLM completion calls"))
	if err != nil {
		return nil, err
	}
	in, err := meter.Int64Counter("doro.llm.input_tokens",
		metric.WithDescription("LLM input tokens"))
	if err != nil {
		return nil, err
	}
	out, err := meter.Int64Counter("doro.llm.output_tokens",
		metric.WithDescription("LLM output tokens"))
	if err != nil {
		return nil, err
	}

	return &OTelMeter{calls: calls, inputTokens: in, outputTokens: out}, nil
}

func (m *OTelMeter) Record(ctx context.Context, rec domain.UsageRecord) {
	attrs := metric.WithAttributes(
		attribute.String("operation", rec.Operation),
		attribute.String("model", rec.Model),
	)
	m.calls.Add(ctx, 1, attrs)
	m.inputTokens.Add(ctx, int64(rec.InputTokens), attrs)
	m.outputTokens.Add(ctx, int64(rec.OutputTokens), attrs)
}

// Fanout dispatches each record to every underlying meter.
type Fanout []Meter

func (f Fanout) Record(ctx context.Context, rec domain.UsageRecord) {
	for _, m := range f {
		m.Record(ctx, rec)
	}
}

// Nop discards all records.
type Nop struct{}

func (Nop) Record(context.Context, domain.UsageRecord) {}
