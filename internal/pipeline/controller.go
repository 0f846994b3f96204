package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dorohq/doro/internal/domain"
)

// Pipeline composes the five layers. Construction is explicit
// dependency injection; the pipeline holds no mutable state and one
// instance serves all senders concurrently.
type Pipeline struct {
	analyzer  *Analyzer
	gatherer  *Gatherer
	planner   *Planner
	generator *Generator
	validator *Validator
	tracer    trace.Tracer
	logger    *slog.Logger
}

func New(analyzer *Analyzer, gatherer *Gatherer, planner *Planner, generator *Generator, validator *Validator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		analyzer:  analyzer,
		gatherer:  gatherer,
		planner:   planner,
		generator: generator,
		validator: validator,
		tracer:    otel.Tracer("github.com/dorohq/doro/internal/pipeline"),
		logger:    logger,
	}
}

// Outcome bundles the final response with the intermediate reads the
// orchestrator persists (lead state, strategy audit trail).
type Outcome struct {
	Response   domain.FinalResponse
	Psychology domain.PsychologyResult
	Strategy   domain.StrategyResult
}

// Process runs one batch through all five layers and always produces
// a FinalResponse: stage failures degrade to fallbacks, they never
// abort the run.
func (p *Pipeline) Process(ctx context.Context, in Input) Outcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("batch_id", in.Batch.ID),
			attribute.Int("batch_size", len(in.Batch.Messages)),
		))
	defer span.End()

	// Layers 1 and 2 are independent reads of the same batch; fan out.
	var (
		psych domain.PsychologyResult
		intel domain.IntelligenceResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		psych = runStage(gctx, p.tracer, p.logger, domain.StagePsychology,
			domain.FallbackPsychology,
			func(ctx context.Context) (domain.PsychologyResult, error) {
				return p.analyzer.Run(ctx, in)
			})
		return nil
	})
	g.Go(func() error {
		intel = runStage(gctx, p.tracer, p.logger, domain.StageIntelligence,
			domain.FallbackIntelligence,
			func(ctx context.Context) (domain.IntelligenceResult, error) {
				return p.gatherer.Run(ctx, in)
			})
		return nil
	})
	// Stage goroutines recover internally, so the only error surface
	// is context cancellation, which the stages observe themselves.
	_ = g.Wait()

	strategy := runStage(ctx, p.tracer, p.logger, domain.StageStrategy,
		func() domain.StrategyResult { return p.planner.Fallback(psych) },
		func(ctx context.Context) (domain.StrategyResult, error) {
			return p.planner.Run(ctx, in, psych, intel)
		})

	content := runStage(ctx, p.tracer, p.logger, domain.StageContent,
		domain.FallbackContent,
		func(ctx context.Context) (domain.ContentResult, error) {
			return p.generator.Run(ctx, in, psych, intel, strategy)
		})

	synthesis := runStage(ctx, p.tracer, p.logger, domain.StageSynthesis,
		func() domain.SynthesisResult { return domain.FallbackSynthesis(content) },
		func(ctx context.Context) (domain.SynthesisResult, error) {
			return p.validator.Run(ctx, in, psych, intel, strategy, content)
		})

	return Outcome{
		Response: domain.FinalResponse{
			BatchID:            in.Batch.ID,
			SenderID:           in.Batch.SenderID,
			Text:               synthesis.Text,
			QualityScore:       synthesis.QualityScore,
			AppointmentIntent:  synthesis.AppointmentIntent,
			ConsultantBriefing: synthesis.ConsultantBriefing,
			Degraded:           content.Degraded || synthesis.Degraded,
			CreatedAt:          time.Now(),
		},
		Psychology: psych,
		Strategy:   strategy,
	}
}

// runStage is the uniform fallback combinator: it executes one stage,
// logs and traces the outcome, and substitutes the stage's static
// fallback on any failure.
func runStage[T any](ctx context.Context, tracer trace.Tracer, logger *slog.Logger, stage domain.Stage, fallback func() T, fn func(context.Context) (T, error)) T {
	ctx, span := tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	if err != nil {
		span.SetAttributes(
			attribute.Bool("fallback", true),
			attribute.String("failure_type", string(domain.FailureTypeOf(err))),
		)
		logger.WarnContext(ctx, "stage failed, substituting fallback",
			slog.String("stage", string(stage)),
			slog.String("failure_type", string(domain.FailureTypeOf(err))),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return fallback()
	}

	span.SetAttributes(attribute.Bool("fallback", false))
	return result
}
