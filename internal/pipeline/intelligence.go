package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/knowledge"
)

// KnowledgeSource is what layer 2 needs from the knowledge package.
type KnowledgeSource interface {
	knowledge.Retriever
	FloorPlans(ctx context.Context, propertyID string) ([]domain.FloorPlanRef, error)
}

// Gatherer is layer 2: it retrieves property candidates relevant to
// the batch, fact-checks them, and pulls market snippets. It runs
// concurrently with layer 1 and uses no model calls.
type Gatherer struct {
	source KnowledgeSource
	logger *slog.Logger
}

func NewGatherer(source KnowledgeSource, logger *slog.Logger) *Gatherer {
	return &Gatherer{source: source, logger: logger}
}

func (g *Gatherer) Run(ctx context.Context, in Input) (domain.IntelligenceResult, error) {
	criteria := knowledge.ParseCriteria(in.Batch.CombinedText())
	if criteria.IsEmpty() {
		// Nothing concrete to look up; a greeting or small talk.
		return domain.IntelligenceResult{}, nil
	}

	props, err := g.source.FindProperties(ctx, criteria)
	if err != nil {
		return domain.IntelligenceResult{}, domain.NewStageError(
			domain.StageIntelligence, domain.FailureProvider, err)
	}

	res := domain.IntelligenceResult{Properties: props}

	// Fact-check the top candidates; a partial check still counts.
	checked := 0
	total := 0.0
	for i, p := range props {
		if i >= 3 {
			break
		}
		fc, err := g.source.FactCheck(ctx, p)
		if err != nil {
			g.logger.WarnContext(ctx, "fact check failed",
				slog.String("property", p.ID),
				slog.String("error", err.Error()))
			continue
		}
		checked++
		total += fc.Confidence
	}
	if checked > 0 {
		res.FactCheckConfidence = total / float64(checked)
	}

	if len(props) > 0 {
		plans, err := g.source.FloorPlans(ctx, props[0].ID)
		if err != nil {
			g.logger.WarnContext(ctx, "floor plan lookup failed",
				slog.String("property", props[0].ID),
				slog.String("error", err.Error()))
		} else {
			res.FloorPlans = plans
		}

		query := fmt.Sprintf("%s %s market outlook", props[0].District, props[0].Name)
		snippets, err := g.source.MarketSearch(ctx, query)
		if err != nil {
			g.logger.WarnContext(ctx, "market search failed", slog.String("error", err.Error()))
		} else {
			res.MarketSnippets = snippets
		}
	}

	return res, nil
}
