package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/domain"
)

// Searcher is the web-search dependency of the service.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Lister is the property-store dependency of the service.
type Lister interface {
	Find(ctx context.Context, c Criteria) ([]domain.Property, error)
	FloorPlans(ctx context.Context, propertyID string) ([]domain.FloorPlanRef, error)
}

// Service implements Retriever over a property store and a web-search
// client. Search failures degrade to store-only answers.
type Service struct {
	store  Lister
	search Searcher
	logger *slog.Logger
}

var _ Retriever = (*Service)(nil)

func NewService(store Lister, search Searcher, logger *slog.Logger) *Service {
	return &Service{store: store, search: search, logger: logger}
}

func (s *Service) FindProperties(ctx context.Context, c Criteria) ([]domain.Property, error) {
	return s.store.Find(ctx, c)
}

// FactCheck scores how confidently a listing can be quoted. Verified
// listings start high; external corroboration adds the rest.
func (s *Service) FactCheck(ctx context.Context, p domain.Property) (domain.FactCheckResult, error) {
	confidence := 0.5
	if p.Verified {
		confidence = 0.8
	}

	if s.search != nil {
		query := fmt.Sprintf("%s %s price", p.Name, p.District)
		snippets, err := s.search.Search(ctx, query)
		if err != nil {
			s.logger.WarnContext(ctx, "fact-check search unavailable",
				slog.String("property", p.ID),
				slog.String("error", err.Error()))
		} else {
			name := strings.ToLower(p.Name)
			for _, snippet := range snippets {
				if strings.Contains(strings.ToLower(snippet), name) {
					confidence += 0.2
					break
				}
			}
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	return domain.FactCheckResult{Confidence: confidence}, nil
}

func (s *Service) MarketSearch(ctx context.Context, query string) ([]string, error) {
	if s.search == nil {
		return nil, nil
	}
	return s.search.Search(ctx, query)
}

// FloorPlans exposes the store's floor-plan lookup to the pipeline.
func (s *Service) FloorPlans(ctx context.Context, propertyID string) ([]domain.FloorPlanRef, error) {
	return s.store.FloorPlans(ctx, propertyID)
}
