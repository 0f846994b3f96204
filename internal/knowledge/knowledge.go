// Package knowledge retrieves grounding data for the intelligence
// layer: property candidates from the listing store and market
// corroboration from an external web-search service.
package knowledge

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/dorohq/doro/internal/domain"
)

// Criteria filters property lookups. Zero values mean "any".
type Criteria struct {
	District    string
	Bedrooms    int
	MaxPriceSGD int64
	Keywords    []string
}

// Retriever is the knowledge port consumed by the intelligence layer.
type Retriever interface {
	FindProperties(ctx context.Context, c Criteria) ([]domain.Property, error)
	FactCheck(ctx context.Context, p domain.Property) (domain.FactCheckResult, error)
	MarketSearch(ctx context.Context, query string) ([]string, error)
}

var (
	districtPattern = regexp.MustCompile(`(?i)\b(?:d(\d{1,2})|district\s+(\d{1,2}))\b`)
	bedroomPattern  = regexp.MustCompile(`(?i)\b(\d)\s*(?:br|bed|bedder|bedroom)s?\b`)
	budgetPattern   = regexp.MustCompile(`(?i)\b\$?\s*(\d+(?:\.\d+)?)\s*(k|m|mil|million)\b`)
)

// ParseCriteria extracts structured search criteria from free-form
// message text. Deterministic, used before any model call.
func ParseCriteria(text string) Criteria {
	var c Criteria

	if m := districtPattern.FindStringSubmatch(text); m != nil {
		num := m[1]
		if num == "" {
			num = m[2]
		}
		c.District = "D" + strings.TrimLeft(num, "0")
		if c.District == "D" {
			c.District = ""
		}
	}

	if m := bedroomPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			c.Bedrooms = n
		}
	}

	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			switch strings.ToLower(m[2]) {
			case "k":
				c.MaxPriceSGD = int64(amount * 1_000)
			default:
				c.MaxPriceSGD = int64(amount * 1_000_000)
			}
		}
	}

	for _, kw := range []string{"condo", "landed", "hdb", "penthouse", "freehold", "leasehold", "new launch", "resale"} {
		if strings.Contains(strings.ToLower(text), kw) {
			c.Keywords = append(c.Keywords, kw)
		}
	}

	return c
}

// IsEmpty reports whether the criteria carry no usable filter.
func (c Criteria) IsEmpty() bool {
	return c.District == "" && c.Bedrooms == 0 && c.MaxPriceSGD == 0 && len(c.Keywords) == 0
}
