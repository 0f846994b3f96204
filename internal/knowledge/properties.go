package knowledge

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/storage/sqldb"
)

// PropertyStore answers property lookups from the listings table.
type PropertyStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
}

// NewPropertyStore ensures the listings schema and returns the store.
// The handle is shared with the main Store.
func NewPropertyStore(db *sql.DB, dialect sqldb.Dialect) (*PropertyStore, error) {
	s := &PropertyStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init properties schema: %w", err)
	}
	return s, nil
}

func (s *PropertyStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			district TEXT NOT NULL,
			bedrooms INTEGER NOT NULL,
			price_sgd BIGINT NOT NULL,
			size_sqft INTEGER NOT NULL,
			tenure TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_district ON properties(district, bedrooms)`,
		`CREATE TABLE IF NOT EXISTS floor_plans (
			property_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PropertyStore) ph(n int) string {
	if s.dialect == sqldb.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Find returns listings matching the criteria, cheapest first, at most
// five candidates.
func (s *PropertyStore) Find(ctx context.Context, c Criteria) ([]domain.Property, error) {
	query := `SELECT id, name, district, bedrooms, price_sgd, size_sqft, tenure, verified FROM properties WHERE 1=1`
	var args []any
	n := 0

	if c.District != "" {
		n++
		query += fmt.Sprintf(" AND district = %s", s.ph(n))
		args = append(args, c.District)
	}
	if c.Bedrooms > 0 {
		n++
		query += fmt.Sprintf(" AND bedrooms = %s", s.ph(n))
		args = append(args, c.Bedrooms)
	}
	if c.MaxPriceSGD > 0 {
		n++
		query += fmt.Sprintf(" AND price_sgd <= %s", s.ph(n))
		args = append(args, c.MaxPriceSGD)
	}
	query += " ORDER BY price_sgd ASC LIMIT 5"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		var p domain.Property
		var verified int
		if err := rows.Scan(&p.ID, &p.Name, &p.District, &p.Bedrooms, &p.PriceSGD, &p.SizeSqft, &p.Tenure, &verified); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		p.Verified = verified != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// FloorPlans returns the floor-plan assets attached to a property.
func (s *PropertyStore) FloorPlans(ctx context.Context, propertyID string) ([]domain.FloorPlanRef, error) {
	query := fmt.Sprintf(`SELECT property_id, name, url FROM floor_plans WHERE property_id = %s`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("query floor plans: %w", err)
	}
	defer rows.Close()

	var out []domain.FloorPlanRef
	for rows.Next() {
		var fp domain.FloorPlanRef
		if err := rows.Scan(&fp.PropertyID, &fp.Name, &fp.URL); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// Seed inserts listings, used by tests and local bootstrap.
func (s *PropertyStore) Seed(ctx context.Context, props []domain.Property) error {
	for _, p := range props {
		verified := 0
		if p.Verified {
			verified = 1
		}
		query := fmt.Sprintf(`INSERT INTO properties
			(id, name, district, bedrooms, price_sgd, size_sqft, tenure, verified)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
		if _, err := s.db.ExecContext(ctx, query,
			p.ID, p.Name, p.District, p.Bedrooms, p.PriceSGD, p.SizeSqft, p.Tenure, verified); err != nil {
			return fmt.Errorf("seed property %s: %w", p.ID, err)
		}
	}
	return nil
}
