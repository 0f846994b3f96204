package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dorohq/doro/internal/domain"
)

// Ledger persists usage records into a SQL table so the external cost
// accounting job can read them. Works against sqlite and postgres.
type Ledger struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	logger  *slog.Logger
}

func NewLedger(db *sql.DB, dialect string, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{db: db, dialect: dialect, logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("init usage schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS llm_usage (
		id INTEGER PRIMARY KEY ` + l.autoincrement() + `,
		operation TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		estimated INTEGER NOT NULL DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (l *Ledger) autoincrement() string {
	if l.dialect == "postgres" {
		return "GENERATED ALWAYS AS IDENTITY"
	}
	return "AUTOINCREMENT"
}

func (l *Ledger) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if l.dialect == "postgres" {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (l *Ledger) Record(ctx context.Context, rec domain.UsageRecord) {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	ph := l.placeholders(6)
	query := fmt.Sprintf(`INSERT INTO llm_usage
		(operation, model, input_tokens, output_tokens, estimated, recorded_at)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		ph[0], ph[1], ph[2], ph[3], ph[4], ph[5])

	estimated := 0
	if rec.Estimated {
		estimated = 1
	}
	if _, err := l.db.ExecContext(ctx, query,
		rec.Operation, rec.Model, rec.InputTokens, rec.OutputTokens, estimated, at); err != nil {
		l.logger.WarnContext(ctx, "usage ledger write failed", slog.String("error", err.Error()))
	}
}
