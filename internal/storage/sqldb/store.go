// Package sqldb is the SQL-backed Store. It speaks both sqlite
// (modernc.org/sqlite, embedded default) and postgres (lib/pq,
// production deploys).
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/storage"
)

// Dialect selects placeholder style and DDL variations.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database handle and ensures the schema exists.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Open opens a database by driver name and DSN, then wraps it.
func Open(driver, dsn string, dialect Dialect) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	store, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS leads (
			sender_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			urgency_score REAL NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS consultant_briefings (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			briefing TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// ph returns the placeholder for parameter n (1-based).
func (s *Store) ph(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	query := fmt.Sprintf(`INSERT INTO messages (id, sender_id, sender, content, created_at)
		VALUES (%s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, string(msg.Sender), msg.Text, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, senderID string, limit int) ([]domain.Message, error) {
	query := fmt.Sprintf(`SELECT id, sender_id, sender, content, created_at
		FROM messages WHERE sender_id = %s
		ORDER BY created_at DESC LIMIT %s`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, query, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender string
		if err := rows.Scan(&m.ID, &m.SenderID, &sender, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = domain.Sender(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) UpsertLead(ctx context.Context, profile domain.LeadProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}
	query := fmt.Sprintf(`INSERT INTO leads (sender_id, display_name, stage, urgency_score, intent, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (sender_id) DO UPDATE SET
			display_name = excluded.display_name,
			stage = excluded.stage,
			urgency_score = excluded.urgency_score,
			intent = excluded.intent,
			updated_at = excluded.updated_at`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.ExecContext(ctx, query,
		profile.SenderID, profile.DisplayName, string(profile.Stage),
		profile.UrgencyScore, profile.Intent, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

func (s *Store) GetLead(ctx context.Context, senderID string) (*domain.LeadProfile, error) {
	query := fmt.Sprintf(`SELECT sender_id, display_name, stage, urgency_score, intent, updated_at
		FROM leads WHERE sender_id = %s`, s.ph(1))
	var p domain.LeadProfile
	var stage string
	err := s.db.QueryRowContext(ctx, query, senderID).Scan(
		&p.SenderID, &p.DisplayName, &stage, &p.UrgencyScore, &p.Intent, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	p.Stage = domain.ConversationStage(stage)
	return &p, nil
}

func (s *Store) SaveBriefing(ctx context.Context, senderID, text string) error {
	query := fmt.Sprintf(`INSERT INTO consultant_briefings (id, sender_id, briefing, created_at)
		VALUES (%s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), senderID, text, time.Now())
	if err != nil {
		return fmt.Errorf("save briefing: %w", err)
	}
	return nil
}

// DB exposes the handle so sibling components (usage ledger, property
// store) can share one connection pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }
