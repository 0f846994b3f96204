package usage

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dorohq/doro/internal/domain"
)

type captureMeter struct {
	records []domain.UsageRecord
}

func (c *captureMeter) Record(ctx context.Context, rec domain.UsageRecord) {
	c.records = append(c.records, rec)
}

func TestFanout(t *testing.T) {
	a := &captureMeter{}
	b := &captureMeter{}
	f := Fanout{a, b, Nop{}}

	f.Record(context.Background(), domain.UsageRecord{Operation: "psychology_analysis", InputTokens: 10})

	if len(a.records) != 1 || len(b.records) != 1 {
		t.Fatalf("fanout missed a sink: %d/%d", len(a.records), len(b.records))
	}
	if a.records[0].Operation != "psychology_analysis" {
		t.Errorf("unexpected record %+v", a.records[0])
	}
}

func TestLedger(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ledger, err := NewLedger(db, "sqlite", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ledger.Record(ctx, domain.UsageRecord{
		Operation:    "content_generation",
		Model:        "gpt-4o-mini",
		InputTokens:  420,
		OutputTokens: 180,
		Estimated:    true,
		At:           time.Now(),
	})
	ledger.Record(ctx, domain.UsageRecord{Operation: "strategy_planning", Model: "gpt-4o-mini"})

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM llm_usage`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var op string
	var in, estimated int
	row := db.QueryRow(`SELECT operation, input_tokens, estimated FROM llm_usage WHERE operation = 'content_generation'`)
	if err := row.Scan(&op, &in, &estimated); err != nil {
		t.Fatal(err)
	}
	if in != 420 || estimated != 1 {
		t.Errorf("unexpected row: tokens=%d estimated=%d", in, estimated)
	}
}
