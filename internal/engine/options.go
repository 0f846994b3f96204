package engine

import (
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/delivery"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
	"github.com/dorohq/doro/internal/pipeline"
	"github.com/dorohq/doro/internal/storage"
	"github.com/dorohq/doro/internal/storage/memory"
	"github.com/dorohq/doro/internal/storage/sqldb"
	"github.com/dorohq/doro/internal/usage"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithConfigFile loads configuration from a YAML file plus DORO_*
// environment overrides (default when no config option is given).
func WithConfigFile(path string) Option {
	return func(e *Engine) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		e.cfg = cfg
		return nil
	}
}

// WithConfig injects an already-built configuration, used by tests.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		e.cfg = cfg
		return nil
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMemoryStorage keeps all state in process memory. Conversations
// vanish on restart; meant for development and tests.
func WithMemoryStorage() Option {
	return func(e *Engine) error {
		e.store = memory.New()
		return nil
	}
}

// WithSQLite stores conversations, leads, and usage in a SQLite file
// (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(e *Engine) error {
		store, err := sqldb.Open("sqlite", path, sqldb.DialectSQLite)
		if err != nil {
			return fmt.Errorf("open sqlite storage: %w", err)
		}
		e.store = store
		e.sqlStore = store
		return nil
	}
}

// WithPostgres stores conversations, leads, and usage in PostgreSQL.
func WithPostgres(dsn string) Option {
	return func(e *Engine) error {
		store, err := sqldb.Open("postgres", dsn, sqldb.DialectPostgres)
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		e.store = store
		e.sqlStore = store
		return nil
	}
}

// WithStore injects a prebuilt persistence layer.
func WithStore(store storage.Store) Option {
	return func(e *Engine) error {
		e.store = store
		return nil
	}
}

// WithDelivery replaces the Gupshup sender, used by tests and
// alternative WhatsApp providers.
func WithDelivery(sender delivery.Sender) Option {
	return func(e *Engine) error {
		e.sender = sender
		return nil
	}
}

// WithLLMClient replaces the OpenAI-backed model client.
func WithLLMClient(client llm.Client) Option {
	return func(e *Engine) error {
		e.llm = client
		return nil
	}
}

// WithRetriever replaces the property-store-backed knowledge source.
func WithRetriever(source pipeline.KnowledgeSource) Option {
	return func(e *Engine) error {
		e.retriever = source
		return nil
	}
}

// WithMeter replaces the default usage metering fanout.
func WithMeter(meter usage.Meter) Option {
	return func(e *Engine) error {
		e.meter = meter
		return nil
	}
}

// WithSeedProperties loads listings into the property store on start.
func WithSeedProperties(props []domain.Property) Option {
	return func(e *Engine) error {
		e.seed = props
		return nil
	}
}
