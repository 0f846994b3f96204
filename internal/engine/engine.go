// Package engine assembles the full Doro stack: storage, the model
// client, knowledge retrieval, the five-layer pipeline, the batch
// orchestrator, the response synthesizer, and the HTTP surface. It can
// run standalone via cmd/doro or be embedded in a larger application.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/delivery"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/knowledge"
	"github.com/dorohq/doro/internal/llm"
	"github.com/dorohq/doro/internal/orchestrator"
	"github.com/dorohq/doro/internal/pipeline"
	"github.com/dorohq/doro/internal/server"
	"github.com/dorohq/doro/internal/storage"
	"github.com/dorohq/doro/internal/storage/sqldb"
	"github.com/dorohq/doro/internal/synthesizer"
	"github.com/dorohq/doro/internal/usage"
)

type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store     storage.Store
	sqlStore  *sqldb.Store
	meter     usage.Meter
	llm       llm.Client
	retriever pipeline.KnowledgeSource
	sender    delivery.Sender
	seed      []domain.Property

	orch *orchestrator.Orchestrator
	srv  *server.Server

	mu      sync.Mutex
	started bool
	srvErr  chan error
}

// New builds an Engine from options. Anything not injected is
// constructed from configuration with production defaults.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if e.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		e.cfg = cfg
	}

	if e.store == nil {
		if err := e.storageFromConfig(); err != nil {
			return nil, err
		}
	}
	if e.meter == nil {
		if err := e.buildMeter(); err != nil {
			return nil, err
		}
	}
	if e.llm == nil {
		if e.cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai.api_key required (or inject a client with WithLLMClient)")
		}
		e.llm = llm.NewOpenAIClient(e.cfg.OpenAI.APIKey, e.cfg.OpenAI.Model, "", e.logger,
			llm.WithMeter(e.meter),
			llm.WithTimeout(e.cfg.OpenAI.CallTimeout()),
			llm.WithMaxRetries(e.cfg.OpenAI.MaxRetries),
		)
	}
	if e.retriever == nil {
		if err := e.buildRetriever(); err != nil {
			return nil, err
		}
	}
	if e.sender == nil {
		if e.cfg.WhatsApp.BaseURL == "" {
			return nil, fmt.Errorf("whatsapp.base_url required (or inject a sender with WithDelivery)")
		}
		e.sender = delivery.NewGupshup(e.cfg.WhatsApp)
	}

	persona := e.cfg.Pipeline.Persona
	if persona == "" {
		persona = "Doro"
	}

	pipe := pipeline.New(
		pipeline.NewAnalyzer(e.llm, e.logger),
		pipeline.NewGatherer(e.retriever, e.logger),
		pipeline.NewPlanner(e.llm, e.cfg.Alignment, e.logger),
		pipeline.NewGenerator(e.llm, persona, e.logger),
		pipeline.NewValidator(e.llm, persona, e.logger),
		e.logger,
	)
	norm := synthesizer.New(e.llm, persona, e.cfg.Synthesizer, e.logger)

	e.orch = orchestrator.New(e.cfg.Orchestrator, e.store, pipe, norm, e.sender, e.logger)
	e.srv = server.New(e.cfg.Server.Port, e.orch, e.logger)
	e.srvErr = make(chan error, 1)

	return e, nil
}

func (e *Engine) storageFromConfig() error {
	switch e.cfg.Storage.Type {
	case "", "memory":
		return WithMemoryStorage()(e)
	case "sqlite":
		return WithSQLite(e.cfg.Storage.SQLite.Path)(e)
	case "postgres":
		return WithPostgres(e.cfg.Storage.Postgres.DSN)(e)
	default:
		return fmt.Errorf("unknown storage type %q", e.cfg.Storage.Type)
	}
}

// buildMeter fans usage records out to logs, OpenTelemetry counters,
// and (when SQL storage is configured) the usage ledger.
func (e *Engine) buildMeter() error {
	meters := usage.Fanout{usage.NewSlogMeter(e.logger)}

	otelMeter, err := usage.NewOTelMeter()
	if err != nil {
		return fmt.Errorf("create otel meter: %w", err)
	}
	meters = append(meters, otelMeter)

	if e.sqlStore != nil {
		ledger, err := usage.NewLedger(e.sqlStore.DB(), string(e.sqlStore.Dialect()), e.logger)
		if err != nil {
			return fmt.Errorf("create usage ledger: %w", err)
		}
		meters = append(meters, ledger)
	}

	e.meter = meters
	return nil
}

// buildRetriever backs knowledge retrieval with the shared SQL pool,
// or a private in-memory SQLite database when storage is in-memory.
func (e *Engine) buildRetriever() error {
	var db *sqldb.Store
	if e.sqlStore != nil {
		db = e.sqlStore
	} else {
		mem, err := sqldb.Open("sqlite", "file::memory:?cache=shared", sqldb.DialectSQLite)
		if err != nil {
			return fmt.Errorf("open in-memory property store: %w", err)
		}
		db = mem
	}

	props, err := knowledge.NewPropertyStore(db.DB(), db.Dialect())
	if err != nil {
		return fmt.Errorf("create property store: %w", err)
	}

	var search knowledge.Searcher
	if e.cfg.Knowledge.SearchBaseURL != "" {
		search = knowledge.NewSearchClient(e.cfg.Knowledge.SearchBaseURL, e.cfg.Knowledge.SearchAPIKey)
	}

	if len(e.seed) > 0 {
		if err := props.Seed(context.Background(), e.seed); err != nil {
			return fmt.Errorf("seed properties: %w", err)
		}
	}

	e.retriever = knowledge.NewService(props, search, e.logger)
	return nil
}

// Start begins serving the webhook. It returns once the listener is
// launched; fatal server errors surface on Err.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	go func() {
		e.srvErr <- e.srv.Start()
	}()

	e.logger.InfoContext(ctx, "engine started",
		slog.Int("port", e.cfg.Server.Port),
		slog.String("storage", e.cfg.Storage.Type),
		slog.String("model", e.cfg.OpenAI.Model))
	return nil
}

// Err reports a fatal server error, if any.
func (e *Engine) Err() <-chan error { return e.srvErr }

// Orchestrator exposes the message entry point for embedders that
// bypass the HTTP webhook.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }

// Shutdown drains in-flight batches and closes everything.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine shutting down")

	var firstErr error
	if err := e.srv.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := e.orch.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
