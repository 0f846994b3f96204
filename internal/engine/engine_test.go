package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/delivery"
	"github.com/dorohq/doro/internal/llm"
)

type failingLLM struct{}

func (failingLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, errors.New("model unavailable")
}

type collectSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *collectSender) Send(ctx context.Context, recipientID, text string) (delivery.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return delivery.Result{Status: "submitted"}, nil
}

func (c *collectSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *collectSender) first() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[0]
}

func testEngineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Storage.Type = "memory"
	cfg.Orchestrator.DebounceWindow = "20ms"
	cfg.Orchestrator.DuplicateWindow = "200ms"
	cfg.Orchestrator.BurstWindow = "200ms"
	cfg.Orchestrator.MaxBurst = 10
	cfg.Orchestrator.HistoryLimit = 20
	cfg.Synthesizer.MinLength = 1
	cfg.Synthesizer.MaxLength = 1000
	cfg.Alignment.Threshold = 0.6
	cfg.Alignment.ReadinessWeight = 0.3
	cfg.Alignment.ResistanceWeight = 0.2
	cfg.Alignment.UrgencyWeight = 0.2
	cfg.Alignment.GoalWeight = 0.2
	cfg.Alignment.HighResistancePenalty = 0.3
	return cfg
}

// End to end through the assembled stack: even with the model hard
// down, an inbound message still produces an outbound reply.
func TestEngine_DegradedEndToEnd(t *testing.T) {
	sender := &collectSender{}
	e, err := New(
		WithConfig(testEngineConfig()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMemoryStorage(),
		WithLLMClient(failingLLM{}),
		WithDelivery(sender),
	)
	if err != nil {
		t.Fatal(err)
	}

	orch := e.Orchestrator()
	if err := orch.ReceiveMessage(context.Background(), "6591234567", "Tan", "Hi, 2 bedroom in D15?", time.Now()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one delivered reply, got %d", sender.count())
	}
	if sender.first() == "" {
		t.Error("reply must be non-empty even when every model call fails")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_RequiresLLMWhenNoKey(t *testing.T) {
	cfg := testEngineConfig()
	_, err := New(
		WithConfig(cfg),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMemoryStorage(),
		WithDelivery(&collectSender{}),
	)
	if err == nil {
		t.Fatal("expected an error without an API key or injected client")
	}
}
