package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/delivery"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/pipeline"
	"github.com/dorohq/doro/internal/storage/memory"
)

// fakeProcessor records every pipeline input and can block or panic
// on demand.
type fakeProcessor struct {
	mu         sync.Mutex
	inputs     []pipeline.Input
	block      chan struct{} // when set, Process waits for a signal
	panicCount atomic.Int32  // panics while > 0, decrementing each call

	running    atomic.Int32
	maxRunning atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, in pipeline.Input) pipeline.Outcome {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		prev := f.maxRunning.Load()
		if n <= prev || f.maxRunning.CompareAndSwap(prev, n) {
			break
		}
	}

	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panicCount.Load() > 0 {
		f.panicCount.Add(-1)
		panic("pipeline exploded")
	}

	return pipeline.Outcome{Response: domain.FinalResponse{
		BatchID:  in.Batch.ID,
		SenderID: in.Batch.SenderID,
		Text:     "reply to: " + in.Batch.CombinedText(),
	}}
}

func (f *fakeProcessor) recorded() []pipeline.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.Input, len(f.inputs))
	copy(out, f.inputs)
	return out
}

type sentMessage struct {
	recipient string
	text      string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) Send(ctx context.Context, recipientID, text string) (delivery.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{recipient: recipientID, text: text})
	return delivery.Result{MessageID: "m", Status: "submitted"}, nil
}

func (s *recordingSender) all() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func testOrchestratorConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		DebounceWindow:  "20ms",
		DuplicateWindow: "200ms",
		BurstWindow:     "200ms",
		MaxBurst:        5,
		HistoryLimit:    20,
	}
}

func newTestOrchestrator(proc *fakeProcessor, sender *recordingSender, cfg config.OrchestratorConfig) *Orchestrator {
	return New(cfg, memory.New(), proc, nil, sender, slog.New(slog.DiscardHandler))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBatchIntegrity(t *testing.T) {
	proc := &fakeProcessor{}
	sender := &recordingSender{}
	o := newTestOrchestrator(proc, sender, testOrchestratorConfig())
	defer o.Shutdown(context.Background())

	ctx := context.Background()
	texts := []string{"Hi", "I saw your ad", "what's the price for a 2 bedroom in D15?"}
	base := time.Now()
	for i, text := range texts {
		if err := o.ReceiveMessage(ctx, "sender-1", "Tan", text, base.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return o.BatchesDispatched() == 1 })

	inputs := proc.recorded()
	if len(inputs) != 1 {
		t.Fatalf("expected exactly one pipeline invocation, got %d", len(inputs))
	}
	batch := inputs[0].Batch
	if len(batch.Messages) != len(texts) {
		t.Fatalf("expected all %d messages in one batch, got %d", len(texts), len(batch.Messages))
	}
	for i, m := range batch.Messages {
		if m.Text != texts[i] {
			t.Errorf("message %d out of order: %q", i, m.Text)
		}
	}
	if sent := sender.all(); len(sent) != 1 || sent[0].recipient != "sender-1" {
		t.Errorf("expected one delivery to sender-1, got %v", sent)
	}
}

func TestPerSenderExclusivity(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	sender := &recordingSender{}
	o := newTestOrchestrator(proc, sender, testOrchestratorConfig())
	defer o.Shutdown(context.Background())

	ctx := context.Background()
	if err := o.ReceiveMessage(ctx, "sender-1", "", "first batch", time.Now()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return proc.running.Load() == 1 })

	// Arrives while the first batch is in flight: must queue, never
	// merge into the dispatched batch.
	if err := o.ReceiveMessage(ctx, "sender-1", "", "second batch", time.Now()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(proc.recorded()); got != 1 {
		t.Fatalf("second batch started while first still in flight (%d invocations)", got)
	}

	close(proc.block)
	waitFor(t, 2*time.Second, func() bool { return o.BatchesDispatched() == 2 })

	inputs := proc.recorded()
	if len(inputs) != 2 {
		t.Fatalf("expected two pipeline invocations, got %d", len(inputs))
	}
	if inputs[0].Batch.Messages[0].Text != "first batch" || inputs[1].Batch.Messages[0].Text != "second batch" {
		t.Error("batches out of order")
	}
	if proc.maxRunning.Load() != 1 {
		t.Errorf("pipeline runs for one sender overlapped (max concurrent %d)", proc.maxRunning.Load())
	}
}

func TestDifferentSendersRunConcurrently(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	sender := &recordingSender{}
	o := newTestOrchestrator(proc, sender, testOrchestratorConfig())
	defer o.Shutdown(context.Background())

	ctx := context.Background()
	o.ReceiveMessage(ctx, "sender-1", "", "hello from one", time.Now())
	o.ReceiveMessage(ctx, "sender-2", "", "hello from two", time.Now())

	waitFor(t, 2*time.Second, func() bool { return proc.running.Load() == 2 })
	close(proc.block)
	waitFor(t, 2*time.Second, func() bool { return o.BatchesDispatched() == 2 })
}

func TestSpamPrevention(t *testing.T) {
	proc := &fakeProcessor{}
	sender := &recordingSender{}
	cfg := testOrchestratorConfig()
	cfg.MaxBurst = 3
	o := newTestOrchestrator(proc, sender, cfg)
	defer o.Shutdown(context.Background())

	ctx := context.Background()
	now := time.Now()

	// Exact duplicate within the window.
	o.ReceiveMessage(ctx, "sender-1", "", "hello", now)
	o.ReceiveMessage(ctx, "sender-1", "", "  HELLO ", now.Add(time.Millisecond))
	if o.SpamPrevented() != 1 {
		t.Fatalf("duplicate not counted, spam=%d", o.SpamPrevented())
	}

	// Burst: the cap counts accepted messages in the window.
	o.ReceiveMessage(ctx, "sender-1", "", "msg two", now.Add(2*time.Millisecond))
	o.ReceiveMessage(ctx, "sender-1", "", "msg three", now.Add(3*time.Millisecond))
	o.ReceiveMessage(ctx, "sender-1", "", "msg four", now.Add(4*time.Millisecond))
	if o.SpamPrevented() != 2 {
		t.Fatalf("burst not counted, spam=%d", o.SpamPrevented())
	}

	waitFor(t, 2*time.Second, func() bool { return o.BatchesDispatched() == 1 })
	inputs := proc.recorded()
	if len(inputs) != 1 || len(inputs[0].Batch.Messages) != 3 {
		t.Fatalf("expected one batch of 3 accepted messages, got %+v", inputs)
	}
}

func TestPanicFallsBackToSingleMessage(t *testing.T) {
	proc := &fakeProcessor{}
	proc.panicCount.Store(1) // first invocation (the batch) panics
	sender := &recordingSender{}
	o := newTestOrchestrator(proc, sender, testOrchestratorConfig())
	defer o.Shutdown(context.Background())

	ctx := context.Background()
	o.ReceiveMessage(ctx, "sender-1", "", "first", time.Now())
	o.ReceiveMessage(ctx, "sender-1", "", "second", time.Now().Add(time.Millisecond))

	waitFor(t, 2*time.Second, func() bool { return o.Fallbacks() == 1 && len(sender.all()) == 1 })

	inputs := proc.recorded()
	if len(inputs) != 2 {
		t.Fatalf("expected batch attempt plus single-message retry, got %d", len(inputs))
	}
	retry := inputs[1].Batch
	if len(retry.Messages) != 1 || retry.Messages[0].Text != "second" {
		t.Errorf("retry should carry only the most recent message, got %+v", retry.Messages)
	}
	if sent := sender.all(); sent[0].text == "" {
		t.Error("fallback must still deliver a non-empty reply")
	}
}

func TestTotalFailureStillReplies(t *testing.T) {
	proc := &fakeProcessor{}
	proc.panicCount.Store(2) // batch and single-message retry both panic
	sender := &recordingSender{}
	o := newTestOrchestrator(proc, sender, testOrchestratorConfig())
	defer o.Shutdown(context.Background())

	o.ReceiveMessage(context.Background(), "sender-1", "", "hello", time.Now())

	waitFor(t, 2*time.Second, func() bool { return len(sender.all()) == 1 })
	if text := sender.all()[0].text; strings.TrimSpace(text) == "" {
		t.Error("even total pipeline failure must produce a reply")
	}
}

func TestLeadStatePersisted(t *testing.T) {
	proc := &fakeProcessor{}
	sender := &recordingSender{}
	store := memory.New()
	o := New(testOrchestratorConfig(), store, proc, nil, sender, slog.New(slog.DiscardHandler))
	defer o.Shutdown(context.Background())

	o.ReceiveMessage(context.Background(), "sender-1", "Tan", "hello there doro", time.Now())
	waitFor(t, 2*time.Second, func() bool { return o.BatchesDispatched() == 1 })

	waitFor(t, time.Second, func() bool {
		lead, err := store.GetLead(context.Background(), "sender-1")
		return err == nil && lead.DisplayName == "Tan"
	})

	history, err := store.History(context.Background(), "sender-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected inbound + outbound stored, got %d", len(history))
	}
	if history[0].Sender != domain.SenderLead || history[1].Sender != domain.SenderBot {
		t.Errorf("unexpected history roles: %s, %s", history[0].Sender, history[1].Sender)
	}
}
