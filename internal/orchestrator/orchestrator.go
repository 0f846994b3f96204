// Package orchestrator collapses bursts of inbound WhatsApp messages
// into per-sender batches and drives each batch through the pipeline
// exactly once. It owns the debounce timers and the per-sender
// in-flight locks; pipeline stages never touch either.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/delivery"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/pipeline"
	"github.com/dorohq/doro/internal/storage"
	"github.com/dorohq/doro/internal/synthesizer"
)

// Processor runs one batch through the reasoning pipeline.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) pipeline.Outcome
}

// Normalizer is the post-pipeline length/tone pass. It may be nil, in
// which case pipeline output is delivered as-is.
type Normalizer interface {
	Optimize(ctx context.Context, draft string, c synthesizer.Context) synthesizer.Result
}

// processTimeout bounds one batch end to end, including delivery.
const processTimeout = 90 * time.Second

const degradedReply = "Thanks for reaching out! Give me a moment to check that for you and I'll get right back to you."

type arrival struct {
	text string
	at   time.Time
}

// senderState is all mutable per-sender state. Guarded by
// Orchestrator.mu; the pipeline never sees it.
type senderState struct {
	pending     []domain.Message
	timer       *time.Timer
	inFlight    bool
	displayName string
	recent      []arrival
}

type Orchestrator struct {
	cfg    config.OrchestratorConfig
	store  storage.Store
	proc   Processor
	norm   Normalizer
	sender delivery.Sender
	logger *slog.Logger

	mu      sync.Mutex
	senders map[string]*senderState
	wg      sync.WaitGroup
	closed  bool

	spamPrevented     atomic.Int64
	batchesDispatched atomic.Int64
	fallbacks         atomic.Int64

	spamCounter     metric.Int64Counter
	dispatchCounter metric.Int64Counter
	fallbackCounter metric.Int64Counter
}

func New(cfg config.OrchestratorConfig, store storage.Store, proc Processor, norm Normalizer, sender delivery.Sender, logger *slog.Logger) *Orchestrator {
	meter := otel.Meter("github.com/dorohq/doro/internal/orchestrator")
	spam, _ := meter.Int64Counter("doro.orchestrator.spam_prevented")
	dispatched, _ := meter.Int64Counter("doro.orchestrator.batches_dispatched")
	fallbacks, _ := meter.Int64Counter("doro.orchestrator.fallbacks")

	return &Orchestrator{
		cfg:             cfg,
		store:           store,
		proc:            proc,
		norm:            norm,
		sender:          sender,
		logger:          logger,
		senders:         make(map[string]*senderState),
		spamCounter:     spam,
		dispatchCounter: dispatched,
		fallbackCounter: fallbacks,
	}
}

// ReceiveMessage is the engine's single entry point, invoked once per
// inbound WhatsApp message. The message joins the sender's pending
// batch and (re)starts the debounce timer; spam is dropped with a
// counted signal, never silently.
func (o *Orchestrator) ReceiveMessage(ctx context.Context, senderID, displayName, text string, ts time.Time) error {
	text = strings.TrimSpace(text)
	if senderID == "" || text == "" {
		return fmt.Errorf("orchestrator: empty sender or text")
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: shut down")
	}
	st := o.senders[senderID]
	if st == nil {
		st = &senderState{}
		o.senders[senderID] = st
	}
	if displayName != "" {
		st.displayName = displayName
	}

	if reason := o.spamReason(st, text, ts); reason != "" {
		o.mu.Unlock()
		o.spamPrevented.Add(1)
		o.spamCounter.Add(ctx, 1)
		o.logger.InfoContext(ctx, "spam prevented",
			slog.String("sender_id", senderID),
			slog.String("reason", reason))
		return nil
	}
	st.recent = append(st.recent, arrival{text: normalizeText(text), at: ts})

	msg := domain.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Sender:    domain.SenderLead,
		Text:      text,
		Timestamp: ts,
	}
	st.pending = append(st.pending, msg)
	o.resetTimerLocked(senderID, st)
	o.mu.Unlock()

	// Persist outside the lock; a store hiccup must not lose the batch.
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist inbound message",
			slog.String("sender_id", senderID),
			slog.String("error", err.Error()))
	}
	return nil
}

// spamReason returns a non-empty reason when the message should be
// dropped. Caller holds o.mu.
func (o *Orchestrator) spamReason(st *senderState, text string, ts time.Time) string {
	o.pruneRecentLocked(st, ts)

	norm := normalizeText(text)
	dupCutoff := ts.Add(-o.cfg.Duplicate())
	burstCutoff := ts.Add(-o.cfg.Burst())
	inBurst := 0
	for _, a := range st.recent {
		if a.text == norm && a.at.After(dupCutoff) {
			return "duplicate"
		}
		if a.at.After(burstCutoff) {
			inBurst++
		}
	}
	if o.cfg.MaxBurst > 0 && inBurst >= o.cfg.MaxBurst {
		return "burst"
	}
	return ""
}

func (o *Orchestrator) pruneRecentLocked(st *senderState, now time.Time) {
	window := o.cfg.Duplicate()
	if b := o.cfg.Burst(); b > window {
		window = b
	}
	cutoff := now.Add(-window)
	kept := st.recent[:0]
	for _, a := range st.recent {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	st.recent = kept
}

func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// resetTimerLocked (re)starts the sender's debounce timer. Caller
// holds o.mu.
func (o *Orchestrator) resetTimerLocked(senderID string, st *senderState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(o.cfg.Debounce(), func() {
		o.dispatch(senderID)
	})
}

// dispatch moves the pending batch into flight. If a batch for this
// sender is already in flight, the pending messages stay queued for
// the next batch; completion restarts the timer.
func (o *Orchestrator) dispatch(senderID string) {
	o.mu.Lock()
	st := o.senders[senderID]
	if st == nil || len(st.pending) == 0 || o.closed {
		o.mu.Unlock()
		return
	}
	if st.inFlight {
		// The in-flight batch is immutable; these wait their turn.
		o.mu.Unlock()
		return
	}

	batch := domain.Batch{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Messages:  st.pending,
		CreatedAt: time.Now(),
	}
	st.pending = nil
	st.inFlight = true
	displayName := st.displayName
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer o.complete(senderID)

		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		o.process(ctx, batch, displayName)
	}()
}

// complete releases the sender's in-flight lock and restarts the
// debounce timer when messages queued up during processing.
func (o *Orchestrator) complete(senderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.senders[senderID]
	if st == nil {
		return
	}
	st.inFlight = false
	if len(st.pending) > 0 && !o.closed {
		o.resetTimerLocked(senderID, st)
	}
}

// process runs one batch end to end. A panic anywhere in the pipeline
// path degrades to the single-message fallback instead of killing the
// goroutine silently.
func (o *Orchestrator) process(ctx context.Context, batch domain.Batch, displayName string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "batch processing panicked, degrading to single message",
				slog.String("sender_id", batch.SenderID),
				slog.String("batch_id", batch.ID),
				slog.Any("panic", r))
			o.processDegraded(ctx, batch, displayName)
		}
	}()

	in := o.buildInput(ctx, batch)
	out := o.proc.Process(ctx, in)
	o.finish(ctx, batch, displayName, out)

	o.batchesDispatched.Add(1)
	o.dispatchCounter.Add(ctx, 1)
}

// processDegraded retries at single-message granularity: the most
// recent message goes through the pipeline alone, and if even that
// path fails the lead still gets a generic acknowledgement.
func (o *Orchestrator) processDegraded(ctx context.Context, batch domain.Batch, displayName string) {
	o.fallbacks.Add(1)
	o.fallbackCounter.Add(ctx, 1)

	last := batch.Messages[len(batch.Messages)-1]
	single := domain.Batch{
		ID:        uuid.NewString(),
		SenderID:  batch.SenderID,
		Messages:  []domain.Message{last},
		CreatedAt: batch.CreatedAt,
	}

	delivered := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.ErrorContext(ctx, "single-message fallback panicked",
					slog.String("sender_id", batch.SenderID),
					slog.Any("panic", r))
			}
		}()
		out := o.proc.Process(ctx, o.buildInput(ctx, single))
		out.Response.Degraded = true
		o.finish(ctx, single, displayName, out)
		delivered = true
	}()

	if delivered {
		return
	}

	// Last resort: a static acknowledgement beats silence.
	if _, err := o.sender.Send(ctx, batch.SenderID, degradedReply); err != nil {
		o.logger.ErrorContext(ctx, "failed to deliver degraded reply",
			slog.String("sender_id", batch.SenderID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) buildInput(ctx context.Context, batch domain.Batch) pipeline.Input {
	in := pipeline.Input{
		Batch:      batch,
		Heuristics: pipeline.Classify(batch.CombinedText()),
	}

	history, err := o.store.History(ctx, batch.SenderID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.WarnContext(ctx, "history load failed",
			slog.String("sender_id", batch.SenderID),
			slog.String("error", err.Error()))
	} else {
		in.History = history
	}

	lead, err := o.store.GetLead(ctx, batch.SenderID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.WarnContext(ctx, "lead load failed",
			slog.String("sender_id", batch.SenderID),
			slog.String("error", err.Error()))
	}
	in.Lead = lead
	return in
}

// finish normalizes, delivers, and persists the outcome of one run.
func (o *Orchestrator) finish(ctx context.Context, batch domain.Batch, displayName string, out pipeline.Outcome) {
	text := out.Response.Text
	synthesized := false
	if o.norm != nil {
		res := o.norm.Optimize(ctx, text, synthesizer.Context{
			Stage:    out.Psychology.Stage,
			Approach: out.Strategy.Approach,
		})
		if res.Text != "" {
			text = res.Text
			synthesized = res.Rewritten
		}
	}
	out.Response.Text = text
	out.Response.Synthesized = synthesized

	if _, err := o.sender.Send(ctx, batch.SenderID, text); err != nil {
		o.logger.ErrorContext(ctx, "delivery failed",
			slog.String("sender_id", batch.SenderID),
			slog.String("batch_id", batch.ID),
			slog.String("error", err.Error()))
	}

	now := time.Now()
	if err := o.store.AppendMessage(ctx, domain.Message{
		ID:        uuid.NewString(),
		SenderID:  batch.SenderID,
		Sender:    domain.SenderBot,
		Text:      text,
		Timestamp: now,
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist outbound message",
			slog.String("sender_id", batch.SenderID),
			slog.String("error", err.Error()))
	}

	if err := o.store.UpsertLead(ctx, domain.LeadProfile{
		SenderID:     batch.SenderID,
		DisplayName:  displayName,
		Stage:        out.Psychology.Stage,
		UrgencyScore: out.Psychology.UrgencyScore,
		Intent:       string(out.Strategy.ConversationGoal),
		UpdatedAt:    now,
	}); err != nil {
		o.logger.WarnContext(ctx, "lead update failed",
			slog.String("sender_id", batch.SenderID),
			slog.String("error", err.Error()))
	}

	if b := out.Response.ConsultantBriefing; b != "" {
		if err := o.store.SaveBriefing(ctx, batch.SenderID, b); err != nil {
			o.logger.WarnContext(ctx, "briefing save failed",
				slog.String("sender_id", batch.SenderID),
				slog.String("error", err.Error()))
		}
	}

	o.logger.InfoContext(ctx, "batch processed",
		slog.String("sender_id", batch.SenderID),
		slog.String("batch_id", batch.ID),
		slog.Int("batch_size", len(batch.Messages)),
		slog.Bool("degraded", out.Response.Degraded),
		slog.Bool("synthesized", synthesized))
}

// SpamPrevented reports how many inbound messages were dropped by the
// anti-spam policy.
func (o *Orchestrator) SpamPrevented() int64 { return o.spamPrevented.Load() }

// BatchesDispatched reports how many batches completed the full path.
func (o *Orchestrator) BatchesDispatched() int64 { return o.batchesDispatched.Load() }

// Fallbacks reports how many batches degraded to the single-message
// path.
func (o *Orchestrator) Fallbacks() int64 { return o.fallbacks.Load() }

// Shutdown stops accepting messages, cancels pending timers, and
// waits for in-flight batches to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, st := range o.senders {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
