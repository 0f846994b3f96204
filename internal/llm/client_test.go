package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dorohq/doro/internal/domain"
)

// captureMeter records usage records for assertions.
type captureMeter struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func (m *captureMeter) Record(_ context.Context, rec domain.UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *captureMeter) all() []domain.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UsageRecord(nil), m.records...)
}

func completionBody(text string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*OpenAIClient, *captureMeter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	meter := &captureMeter{}
	base := []Option{WithMeter(meter), WithMaxRetries(2)}
	c := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL+"/v1",
		slog.New(slog.DiscardHandler), append(base, opts...)...)
	return c, meter
}

func TestComplete_Success(t *testing.T) {
	c, meter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody(`{"ok":true}`, 120, 40))
	})

	resp, err := c.Complete(context.Background(), Request{
		Stage:     domain.StagePsychology,
		Operation: "psychology_analysis",
		Prompt:    "analyze this",
		JSONMode:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Errorf("unexpected text %q", resp.Text)
	}

	recs := meter.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(recs))
	}
	if recs[0].Operation != "psychology_analysis" || recs[0].InputTokens != 120 || recs[0].OutputTokens != 40 {
		t.Errorf("unexpected usage record: %+v", recs[0])
	}
	if recs[0].Estimated {
		t.Error("usage should not be estimated when the API reports it")
	}
}

func TestComplete_EstimatesUsageWhenMissing(t *testing.T) {
	c, meter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("hello there, how can I help?", 0, 0))
	})

	if _, err := c.Complete(context.Background(), Request{
		Stage:     domain.StageContent,
		Operation: "content_generation",
		Prompt:    "write a greeting",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs := meter.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(recs))
	}
	if !recs[0].Estimated {
		t.Error("expected estimated usage")
	}
	if recs[0].InputTokens == 0 || recs[0].OutputTokens == 0 {
		t.Errorf("expected non-zero estimated tokens: %+v", recs[0])
	}
}

func TestComplete_RetriesRateLimit(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n <= 2 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "rate limited", "type": "rate_limit_error"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("ok", 10, 5))
	})

	resp, err := c.Complete(context.Background(), Request{Stage: domain.StageStrategy, Operation: "strategy", Prompt: "p"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "upstream down", "type": "server_error"},
		})
	})

	_, err := c.Complete(context.Background(), Request{Stage: domain.StageStrategy, Operation: "strategy", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.FailureTypeOf(err) != domain.FailureProvider {
		t.Errorf("expected provider failure, got %v", domain.FailureTypeOf(err))
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestComplete_NoRetryOnBadRequest(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad request", "type": "invalid_request_error"},
		})
	})

	_, err := c.Complete(context.Background(), Request{Stage: domain.StageContent, Operation: "content", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("expected no retry on 400, got %d attempts", attempts)
	}
}

func TestComplete_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("late", 1, 1))
	}, WithTimeout(50*time.Millisecond), WithMaxRetries(0))

	_, err := c.Complete(context.Background(), Request{Stage: domain.StageSynthesis, Operation: "synthesis", Prompt: "p"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !domain.IsTimeout(err) {
		t.Errorf("expected timeout failure, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Mood string `json:"mood"`
	}

	tests := []struct {
		name    string
		text    string
		wantErr bool
		want    string
	}{
		{name: "plain", text: `{"mood":"calm"}`, want: "calm"},
		{name: "fenced", text: "```json\n{\"mood\":\"eager\"}\n```", want: "eager"},
		{name: "fenced no lang", text: "```\n{\"mood\":\"direct\"}\n```", want: "direct"},
		{name: "garbage", text: "not json at all", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSON(domain.StagePsychology, tt.text, &p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !domain.IsMalformed(err) {
					t.Errorf("expected malformed failure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Mood != tt.want {
				t.Errorf("expected %q, got %q", tt.want, p.Mood)
			}
		})
	}
}

func TestEstimator_Count(t *testing.T) {
	e := NewEstimator("gpt-4o-mini")
	if got := e.Count("hello world, this is a token count test"); got <= 0 {
		t.Errorf("expected positive token count, got %d", got)
	}
	if got := e.Count(""); got != 0 {
		t.Errorf("expected 0 tokens for empty text, got %d", got)
	}
}
