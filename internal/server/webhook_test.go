package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type capturedMessage struct {
	senderID    string
	displayName string
	text        string
	ts          time.Time
}

type captureReceiver struct {
	messages []capturedMessage
	err      error
}

func (c *captureReceiver) ReceiveMessage(ctx context.Context, senderID, displayName, text string, ts time.Time) error {
	c.messages = append(c.messages, capturedMessage{senderID, displayName, text, ts})
	return c.err
}

const inboundText = `{
	"app": "DoroApp",
	"timestamp": 1756500000000,
	"type": "message",
	"payload": {
		"id": "wamid.abc",
		"source": "6591234567",
		"type": "text",
		"payload": {"text": "what's the price for a 2 bedroom in D15?"},
		"sender": {"phone": "6591234567", "name": "Tan"}
	}
}`

func postWebhook(t *testing.T, recv *captureReceiver, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewWebhookHandler(recv, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_TextMessage(t *testing.T) {
	recv := &captureReceiver{}
	rec := postWebhook(t, recv, inboundText)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(recv.messages) != 1 {
		t.Fatalf("expected one received message, got %d", len(recv.messages))
	}
	m := recv.messages[0]
	if m.senderID != "6591234567" || m.displayName != "Tan" {
		t.Errorf("unexpected sender %q / %q", m.senderID, m.displayName)
	}
	if m.text != "what's the price for a 2 bedroom in D15?" {
		t.Errorf("unexpected text %q", m.text)
	}
	if m.ts.UnixMilli() != 1756500000000 {
		t.Errorf("timestamp not taken from the event: %v", m.ts)
	}
}

func TestWebhook_IgnoresNonMessageEvents(t *testing.T) {
	recv := &captureReceiver{}
	rec := postWebhook(t, recv, `{"type":"message-event","payload":{"type":"delivered"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(recv.messages) != 0 {
		t.Error("delivery receipts must not reach the orchestrator")
	}
}

func TestWebhook_BadPayload(t *testing.T) {
	rec := postWebhook(t, &captureReceiver{}, `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := New(0, &captureReceiver{}, slog.New(slog.DiscardHandler))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
