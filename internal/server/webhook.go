package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// MessageReceiver is the engine's inbound entry point, implemented by
// the orchestrator.
type MessageReceiver interface {
	ReceiveMessage(ctx context.Context, senderID, displayName, text string, ts time.Time) error
}

// gupshupEnvelope is the inbound webhook payload Gupshup posts for
// every event on the app. Only text message events feed the engine;
// everything else (delivery receipts, read events) is acknowledged and
// dropped.
type gupshupEnvelope struct {
	App       string `json:"app"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	Type      string `json:"type"`
	Payload   struct {
		ID      string `json:"id"`
		Source  string `json:"source"`
		Type    string `json:"type"`
		Payload struct {
			Text string `json:"text"`
		} `json:"payload"`
		Sender struct {
			Phone string `json:"phone"`
			Name  string `json:"name"`
		} `json:"sender"`
	} `json:"payload"`
}

// NewWebhookHandler decodes Gupshup inbound events and hands text
// messages to the receiver. The webhook always answers quickly;
// batching and pipeline work happen behind the orchestrator's timers.
func NewWebhookHandler(receiver MessageReceiver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env gupshupEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			AddError(r.Context(), err)
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if env.Type != "message" || env.Payload.Type != "text" {
			w.WriteHeader(http.StatusOK)
			return
		}

		senderID := env.Payload.Sender.Phone
		if senderID == "" {
			senderID = env.Payload.Source
		}
		ts := time.Now()
		if env.Timestamp > 0 {
			ts = time.UnixMilli(env.Timestamp)
		}

		// Detached from the request context: responding to Gupshup
		// must not cancel message intake.
		ctx := context.WithoutCancel(r.Context())
		if err := receiver.ReceiveMessage(ctx, senderID, env.Payload.Sender.Name, env.Payload.Payload.Text, ts); err != nil {
			AddError(r.Context(), err)
			logger.WarnContext(r.Context(), "message rejected",
				slog.String("sender_id", senderID),
				slog.String("error", err.Error()))
		}

		w.WriteHeader(http.StatusOK)
	}
}
