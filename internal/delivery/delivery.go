// Package delivery sends outbound WhatsApp messages. The core hands
// it exactly one final response per batch; session-window rules,
// template selection, and delivery retries live on the provider side.
package delivery

import (
	"context"
)

// Result is the provider's acknowledgement for one outbound message.
type Result struct {
	MessageID string
	Status    string
}

// Sender delivers one text message to a lead. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) (Result, error)
}

// Func adapts a function to the Sender interface, mostly for tests.
type Func func(ctx context.Context, recipientID, text string) (Result, error)

func (f Func) Send(ctx context.Context, recipientID, text string) (Result, error) {
	return f(ctx, recipientID, text)
}
