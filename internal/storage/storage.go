// Package storage defines the persistence ports the engine emits to.
// The engine owns neither schema design nor querying beyond what these
// interfaces need; reporting and dashboards read the same tables
// separately.
package storage

import (
	"context"
	"errors"

	"github.com/dorohq/doro/internal/domain"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ConversationStore records the message log per sender.
type ConversationStore interface {
	// AppendMessage stores one message. Messages are immutable once
	// stored.
	AppendMessage(ctx context.Context, msg domain.Message) error

	// History returns the most recent messages for a sender in
	// timestamp order, oldest first, at most limit entries.
	History(ctx context.Context, senderID string, limit int) ([]domain.Message, error)
}

// LeadStore records the inferred lead state snapshot per sender.
type LeadStore interface {
	UpsertLead(ctx context.Context, profile domain.LeadProfile) error
	GetLead(ctx context.Context, senderID string) (*domain.LeadProfile, error)
}

// BriefingStore records consultant briefings flagged by the synthesis
// layer for human follow-up.
type BriefingStore interface {
	SaveBriefing(ctx context.Context, senderID, text string) error
}

// Store is the full persistence surface the engine wires.
type Store interface {
	ConversationStore
	LeadStore
	BriefingStore

	Close() error
}
