// Package memory is an in-memory Store used in tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/storage"
)

type Store struct {
	mu        sync.RWMutex
	messages  map[string][]domain.Message
	leads     map[string]domain.LeadProfile
	briefings map[string][]string
}

func New() *Store {
	return &Store{
		messages:  make(map[string][]domain.Message),
		leads:     make(map[string]domain.LeadProfile),
		briefings: make(map[string][]string),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) AppendMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SenderID] = append(s.messages[msg.SenderID], msg)
	return nil
}

func (s *Store) History(_ context.Context, senderID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[senderID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) UpsertLead(_ context.Context, profile domain.LeadProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[profile.SenderID] = profile
	return nil
}

func (s *Store) GetLead(_ context.Context, senderID string) (*domain.LeadProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.leads[senderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &profile, nil
}

func (s *Store) SaveBriefing(_ context.Context, senderID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.briefings[senderID] = append(s.briefings[senderID], text)
	return nil
}

// Briefings returns stored briefings for a sender, for test assertions.
func (s *Store) Briefings(senderID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.briefings[senderID]...)
}

func (s *Store) Close() error { return nil }
