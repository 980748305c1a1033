// Package memstore is an in-process session store with the same TTL contract
// as the Redis store. Used for tests and single-node dev setups
// (SESSION_STORE=memory).
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/kaiwa-app/kaiwa/internal/ai"
	"github.com/kaiwa-app/kaiwa/internal/chat"
)

type entry struct {
	setup    chat.Setup
	hasSetup bool
	history  []ai.Message
	deadline time.Time
}

type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]*entry
}

func New(ttl time.Duration) *Store {
	return &Store{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]*entry),
	}
}

// get returns the live entry for a room, dropping it first if the inactivity
// window has elapsed. Callers must hold s.mu.
func (s *Store) get(roomID string) *entry {
	e, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if s.now().After(e.deadline) {
		delete(s.rooms, roomID)
		return nil
	}
	return e
}

func (s *Store) touch(roomID string) *entry {
	e := s.get(roomID)
	if e == nil {
		e = &entry{}
		s.rooms[roomID] = e
	}
	e.deadline = s.now().Add(s.ttl)
	return e
}

func (s *Store) PutSetup(ctx context.Context, roomID string, setup chat.Setup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touch(roomID)
	e.setup = setup
	e.hasSetup = true
	return nil
}

func (s *Store) GetSetup(ctx context.Context, roomID string) (chat.Setup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(roomID)
	if e == nil || !e.hasSetup {
		return chat.Setup{}, chat.ErrSetupNotFound
	}
	return e.setup, nil
}

func (s *Store) AppendHistory(ctx context.Context, roomID string, msg ai.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.touch(roomID)
	e.history = append(e.history, msg)
	return nil
}

func (s *Store) GetHistory(ctx context.Context, roomID string) ([]ai.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(roomID)
	if e == nil {
		return nil, nil
	}
	return append([]ai.Message(nil), e.history...), nil
}
