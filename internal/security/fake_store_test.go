package security

import (
	"context"
	"errors"
	"sync"

	"agentprobe_api/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore records every call so tests can assert on store traffic.
type fakeStore struct {
	mu            sync.Mutex
	events        []*models.SecurityEvent
	listCalls     int
	lastFilter    models.SecurityEventFilter
	failInsert    int // number of Insert calls that fail before succeeding
	failBatch     bool
	failList      bool
	alwaysFailOne bool
}

func (s *fakeStore) Insert(ctx context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alwaysFailOne {
		return errStoreDown
	}
	if s.failInsert > 0 {
		s.failInsert--
		return errStoreDown
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) InsertBatch(ctx context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBatch {
		return errStoreDown
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *fakeStore) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	s.lastFilter = filter
	if s.failList {
		return nil, errStoreDown
	}
	return s.events, nil
}

func (s *fakeStore) snapshot() []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}
