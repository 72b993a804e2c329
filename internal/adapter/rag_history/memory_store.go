package rag_history

import (
	"context"
	"sync"
	"time"

	"rag-dialog/internal/domain"
)

// MemoryStore is a process-local history store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	dialogs map[string]*domain.DialogRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dialogs: make(map[string]*domain.DialogRecord), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dialogs[sessionID]
	if !ok {
		return []domain.Turn{}, nil
	}
	return domain.FromRecords(rec.History), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	records, err := validRecords(sessionID, turns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(sessionID)
	rec.History = append(rec.History, records...)
	return nil
}

func (s *MemoryStore) Put(_ context.Context, sessionID string, turns []domain.Turn) error {
	records, err := validRecords(sessionID, turns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(sessionID).History = records
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dialogs, sessionID)
	return nil
}

// record returns the dialog for sessionID, creating it if needed, and
// bumps UpdatedAt. Callers hold mu.
func (s *MemoryStore) record(sessionID string) *domain.DialogRecord {
	now := s.now().UTC()
	rec, ok := s.dialogs[sessionID]
	if !ok {
		rec = &domain.DialogRecord{SessionID: sessionID, CreatedAt: now}
		s.dialogs[sessionID] = rec
	}
	rec.UpdatedAt = now
	return rec
}

var _ domain.HistoryStore = (*MemoryStore)(nil)
