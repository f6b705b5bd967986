package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-process session store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) Create(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; ok {
		return nil
	}
	now := time.Now().UTC()
	s.records[sessionID] = &Record{
		SessionID: sessionID,
		Title:     NewTitle(now),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *InMemoryStore) Exists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[sessionID]
	return ok, nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) History(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), rec.History...), nil
}

func (s *InMemoryStore) SetHistory(_ context.Context, sessionID string, history []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.History = append([]string(nil), history...)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Checkpoint(_ context.Context, sessionID string, history []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.History = append([]string(nil), history...)
	rec.Preview = Preview(history)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) End(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusEnded
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) SaveSummary(_ context.Context, sessionID string, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.Summary = sum.Summary
	rec.Struggles = append([]string(nil), sum.Struggles...)
	rec.Observations = append([]string(nil), sum.Observations...)
	rec.Tips = append([]string(nil), sum.Tips...)
	rec.SummaryGenerated = true
	rec.SummaryGeneratedAt = now
	rec.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.records, sessionID)
	return nil
}

func (s *InMemoryStore) DeleteBatch(_ context.Context, sessionIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for _, id := range sessionIDs {
		if _, ok := s.records[id]; !ok {
			continue
		}
		delete(s.records, id)
		deleted = append(deleted, id)
	}
	return deleted, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func cloneRecord(rec *Record) Record {
	c := *rec
	c.History = append([]string(nil), rec.History...)
	c.Struggles = append([]string(nil), rec.Struggles...)
	c.Observations = append([]string(nil), rec.Observations...)
	c.Tips = append([]string(nil), rec.Tips...)
	return c
}
