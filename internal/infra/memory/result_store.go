package memory

import (
	"context"
	"sync"

	"quiz-live-service/internal/domain"
)

// ResultStore keeps finished session results in process.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]domain.SessionResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]domain.SessionResult)}
}

func (s *ResultStore) SaveResult(_ context.Context, result domain.SessionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.SessionID] = cloneResult(result)
	return nil
}

// UpsertScore sets the final score of a participant on a stored result.
func (s *ResultStore) UpsertScore(_ context.Context, sessionID string, entry domain.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	res = cloneResult(res)
	if err := res.UpsertScore(entry); err != nil {
		return err
	}
	s.results[sessionID] = res
	return nil
}

func (s *ResultStore) GetResult(_ context.Context, sessionID string) (domain.SessionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[sessionID]
	if !ok {
		return domain.SessionResult{}, domain.ErrNotFound
	}
	return cloneResult(res), nil
}

func cloneResult(r domain.SessionResult) domain.SessionResult {
	r.Participants = append([]domain.LeaderboardEntry(nil), r.Participants...)
	return r
}
