package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// MemoryStore is an in-process Store with the same conditional-write
// semantics as PostgresStore. It backs unit tests and single-node runs.
type MemoryStore struct {
	mu   sync.Mutex
	jobs     map[string]models.JobRecord
	subs     map[subKey]models.Subscription
	feedback map[string][]models.Feedback
}

type subKey struct {
	connectionID string
	jobID        string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]models.JobRecord),
		subs:     make(map[subKey]models.Subscription),
		feedback: make(map[string][]models.Feedback),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, rec models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.JobID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[rec.JobID] = rec
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return models.JobRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) UpdateJobIf(_ context.Context, jobID string, expected JobVersion, upd JobUpdate) (models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return models.JobRecord{}, ErrNotFound
	}
	if rec.Status != string(expected.Status) || !rec.UpdatedAt.Equal(expected.UpdatedAt) {
		return models.JobRecord{}, ErrConditionFailed
	}
	rec.Status = string(upd.Status)
	rec.UpdatedAt = upd.UpdatedAt
	if upd.ResultRef != nil {
		rec.ResultRef = upd.ResultRef
	}
	rec.Error = upd.Error
	s.jobs[jobID] = rec
	return rec, nil
}

func (s *MemoryStore) PutSubscription(_ context.Context, sub models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey{sub.ConnectionID, sub.JobID}
	if existing, ok := s.subs[k]; ok {
		sub.CreatedAt = existing.CreatedAt
	}
	s.subs[k] = sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, connectionID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, subKey{connectionID, jobID})
	return nil
}

func (s *MemoryStore) ListSubscriptionsByConnection(_ context.Context, connectionID string) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for k, sub := range s.subs {
		if k.connectionID == connectionID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (s *MemoryStore) ListSubscriptionsByJob(_ context.Context, jobID string, now time.Time) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subscription
	for k, sub := range s.subs {
		if k.jobID == jobID && sub.Status == models.SubscriptionSubscribed && sub.ExpiresAt.After(now) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

func (s *MemoryStore) TouchConnection(_ context.Context, connectionID string, at, expiresAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, sub := range s.subs {
		if k.connectionID != connectionID {
			continue
		}
		sub.LastActivity = at
		sub.ExpiresAt = expiresAt
		s.subs[k] = sub
		n++
	}
	return n, nil
}

func (s *MemoryStore) CreateFeedback(_ context.Context, fb models.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[fb.JobID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.feedback[fb.JobID] {
		if existing.ID == fb.ID {
			return ErrDuplicateKey
		}
	}
	s.feedback[fb.JobID] = append(s.feedback[fb.JobID], fb)
	return nil
}

func (s *MemoryStore) ListFeedbackByJob(_ context.Context, jobID string) ([]models.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Feedback(nil), s.feedback[jobID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res PurgeResult
	for id, rec := range s.jobs {
		if !rec.ExpiresAt.After(now) {
			delete(s.jobs, id)
			delete(s.feedback, id)
			res.JobIDs = append(res.JobIDs, id)
		}
	}
	sort.Strings(res.JobIDs)
	for k, sub := range s.subs {
		if !sub.ExpiresAt.After(now) {
			delete(s.subs, k)
			res.Subscriptions++
		}
	}
	return res, nil
}

var _ Store = (*MemoryStore)(nil)
