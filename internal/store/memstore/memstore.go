// Package memstore is an in-memory store.Gateway implementation, grounded on
// the teacher's session.Store (an RWMutex-guarded map with copy-on-read).
// It backs unit tests and a single-process dev mode; it holds no state
// across restarts.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/store"
)

// Store is a process-local store.Gateway. All accessors return copies so
// callers can mutate the result without racing concurrent writers.
type Store struct {
	mu    sync.RWMutex
	users map[string]*model.User
	crns  map[string]*model.CrnRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users: make(map[string]*model.User),
		crns:  make(map[string]*model.CrnRecord),
	}
}

var _ store.Gateway = (*Store)(nil)

func (s *Store) GetUser(_ context.Context, userID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u.Clone(), nil
}

// PutUser writes u's fields but keeps the stored TrackedCRNs of an existing
// user, since tracked-CRN membership is owned by AddUserToCRN/
// RemoveUserFromCRN (the same split redisstore and badgerstore use), so a
// concurrent subscribe/unsubscribe is never clobbered.
func (s *Store) PutUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := u.Clone()
	if existing, ok := s.users[u.ID]; ok {
		c.TrackedCRNs = existing.Clone().TrackedCRNs
	}
	s.users[u.ID] = c
	return nil
}

func (s *Store) ScanActiveCRNs(_ context.Context) ([]*model.CrnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CrnRecord, 0, len(s.crns))
	for _, r := range s.crns {
		if r.IsLive() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) GetCRN(_ context.Context, crn string) (*model.CrnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.crns[crn]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

// PutCRN merges TrackingUsers from the currently stored record (if any)
// into r before writing, so a concurrent AddUserToCRN/RemoveUserFromCRN
// call from the request-handling collaborator is never lost to a full
// overwrite from the scheduler (spec.md §5, §9 "Concurrent writers").
func (s *Store) PutCRN(_ context.Context, r *model.CrnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.crns[r.CRN]; ok && existing.TrackingUsers != nil {
		merged := r.Clone()
		merged.TrackingUsers = make(map[string]struct{}, len(existing.TrackingUsers))
		for uid := range existing.TrackingUsers {
			merged.TrackingUsers[uid] = struct{}{}
		}
		s.crns[r.CRN] = merged
		return nil
	}
	s.crns[r.CRN] = r.Clone()
	return nil
}

func (s *Store) DeleteCRN(_ context.Context, crn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.crns, crn)
	return nil
}

func (s *Store) AddUserToCRN(_ context.Context, crn, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.crns[crn]
	if !ok {
		r = &model.CrnRecord{
			CRN:           crn,
			TrackingUsers: make(map[string]struct{}),
			LastUpdated:   time.Now(),
		}
		s.crns[crn] = r
	}
	if r.TrackingUsers == nil {
		r.TrackingUsers = make(map[string]struct{})
	}
	r.TrackingUsers[userID] = struct{}{}

	u, ok := s.users[userID]
	if !ok {
		u = &model.User{ID: userID, TrackedCRNs: make(map[string]struct{})}
		s.users[userID] = u
	}
	if u.TrackedCRNs == nil {
		u.TrackedCRNs = make(map[string]struct{})
	}
	u.TrackedCRNs[crn] = struct{}{}
	return nil
}

func (s *Store) RemoveUserFromCRN(_ context.Context, crn, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		delete(u.TrackedCRNs, crn)
	}

	r, ok := s.crns[crn]
	if !ok {
		return nil
	}
	delete(r.TrackingUsers, userID)
	if len(r.TrackingUsers) == 0 {
		delete(s.crns, crn)
	}
	return nil
}
