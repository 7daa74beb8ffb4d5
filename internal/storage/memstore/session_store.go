package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/pkg/types"
)

func cloneSession(s *types.Session) *types.Session {
	cp := *s
	if s.CommittedAt != nil {
		t := *s.CommittedAt
		cp.CommittedAt = &t
	}
	if s.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneEntry(e *types.WorkingMemoryEntry) *types.WorkingMemoryEntry {
	cp := *e
	return &cp
}

func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if sess.TenantID == "" {
		sess.TenantID = types.DefaultTenantID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %s", storage.ErrDuplicate, sess.ID)
	}

	now := s.now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) GetSession(ctx context.Context, scope types.Scope, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Scope() != scope {
		return nil, fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	return cloneSession(sess), nil
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	return cloneSession(sess), nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, sess.ID)
	}
	sess.UpdatedAt = s.now()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Scope() != scope {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, id)
	}
	delete(s.sessions, id)
	delete(s.working, id)
	return nil
}

func (s *Store) ListSessions(ctx context.Context, scope types.Scope, limit, offset int) ([]*types.Session, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Session
	for _, sess := range s.sessions {
		if sess.Scope() == scope {
			out = append(out, cloneSession(sess))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, limit int) ([]*types.Session, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*types.Session
	for _, sess := range s.sessions {
		if sess.IsExpired(now) {
			out = append(out, cloneSession(sess))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, id)
			delete(s.working, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) SetWorkingMemory(ctx context.Context, e *types.WorkingMemoryEntry) error {
	if e == nil || e.SessionID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("%w: working memory key is required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[e.SessionID]; !ok {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, e.SessionID)
	}

	now := s.now()
	entries, ok := s.working[e.SessionID]
	if !ok {
		entries = make(map[string]*types.WorkingMemoryEntry)
		s.working[e.SessionID] = entries
	}
	if existing, ok := entries[e.Key]; ok {
		e.CreatedAt = existing.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	entries[e.Key] = cloneEntry(e)
	return nil
}

func (s *Store) GetWorkingMemory(ctx context.Context, sessionID, key string) (*types.WorkingMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.working[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: working memory %s/%s", storage.ErrNotFound, sessionID, key)
	}
	e, ok := entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: working memory %s/%s", storage.ErrNotFound, sessionID, key)
	}
	return cloneEntry(e), nil
}

func (s *Store) ListWorkingMemory(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.WorkingMemoryEntry
	for _, e := range s.working[sessionID] {
		out = append(out, cloneEntry(e))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
