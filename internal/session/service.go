// Package session manages TTL-bounded working-memory scopes. A session is a
// sliding-window container of KV entries; every write is persisted to
// long-term memory through a write-behind task, so committing a session is a
// synchronization barrier rather than a bulk copy.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/task"
	"github.com/engramdev/engram/pkg/types"
)

// TaskTypeRememberWorkingMemory is the write-behind task persisting one
// working-memory entry as a type=working long-term memory.
const TaskTypeRememberWorkingMemory = "remember_working_memory"

// TaskTypeSessionCleanup is the recurring expired-session sweep.
const TaskTypeSessionCleanup = "session_cleanup"

// TaskTypeTouchSession is the fire-and-forget touch scheduled by recall when
// a query carries a session id.
const TaskTypeTouchSession = "touch_session"

// defaultTTL applies when a session is created without one.
const defaultTTL = 3600

// cleanupBatchSize caps how many expired sessions one sweep handles.
const cleanupBatchSize = 100

// TaskScheduler enqueues background work. Satisfied by *task.Scheduler.
type TaskScheduler interface {
	Schedule(t task.Task) error
}

// Service is the session API. It runs over any storage.Store, which gives
// the two deployment shapes of the engine: ephemeral sessions on the
// in-memory store and durable sessions on SQLite or Postgres, behind one
// implementation.
type Service struct {
	store     storage.Store
	scheduler TaskScheduler
	now       storage.NowFunc
}

func NewService(store storage.Store, scheduler TaskScheduler) *Service {
	return &Service{store: store, scheduler: scheduler, now: storage.UTCNow}
}

// SetNowFunc overrides the service clock. Test hook.
func (s *Service) SetNowFunc(now storage.NowFunc) {
	s.now = now
}

// CreateOptions configures a new session.
type CreateOptions struct {
	WorkspaceID string
	ContextID   string
	TenantID    string
	TTLSeconds  int
	AutoCommit  bool
	Metadata    map[string]interface{}
}

// CreateSession opens a session with a sliding TTL window.
func (s *Service) CreateSession(ctx context.Context, opts CreateOptions) (*types.Session, error) {
	if opts.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", storage.ErrInvalidInput)
	}
	if opts.TTLSeconds <= 0 {
		opts.TTLSeconds = defaultTTL
	}
	if opts.ContextID == "" {
		opts.ContextID = types.DefaultContextID
	}
	if opts.TenantID == "" {
		opts.TenantID = types.DefaultTenantID
	}

	now := s.now()
	sess := &types.Session{
		ID:          types.NewSessionID(),
		WorkspaceID: opts.WorkspaceID,
		ContextID:   opts.ContextID,
		TenantID:    opts.TenantID,
		TTLSeconds:  opts.TTLSeconds,
		ExpiresAt:   now.Add(time.Duration(opts.TTLSeconds) * time.Second),
		AutoCommit:  opts.AutoCommit,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession retrieves a session scoped to a tenant workspace.
func (s *Service) GetSession(ctx context.Context, scope types.Scope, id string) (*types.Session, error) {
	return s.store.GetSession(ctx, scope, id)
}

// Get retrieves a session by id alone.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	return s.store.GetSessionByID(ctx, id)
}

// ListSessions pages through a workspace's sessions.
func (s *Service) ListSessions(ctx context.Context, scope types.Scope, limit, offset int) ([]*types.Session, error) {
	return s.store.ListSessions(ctx, scope, limit, offset)
}

// TouchSession slides the expiry window: expires_at = now + ttl. Passing
// extendSeconds > 0 also replaces the session TTL. Touching twice at the same
// instant produces the same expiry.
func (s *Service) TouchSession(ctx context.Context, scope types.Scope, id string, extendSeconds int) (*types.Session, error) {
	sess, err := s.store.GetSession(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if extendSeconds > 0 {
		sess.TTLSeconds = extendSeconds
	}
	sess.ExpiresAt = s.now().Add(time.Duration(sess.TTLSeconds) * time.Second)
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes a session and its working memory. A session created
// with auto_commit that has not been committed is committed first unless
// skipAutoCommit is set; a failed commit is logged and deletion proceeds.
func (s *Service) DeleteSession(ctx context.Context, scope types.Scope, id string, skipAutoCommit bool) error {
	sess, err := s.store.GetSession(ctx, scope, id)
	if err != nil {
		return err
	}
	if sess.AutoCommit && !sess.IsCommitted() && !skipAutoCommit {
		if _, err := s.CommitSession(ctx, scope, id); err != nil {
			log.Printf("session: auto-commit %s before delete: %v", id, err)
		}
	}
	return s.store.DeleteSession(ctx, scope, id)
}

// SetWorkingMemory upserts a KV entry in a live session and schedules the
// write-behind task that persists it as long-term working memory. Scheduling
// is best effort; a full queue loses the write-behind, not the entry.
func (s *Service) SetWorkingMemory(ctx context.Context, scope types.Scope, sessionID, key string, value interface{}, ttl time.Duration) error {
	sess, err := s.store.GetSession(ctx, scope, sessionID)
	if err != nil {
		return err
	}
	if sess.IsExpired(s.now()) {
		return fmt.Errorf("%w: session %s expired", storage.ErrInvalidInput, sessionID)
	}

	expiresAt := sess.ExpiresAt
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	entry := &types.WorkingMemoryEntry{
		SessionID: sessionID,
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
	}
	if err := s.store.SetWorkingMemory(ctx, entry); err != nil {
		return err
	}

	if s.scheduler != nil {
		err := s.scheduler.Schedule(task.Task{
			Type:        TaskTypeRememberWorkingMemory,
			TenantID:    scope.TenantID,
			WorkspaceID: scope.WorkspaceID,
			Payload: map[string]interface{}{
				"session_id": sessionID,
				"context_id": sess.ContextID,
				"key":        key,
				"value":      value,
			},
		})
		if err != nil {
			log.Printf("session: schedule write-behind for %s/%s: %v", sessionID, key, err)
		}
	}
	return nil
}

// GetWorkingMemory fetches one entry.
func (s *Service) GetWorkingMemory(ctx context.Context, sessionID, key string) (*types.WorkingMemoryEntry, error) {
	return s.store.GetWorkingMemory(ctx, sessionID, key)
}

// GetAllWorkingMemory lists a session's entries.
func (s *Service) GetAllWorkingMemory(ctx context.Context, sessionID string) ([]*types.WorkingMemoryEntry, error) {
	return s.store.ListWorkingMemory(ctx, sessionID)
}

// CommitSession marks the session committed and reports what it covered.
// Long-term persistence already happened entry by entry via write-behind;
// commit is the barrier recording that the session's state is final.
// Committing twice returns the original stats with AlreadyDone set.
func (s *Service) CommitSession(ctx context.Context, scope types.Scope, id string) (*types.CommitStats, error) {
	sess, err := s.store.GetSession(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListWorkingMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.IsCommitted() {
		return &types.CommitStats{
			SessionID:   id,
			EntriesSeen: len(entries),
			CommittedAt: *sess.CommittedAt,
			AlreadyDone: true,
		}, nil
	}

	now := s.now()
	sess.CommittedAt = &now
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &types.CommitStats{
		SessionID:   id,
		EntriesSeen: len(entries),
		CommittedAt: now,
	}, nil
}

// CleanupExpired sweeps expired sessions: auto-commit sessions that never
// committed get a last commit attempt (errors logged), then every expired
// session is deleted. Returns the number removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredSessions(ctx, cleanupBatchSize)
	if err != nil {
		return 0, err
	}
	for _, sess := range expired {
		if sess.AutoCommit && !sess.IsCommitted() {
			if _, err := s.CommitSession(ctx, sess.Scope(), sess.ID); err != nil {
				log.Printf("session: cleanup commit %s: %v", sess.ID, err)
			}
		}
	}
	return s.store.CleanupExpiredSessions(ctx)
}

// TouchHandler adapts TouchSession to the ad-hoc task scheduler. An expired
// or deleted session makes the touch a no-op.
func (s *Service) TouchHandler() task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		sessionID, _ := t.Payload["session_id"].(string)
		if sessionID == "" {
			return fmt.Errorf("session: touch task %s missing session_id", t.ID)
		}
		sess, err := s.store.GetSessionByID(ctx, sessionID)
		if err != nil {
			return nil
		}
		_, err = s.TouchSession(ctx, sess.Scope(), sessionID, 0)
		return err
	}
}

// CleanupHandler adapts CleanupExpired to the recurring task scheduler.
func (s *Service) CleanupHandler() task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		n, err := s.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("session: cleaned up %d expired sessions", n)
		}
		return nil
	}
}

// BriefingOptions tunes GetBriefing.
type BriefingOptions struct {
	LookbackMinutes       int
	DetailLevel           types.DetailLevel
	Limit                 int
	IncludeMemories       bool
	IncludeContradictions bool
}

// GetBriefing assembles a catch-up summary for a workspace: storage stats,
// recent activity, open sessions, and optionally unresolved contradictions
// and the recent memories themselves.
func (s *Service) GetBriefing(ctx context.Context, scope types.Scope, opts BriefingOptions) (*types.SessionBriefing, error) {
	if opts.LookbackMinutes <= 0 {
		opts.LookbackMinutes = 24 * 60
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.DetailLevel == "" {
		opts.DetailLevel = types.DetailAbstract
	}

	stats, err := s.store.GetWorkspaceStats(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := s.now()
	recent, err := s.store.GetRecentMemories(ctx, scope, storage.RecentOptions{
		CreatedAfter: now.Add(-time.Duration(opts.LookbackMinutes) * time.Minute),
		Limit:        opts.Limit,
		DetailLevel:  opts.DetailLevel,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := s.store.ListSessions(ctx, scope, opts.Limit, 0)
	if err != nil {
		return nil, err
	}
	var open []*types.Session
	for _, sess := range sessions {
		if !sess.IsExpired(now) {
			open = append(open, sess)
		}
	}

	briefing := &types.SessionBriefing{
		WorkspaceSummary: *stats,
		RecentActivity:   recent,
		OpenThreads:      open,
		GeneratedAt:      now,
	}
	if opts.IncludeContradictions {
		contradictions, err := s.store.ListUnresolvedContradictions(ctx, scope, opts.Limit)
		if err != nil {
			return nil, err
		}
		briefing.ContradictionsDetected = contradictions
	}
	if opts.IncludeMemories {
		briefing.Memories = recent
	}
	return briefing, nil
}

// Rememberer persists extracted working-memory content as a long-term
// memory. Satisfied by the memory orchestrator.
type Rememberer interface {
	RememberWorking(ctx context.Context, scope types.Scope, contextID, content string, metadata map[string]interface{}) error
}

// WriteBehindHandler builds the task handler persisting working-memory
// entries through the orchestrator. String values are stored as-is; anything
// else is JSON-serialized.
func WriteBehindHandler(r Rememberer) task.HandlerFunc {
	return func(ctx context.Context, t task.Task) error {
		sessionID, _ := t.Payload["session_id"].(string)
		key, _ := t.Payload["key"].(string)
		if sessionID == "" || key == "" {
			return fmt.Errorf("session: write-behind task %s missing session_id or key", t.ID)
		}
		contextID, _ := t.Payload["context_id"].(string)

		content, err := renderValue(t.Payload["value"])
		if err != nil {
			return fmt.Errorf("session: render value for %s/%s: %w", sessionID, key, err)
		}
		if strings.TrimSpace(content) == "" {
			return nil
		}

		return r.RememberWorking(ctx, types.NewScope(t.TenantID, t.WorkspaceID), contextID, content, map[string]interface{}{
			"session_id":         sessionID,
			"working_memory_key": key,
		})
	}
}

func renderValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
