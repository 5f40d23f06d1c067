// Package session owns per-caller conversational context and its expiry.
//
// Sessions are sharded by id so mutations to different sessions proceed
// independently; mutations to the same id serialize on a per-entry mutex.
// A background sweep evicts idle sessions without blocking unrelated keys,
// and access-time eviction covers sessions that expire between sweeps.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"invoicechat/internal/types"
)

const shardCount = 16

// DefaultTTL is how long a session survives without activity.
const DefaultTTL = 30 * time.Minute

// DefaultMaxMessages bounds the per-session context window.
const DefaultMaxMessages = 10

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = 5 * time.Minute

// Session is a bounded, time-limited conversational context for one caller.
// Values returned by the store are snapshots; the store owns the live state.
type Session struct {
	ID             string
	Identity       string
	Messages       []types.ChatMessage
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Context returns the message window, most recent last.
func (s Session) Context() []types.ChatMessage {
	return s.Messages
}

// LastIntent returns the most recent recorded intent in the window, or nil.
func (s Session) LastIntent() *types.QueryIntent {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Intent != nil {
			return s.Messages[i].Intent
		}
	}
	return nil
}

type entry struct {
	mu sync.Mutex
	s  Session
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// Store owns all live sessions.
type Store struct {
	ttl         time.Duration
	maxMessages int
	logger      *zap.Logger
	shards      [shardCount]*shard

	now func() time.Time // injectable clock for tests

	sweepOnce sync.Once
	sweepDone chan struct{}
	sweepWG   sync.WaitGroup
}

// NewStore creates a session store. Zero ttl or maxMessages select defaults.
func NewStore(ttl time.Duration, maxMessages int, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &Store{
		ttl:         ttl,
		maxMessages: maxMessages,
		logger:      logger,
		now:         time.Now,
		sweepDone:   make(chan struct{}),
	}
	for i := range st.shards {
		st.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return st
}

// GetOrCreate returns the live session for id, or a fresh empty one when id
// is empty, unknown, or expired. It never fails on a malformed id.
func (s *Store) GetOrCreate(id, identity string) Session {
	if id != "" {
		sh := s.shards[shardIndex(id)]
		sh.mu.RLock()
		e, ok := sh.sessions[id]
		sh.mu.RUnlock()
		if ok {
			e.mu.Lock()
			if !s.expired(e.s) {
				snap := snapshot(e.s)
				e.mu.Unlock()
				return snap
			}
			e.mu.Unlock()
			// Expired: evict lazily and fall through to a fresh session.
			if s.evictIfExpired(id) {
				s.logger.Debug("session expired on access", zap.String("session_id", id))
			}
		}
	}
	return s.create(identity)
}

// Append appends messages to session id, creating a fresh session when id is
// absent or expired, and trims the window to the most recent maxMessages.
// The whole batch is applied under one lock so a user/assistant pair is
// appended atomically.
func (s *Store) Append(id, identity string, msgs ...types.ChatMessage) Session {
	if id == "" {
		id = uuid.NewString()
	}
	sh := s.shards[shardIndex(id)]

	sh.mu.Lock()
	e, ok := sh.sessions[id]
	if !ok {
		e = &entry{s: s.fresh(id, identity)}
		sh.sessions[id] = e
	}
	sh.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.expired(e.s) {
		e.s = s.fresh(id, identity)
	}
	e.s.Messages = append(e.s.Messages, msgs...)
	if over := len(e.s.Messages) - s.maxMessages; over > 0 {
		e.s.Messages = e.s.Messages[over:]
	}
	e.s.LastActivityAt = s.now()
	return snapshot(e.s)
}

// Len returns the number of live (possibly expired but not yet evicted)
// sessions. Used by tests and the stats command.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Sweep evicts every session idle longer than the TTL. One shard is locked
// at a time so reads and writes to other shards proceed during the sweep.
func (s *Store) Sweep() int {
	evicted := 0
	cutoff := s.now().Add(-s.ttl)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.sessions {
			e.mu.Lock()
			idle := e.s.LastActivityAt.Before(cutoff)
			e.mu.Unlock()
			if idle {
				delete(sh.sessions, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Info("session sweep", zap.Int("evicted", evicted))
	}
	return evicted
}

// StartSweeper runs Sweep every interval until Close is called.
func (s *Store) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.sweepDone:
				return
			}
		}
	}()
}

// Close stops the background sweeper. Safe to call multiple times.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.sweepDone) })
	s.sweepWG.Wait()
}

func (s *Store) create(identity string) Session {
	id := uuid.NewString()
	sh := s.shards[shardIndex(id)]
	e := &entry{s: s.fresh(id, identity)}
	sh.mu.Lock()
	sh.sessions[id] = e
	sh.mu.Unlock()
	s.logger.Debug("session created",
		zap.String("session_id", id), zap.String("identity", identity))
	return snapshot(e.s)
}

func (s *Store) fresh(id, identity string) Session {
	now := s.now()
	return Session{
		ID:             id,
		Identity:       identity,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// evictIfExpired deletes id only when it is still expired. The caller's
// expiry observation was made outside the shard lock, and a concurrent
// Append may have refreshed the session since; the state is re-read under
// both locks before deleting.
func (s *Store) evictIfExpired(id string) bool {
	sh := s.shards[shardIndex(id)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.sessions[id]
	if !ok {
		return false
	}
	e.mu.Lock()
	stillExpired := s.expired(e.s)
	e.mu.Unlock()
	if !stillExpired {
		return false
	}
	delete(sh.sessions, id)
	return true
}

func (s *Store) expired(sess Session) bool {
	return s.now().Sub(sess.LastActivityAt) > s.ttl
}

func snapshot(sess Session) Session {
	out := sess
	out.Messages = make([]types.ChatMessage, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return out
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
