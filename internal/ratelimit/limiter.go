// Package ratelimit implements per-identity admission control with a sliding
// 60-second window. State is sharded by identity so concurrent admission
// checks for unrelated callers never contend on the same lock.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const shardCount = 16

// Decision is the outcome of one admission check.
type Decision struct {
	Accepted   bool
	RetryAfter time.Duration
}

// Limiter admits at most MaxRequests calls per identity within any trailing
// Window. Memory per identity is bounded by the purge step on every check.
type Limiter struct {
	window time.Duration
	max    int
	logger *zap.Logger
	shards [shardCount]*shard
}

type shard struct {
	mu         sync.Mutex
	identities map[string][]time.Time
}

// New creates a Limiter. window and max must be positive.
func New(window time.Duration, max int, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{window: window, max: max, logger: logger}
	for i := range l.shards {
		l.shards[i] = &shard{identities: make(map[string][]time.Time)}
	}
	return l
}

// Admit checks whether a request from identity at time now may proceed.
// On acceptance the timestamp is recorded; on rejection nothing is recorded
// and RetryAfter is the time until the oldest in-window entry expires.
func (l *Limiter) Admit(identity string, now time.Time) Decision {
	sh := l.shards[shardIndex(identity)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-l.window)
	stamps := sh.identities[identity]

	// Purge entries older than the window in place.
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		// Oldest kept entry leaves the window first.
		retry := kept[0].Add(l.window).Sub(now)
		if retry <= 0 {
			retry = time.Second
		}
		sh.identities[identity] = kept
		l.logger.Debug("admission rejected",
			zap.String("identity", identity),
			zap.Int("in_window", len(kept)),
			zap.Duration("retry_after", retry))
		return Decision{Accepted: false, RetryAfter: retry}
	}

	sh.identities[identity] = append(kept, now)
	return Decision{Accepted: true}
}

// InWindow returns the number of accepted requests identity has in the
// trailing window as of now. Used by tests and the stats command.
func (l *Limiter) InWindow(identity string, now time.Time) int {
	sh := l.shards[shardIndex(identity)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cutoff := now.Add(-l.window)
	n := 0
	for _, ts := range sh.identities[identity] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
