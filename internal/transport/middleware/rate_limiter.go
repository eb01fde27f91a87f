// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"math"
	"sync"
	"time"
)

const (
	defaultBucketIdle = 10 * time.Minute
	pruneEvery        = 256
)

type limitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// bucket holds up to limit tokens and refills limit tokens per minute.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address. Buckets idle for
// longer than idle are dropped, so the map tracks only recent clients.
type clientLimiter struct {
	mu      sync.Mutex
	idle    time.Duration
	calls   int
	buckets map[string]*bucket
}

func newClientLimiter(idle time.Duration) *clientLimiter {
	if idle <= 0 {
		idle = defaultBucketIdle
	}
	return &clientLimiter{
		idle:    idle,
		buckets: make(map[string]*bucket, 32),
	}
}

// Allow takes one token from client's bucket.
func (l *clientLimiter) Allow(client string, limit int, now time.Time) limitDecision {
	if limit <= 0 {
		limit = 1
	}
	capacity := float64(limit)
	perSecond := capacity / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(now)
	}

	b, ok := l.buckets[client]
	if !ok {
		b = &bucket{tokens: capacity, lastSeen: now}
		l.buckets[client] = b
	}
	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*perSecond)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return limitDecision{Allowed: true, Limit: limit, Remaining: int(math.Floor(b.tokens))}
	}

	wait := time.Duration(math.Ceil((1-b.tokens)/perSecond)) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return limitDecision{Limit: limit, RetryAfter: wait}
}

func (l *clientLimiter) pruneLocked(now time.Time) {
	for client, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, client)
		}
	}
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
