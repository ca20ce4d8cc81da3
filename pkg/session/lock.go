package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/coachflow/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// locks is a per-key mutex table. Entries are garbage collected when the
// last holder or waiter releases them.
type locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLocks() *locks {
	return &locks{entries: make(map[string]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (l *locks) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[key]
	if !exists {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *locks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}

func (l *locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// WithLock executes fn while holding the single-writer lock of the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.locks.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.locks.release(sessionID)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, lockKey(sessionID), m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer m.unlock(ctx, sessionID, unlock)
	}

	return fn(ctx)
}

func (m *Manager) unlock(ctx context.Context, sessionID string, unlock ports.UnlockFunc) {
	// The caller's context may already be cancelled; the lock must still be released.
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
			"session_id", sessionID,
			"err", err,
		)
	}
}

func lockKey(sessionID string) string {
	return "session:" + sessionID
}
