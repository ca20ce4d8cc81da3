package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/ports"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore(), nil)
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_ = mgr.WithLock(ctx, sid, func(context.Context) error { return nil })
	}

	if n := mgr.locks.size(); n != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory", n)
	}
}

func TestManager_LockSerializes(t *testing.T) {
	mgr := NewManager(memory.NewStore(), nil)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.WithLock(ctx, "same", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxSeen)
	}
	if n := mgr.locks.size(); n != 0 {
		t.Errorf("expected lock table to be empty, got %d", n)
	}
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	released int
	ttl      time.Duration
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, key)
	l.ttl = ttl
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	mgr := NewManager(memory.NewStore(), nil, WithLocker(locker), WithLockTTL(5*time.Second))

	ran := false
	err := mgr.WithLock(context.Background(), "abc", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("fn was not called")
	}
	if len(locker.locked) != 1 || locker.locked[0] != "session:abc" {
		t.Errorf("unexpected lock keys %v", locker.locked)
	}
	if locker.ttl != 5*time.Second {
		t.Errorf("expected ttl 5s, got %v", locker.ttl)
	}
	if locker.released != 1 {
		t.Errorf("expected lock to be released once, got %d", locker.released)
	}
}

func TestManager_DistributedLockFailure(t *testing.T) {
	boom := errors.New("redis down")
	mgr := NewManager(memory.NewStore(), nil, WithLocker(&recordingLocker{err: boom}))

	err := mgr.WithLock(context.Background(), "abc", func(context.Context) error {
		t.Error("fn must not run without the lock")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped locker error, got %v", err)
	}
	if n := mgr.locks.size(); n != 0 {
		t.Errorf("expected lock table to be empty, got %d", n)
	}
}
