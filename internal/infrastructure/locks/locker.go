// Package locks provides bounded, ordered key locks used to serialize ledger and workflow mutations
// per account and per project.
package locks

import (
	"context"
	"sort"
	"sync"
	"time"

	"commissions-backend/internal/domain"
)

// Locker acquires every key or none. Keys are taken in ascending order so that two callers locking
// overlapping sets cannot deadlock. A caller that cannot get all keys within timeout receives
// domain.ErrBusy.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration, keys ...string) (release func(), err error)
}

// ProjectKey and AccountKey namespace lock keys.
func ProjectKey(id string) string { return "project:" + id }
func AccountKey(id string) string { return "account:" + id }

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Local is an in-process Locker. Each key is a 1-slot channel that lives only while some caller
// holds or waits for it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	return sl
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl, ok := l.slots[key]; ok {
		if sl.refs--; sl.refs <= 0 {
			delete(l.slots, key)
		}
	}
}

// size is the number of live slots.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Local) Acquire(ctx context.Context, timeout time.Duration, keys ...string) (func(), error) {
	keys = normalize(keys)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	held := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.mu.Lock()
			sl := l.slots[held[i]]
			l.mu.Unlock()
			<-sl.ch
			l.unref(held[i])
		}
	}
	for _, k := range keys {
		sl := l.ref(k)
		select {
		case sl.ch <- struct{}{}:
			held = append(held, k)
		case <-timer.C:
			l.unref(k)
			releaseAll()
			return nil, domain.ErrBusy
		case <-ctx.Done():
			l.unref(k)
			releaseAll()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
