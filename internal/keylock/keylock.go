// Package keylock provides per-key exclusive sections.
//
// An Arena hands out one lock per key so unrelated keys never contend. Slots
// are reference counted and removed once nobody holds or waits on them, which
// keeps the arena bounded by the number of keys in flight.
package keylock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrHeld is returned by non-blocking lockers when another holder owns the key.
var ErrHeld = errors.New("lock_held")

// Locker acquires an exclusive section for key and returns its release func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Arena struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func New() *Arena {
	return &Arena{slots: make(map[string]*slot)}
}

// Key joins parts into a namespaced lock key, e.g. Key("product", "42").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Lock blocks until key is free or ctx is done.
func (a *Arena) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := a.ref(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		a.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			a.unref(key, s)
		})
	}, nil
}

// LockAll acquires every key in ascending order. Duplicates are collapsed.
// On failure the keys already taken are released before returning.
func (a *Arena) LockAll(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortedUnique(keys)
	releases := make([]func(), 0, len(ordered))

	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range ordered {
		release, err := a.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

// Len reports how many keys currently have holders or waiters.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

func (a *Arena) ref(key string) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		a.slots[key] = s
	}
	s.refs++
	return s
}

func (a *Arena) unref(key string, s *slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s.refs--
	if s.refs == 0 && a.slots[key] == s {
		delete(a.slots, key)
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
