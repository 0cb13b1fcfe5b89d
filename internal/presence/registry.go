// Package presence tracks which users currently hold live connections.
//
// A user may hold several handles at once (one per tab or device). The
// registry only answers reachability questions; it never owns the handles
// and never closes them.
package presence

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

type Connection[H comparable] struct {
	UserId      string
	Handle      H
	ConnectedAt time.Time
}

type Registry[H comparable] struct {
	mu    sync.RWMutex
	users map[string]map[H]time.Time
	now   func() time.Time
}

func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{
		users: make(map[string]map[H]time.Time),
		now:   time.Now,
	}
}

// Register adds handle to the user's set. Registering the same handle twice
// keeps the original connection time.
func (r *Registry[H]) Register(userId string, handle H) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.users[userId]
	if !ok {
		handles = make(map[H]time.Time)
		r.users[userId] = handles
	}

	if _, ok := handles[handle]; !ok {
		handles[handle] = r.now().UTC()
	}
}

// Unregister removes one handle and reports whether the user has no
// handles left. Unknown users and handles are ignored.
func (r *Registry[H]) Unregister(userId string, handle H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.users[userId]
	if !ok {
		return true
	}

	delete(handles, handle)
	if len(handles) == 0 {
		delete(r.users, userId)
		return true
	}

	return false
}

// Resolve returns every live handle for userId, or nil when the user is absent.
func (r *Registry[H]) Resolve(userId string) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles, ok := r.users[userId]
	if !ok {
		return nil
	}

	return lo.Keys(handles)
}

func (r *Registry[H]) Present(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[userId]
	return ok
}

func (r *Registry[H]) Connections(userId string) []Connection[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapToSlice(r.users[userId], func(h H, at time.Time) Connection[H] {
		return Connection[H]{UserId: userId, Handle: h, ConnectedAt: at}
	})
}

// Users returns the ids of all present users in no particular order.
func (r *Registry[H]) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.users)
}

func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}
