// Package registry tracks which users are reachable right now and how to reach them.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Handle is a live transport endpoint. Implementations must be comparable (pointer types), and
// Send must be safe to call from several goroutines.
type Handle interface {
	Send(frame []byte) error
	Close() error
}

// Registry maps a user id to at most one handle. Writes to handles always happen outside the lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Handle
}

func New() *Registry {
	return &Registry{conns: make(map[int64]Handle)}
}

// Add registers h for userID and returns the handle it replaced, if any.
func (r *Registry) Add(userID int64, h Handle) (prev Handle) {
	r.mu.Lock()
	prev = r.conns[userID]
	r.conns[userID] = h
	n := len(r.conns)
	r.mu.Unlock()

	log.Debug().Int64("user_id", userID).Int("online", n).Msg("connection registered")
	if prev == h {
		return nil
	}
	return prev
}

// Remove drops whatever handle is registered for userID.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	_, ok := r.conns[userID]
	delete(r.conns, userID)
	n := len(r.conns)
	r.mu.Unlock()

	if ok {
		log.Debug().Int64("user_id", userID).Int("online", n).Msg("connection unregistered")
	}
}

// RemoveHandle drops the entry for userID only if it still points at h.
func (r *Registry) RemoveHandle(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; ok && cur == h {
		delete(r.conns, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Lookup returns the handle registered for userID.
func (r *Registry) Lookup(userID int64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[userID]
	return h, ok
}

// SendTo writes frame to userID's handle. A failed write evicts that handle and reports the user
// as unreachable; it is never returned as an error.
func (r *Registry) SendTo(userID int64, frame []byte) bool {
	h, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return r.deliver(userID, h, frame)
}

func (r *Registry) deliver(userID int64, h Handle, frame []byte) bool {
	if err := h.Send(frame); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("send failed, evicting connection")
		r.RemoveHandle(userID, h)
		return false
	}
	return true
}

// Broadcast writes frame to every registered handle concurrently and returns how many writes
// succeeded.
func (r *Registry) Broadcast(frame []byte) int {
	snapshot := r.snapshot()

	var (
		wg        conc.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for userID, h := range snapshot {
		wg.Go(func() {
			if r.deliver(userID, h, frame) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return delivered
}

func (r *Registry) snapshot() map[int64]Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]Handle, len(r.conns))
	for id, h := range r.conns {
		out[id] = h
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
