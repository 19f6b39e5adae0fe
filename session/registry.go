package session

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

type record struct {
	session Session
	members map[string]struct{}
}

// Registry is a mutex-guarded table of active sessions. It maintains two
// secondary indexes: channel name → session id (for inbound bus dispatch)
// and connection id → session id (to enforce that a connection belongs to at
// most one session at a time).
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*record
	byChannel map[string]string
	byConn    map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*record),
		byChannel: make(map[string]string),
		byConn:    make(map[string]string),
	}
}

// Create inserts a new session with an empty member set. The channel list is
// indexed for inbound dispatch and never recomputed afterwards.
func (r *Registry) Create(id string, kind Kind, channels []string) (Session, error) {
	if id == "" {
		return Session{}, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return Session{}, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	rec := &record{
		session: Session{ID: id, Kind: kind, Channels: slices.Clone(channels)},
		members: make(map[string]struct{}),
	}
	r.sessions[id] = rec
	for _, channel := range channels {
		r.byChannel[channel] = id
	}

	return r.snapshot(rec), nil
}

// Get returns a copy of the session, or ErrNotFound.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.sessions[id]
	if !exists {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.snapshot(rec), nil
}

// AddMember joins a connection to a session. Joining is idempotent, and a
// connection joining a new session is detached from its previous one first.
// Existence is checked under the lock so a join racing a teardown cannot
// resurrect a deleted session.
func (r *Registry) AddMember(id, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if previous, joined := r.byConn[connID]; joined && previous != id {
		if prev, ok := r.sessions[previous]; ok {
			delete(prev.members, connID)
		}
	}

	rec.members[connID] = struct{}{}
	r.byConn[connID] = id
	return nil
}

// RemoveMember detaches a connection from a session. Removing an absent
// member, or from an absent session, is a no-op.
func (r *Registry) RemoveMember(id, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return
	}
	delete(rec.members, connID)
	if r.byConn[connID] == id {
		delete(r.byConn, connID)
	}
}

// DropConn detaches a connection from whatever session it belongs to.
// Used on transport disconnect.
func (r *Registry) DropConn(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, joined := r.byConn[connID]
	if !joined {
		return
	}
	if rec, exists := r.sessions[id]; exists {
		delete(rec.members, connID)
	}
	delete(r.byConn, connID)
}

// Members returns a sorted copy of the member connection ids, or nil if the
// session does not exist.
func (r *Registry) Members(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.sessions[id]
	if !exists {
		return nil
	}

	out := make([]string, 0, len(rec.members))
	for connID := range rec.members {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// Delete removes a session and its indexes. Returns false (a no-op) when the
// session is absent, since teardown may race with a disconnect.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return false
	}

	for _, channel := range rec.session.Channels {
		if r.byChannel[channel] == id {
			delete(r.byChannel, channel)
		}
	}
	for connID := range rec.members {
		if r.byConn[connID] == id {
			delete(r.byConn, connID)
		}
	}
	delete(r.sessions, id)
	return true
}

// SessionForChannel resolves a bus channel name to its owning session.
func (r *Registry) SessionForChannel(channel string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byChannel[channel]
	if !exists {
		return Session{}, false
	}
	rec, exists := r.sessions[id]
	if !exists {
		return Session{}, false
	}
	return r.snapshot(rec), true
}

// SessionForConn returns the id of the session a connection belongs to.
func (r *Registry) SessionForConn(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, joined := r.byConn[connID]
	return id, joined
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns copies of all active sessions, sorted by id.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, r.snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// snapshot copies a record's session. Callers must hold at least the read lock.
func (r *Registry) snapshot(rec *record) Session {
	s := rec.session
	s.Channels = slices.Clone(s.Channels)
	return s
}
