package session

import (
	"errors"
	"sort"
	"time"

	"github.com/libevm/shlop-app-sub002/internal/config"
)

// ErrAlreadyConnected is returned by Register under the reject policy when
// the identity already has a live connection.
var ErrAlreadyConnected = errors.New("already connected")

// Registry maps connections to sessions. Connections are tracked from the
// moment they are accepted so unauthenticated sockets can be reaped too.
// Not safe for concurrent use; the game loop owns it.
type Registry struct {
	policy string

	byConn  map[string]*Session
	byName  map[string]*Session
	pending map[string]time.Time // connID -> last activity, before auth
}

// NewRegistry creates a registry with the given duplicate-login policy.
func NewRegistry(policy string) *Registry {
	if policy != config.DuplicateReject {
		policy = config.DuplicateReplace
	}
	return &Registry{
		policy:  policy,
		byConn:  make(map[string]*Session),
		byName:  make(map[string]*Session),
		pending: make(map[string]time.Time),
	}
}

// Track records an accepted but not yet authenticated connection.
func (r *Registry) Track(connID string, now time.Time) {
	r.pending[connID] = now
}

// Touch refreshes liveness for a connection in either state.
func (r *Registry) Touch(connID string, now time.Time) {
	if s, ok := r.byConn[connID]; ok {
		s.LastActivity = now
		return
	}
	if _, ok := r.pending[connID]; ok {
		r.pending[connID] = now
	}
}

// Tracked reports whether connID is still open, authenticated or not.
func (r *Registry) Tracked(connID string) bool {
	if _, ok := r.pending[connID]; ok {
		return true
	}
	_, ok := r.byConn[connID]
	return ok
}

// Authenticated reports whether connID has completed auth.
func (r *Registry) Authenticated(connID string) bool {
	_, ok := r.byConn[connID]
	return ok
}

// Register stores s, unassigned to any room. Under the replace policy any
// previous live session for the same name is unregistered and returned so
// the caller can evict it. Under the reject policy ErrAlreadyConnected is
// returned and nothing changes.
func (r *Registry) Register(s *Session) (*Session, error) {
	prev, exists := r.byName[s.Name]
	if exists && r.policy == config.DuplicateReject {
		return nil, ErrAlreadyConnected
	}
	if exists {
		delete(r.byConn, prev.ConnID)
	}
	delete(r.pending, s.ConnID)
	r.byConn[s.ConnID] = s
	r.byName[s.Name] = s
	return prev, nil
}

// ByConn returns the session bound to connID.
func (r *Registry) ByConn(connID string) (*Session, bool) {
	s, ok := r.byConn[connID]
	return s, ok
}

// ByName returns the live session for a character.
func (r *Registry) ByName(name string) (*Session, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Remove forgets a connection. It returns the session that was bound to it,
// or nil for an unauthenticated or already replaced connection.
func (r *Registry) Remove(connID string) *Session {
	delete(r.pending, connID)
	s, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	delete(r.byConn, connID)
	if r.byName[s.Name] == s {
		delete(r.byName, s.Name)
	}
	return s
}

// Idle lists connections with no activity for at least timeout.
func (r *Registry) Idle(now time.Time, timeout time.Duration) []string {
	var out []string
	for id, last := range r.pending {
		if now.Sub(last) >= timeout {
			out = append(out, id)
		}
	}
	for id, s := range r.byConn {
		if now.Sub(s.LastActivity) >= timeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Sessions returns all live sessions ordered by name.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len is the number of authenticated sessions.
func (r *Registry) Len() int { return len(r.byName) }

// Pending is the number of connections still waiting to authenticate.
func (r *Registry) Pending() int { return len(r.pending) }
