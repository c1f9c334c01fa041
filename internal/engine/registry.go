package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/camfleet/camfleet-server/internal/models"
)

// Registry is the authoritative set of known sessions, keyed by device
// id. All callers get copies; the stored sessions are mutated only
// through the registry, and Busy/Settings only by the dispatcher while
// holding the session's busy-lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	// invoked on connectivity transitions, outside the lock
	onStatusChange func(*models.Session)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*models.Session)}
}

// OnStatusChange installs a hook fired whenever a session's connectivity
// changes. Must be set before the registry is shared.
func (r *Registry) OnStatusChange(fn func(*models.Session)) {
	r.onStatusChange = fn
}

// Upsert inserts or replaces a session by id. The busy flag of an
// existing session is preserved; only the dispatcher may toggle it.
func (r *Registry) Upsert(s *models.Session) {
	c := s.Clone()

	r.mu.Lock()
	if prev, ok := r.sessions[c.ID]; ok {
		c.Busy = prev.Busy
	}
	r.sessions[c.ID] = c
	r.mu.Unlock()
}

// Remove deletes a session by id
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns a copy of the session with the given id
func (r *Registry) Get(id string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Snapshot returns point-in-time copies of the sessions with the given
// ids, or of all sessions if none are given, in ascending id order
func (r *Registry) Snapshot(ids ...string) []*models.Session {
	r.mu.RLock()

	var out []*models.Session
	if len(ids) == 0 {
		out = make([]*models.Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			out = append(out, s.Clone())
		}
	} else {
		out = make([]*models.Session, 0, len(ids))
		for _, id := range ids {
			if s, ok := r.sessions[id]; ok {
				out = append(out, s.Clone())
			}
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all known session ids in ascending order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Clear removes every session
func (r *Registry) Clear() {
	r.mu.Lock()
	r.sessions = make(map[string]*models.Session)
	r.mu.Unlock()
}

// acquire takes the session's exclusive busy-lock. It fails if the
// session is gone or already executing a command.
func (r *Registry) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.Busy {
		return false
	}
	s.Busy = true
	return true
}

// release returns the busy-lock. Releasing a session that was removed
// mid-batch is a no-op.
func (r *Registry) release(id string) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		s.Busy = false
	}
	r.mu.Unlock()
}

// refreshIdentity updates a session's display name and last-seen time
// in place, leaving connectivity, settings and busy state untouched
func (r *Registry) refreshIdentity(id, displayName string) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		s.DisplayName = displayName
		s.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// applySettings merges setting values into the session. Caller must
// hold the session's busy-lock.
func (r *Registry) applySettings(id string, settings models.Settings) {
	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		if s.Settings == nil {
			s.Settings = make(models.Settings, len(settings))
		}
		for k, v := range settings {
			s.Settings[k] = v
		}
		s.LastSeen = time.Now()
	}
	r.mu.Unlock()
}

// setConnectivity updates the session's connectivity and last error,
// firing the status hook on a transition
func (r *Registry) setConnectivity(id string, c models.Connectivity, lastError string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	changed := s.Connectivity != c
	s.Connectivity = c
	s.LastError = lastError
	s.LastSeen = time.Now()
	var snap *models.Session
	if changed && r.onStatusChange != nil {
		snap = s.Clone()
	}
	r.mu.Unlock()

	if snap != nil {
		r.onStatusChange(snap)
	}
}
