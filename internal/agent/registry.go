// ABOUTME: Thread-safe map from session id to a weak session handle
// ABOUTME: Weak pointers keep the registry from pinning host-owned sessions alive

package agent

import (
	"sync"
	"weak"

	"github.com/2389/loom/internal/asp"
	"github.com/2389/loom/internal/session"
)

// sessionRegistry maps agent-minted session ids to weak handles of the
// host-owned session objects. The registry never keeps a session alive: once
// the host drops its last strong reference the entry goes dead and lookups
// treat it as missing. Dead entries are pruned opportunistically on insert
// and cleared wholesale on process exit.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[asp.SessionID]weak.Pointer[session.Session]
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[asp.SessionID]weak.Pointer[session.Session]),
	}
}

// insert registers a session handle under its id, replacing any dead entry.
// Every insert also prunes entries whose referent has been collected.
func (r *sessionRegistry) insert(id asp.SessionID, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, p := range r.sessions {
		if p.Value() == nil {
			delete(r.sessions, k)
		}
	}
	r.sessions[id] = weak.Make(s)
}

// lookup resolves an id to a live session. A missing id and a dead weak
// pointer are indistinguishable to the caller: both report no session.
func (r *sessionRegistry) lookup(id asp.SessionID) (*session.Session, bool) {
	r.mu.RLock()
	p, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := p.Value()
	if s == nil {
		return nil, false
	}
	return s, true
}

// remove drops one entry. Called when the host closes a session while the
// process keeps running.
func (r *sessionRegistry) remove(id asp.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// removeAll clears the registry and returns the still-live handles, in no
// particular order. Used for the exit broadcast.
func (r *sessionRegistry) removeAll() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make([]*session.Session, 0, len(r.sessions))
	for id, p := range r.sessions {
		if s := p.Value(); s != nil {
			live = append(live, s)
		}
		delete(r.sessions, id)
	}
	return live
}

// len reports the number of entries, dead or alive. Tests only.
func (r *sessionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
