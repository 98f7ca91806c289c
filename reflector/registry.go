package reflector

import (
	"sync"

	"github.com/rs/zerolog"
)

// SessionRegistry is the process-wide name -> ReflectorSession directory
// with reference counting and atomic resolve-or-register (spec §4.4).
//
// Lock discipline (spec §5): the registry mutex is held only across
// lookup/insert/remove, never across network I/O, and resolveOrRegister
// must never be called while a per-session mutex is held. Destruction on
// refcount-to-zero is deferred to a goroutine so that a caller releasing a
// handle from inside a stream or session callback cannot deadlock against
// itself.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*ReflectorSession
	log      zerolog.Logger
}

// NewSessionRegistry allocates an empty registry.
func NewSessionRegistry(log zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*ReflectorSession),
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// Resolve looks up name and, if found, increments its refcount.
func (r *SessionRegistry) Resolve(name string) (*ReflectorSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[name]
	if !ok {
		return nil, false
	}
	s.addRef()
	return s, true
}

// ResolveOrRegister returns the existing session for name, or inserts
// candidate and returns it if none exists. The returned bool is true when
// candidate was the one inserted. Either way the returned session's
// refcount has been incremented once on behalf of the caller.
func (r *SessionRegistry) ResolveOrRegister(name string, candidate *ReflectorSession) (*ReflectorSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[name]; ok {
		existing.addRef()
		return existing, false
	}

	r.sessions[name] = candidate
	candidate.addRef()
	r.log.Info().Str("session", name).Msg("session registered")
	return candidate, true
}

// Release decrements session's refcount and, if it reaches zero, removes it
// from the registry and tears it down on a dedicated goroutine.
func (r *SessionRegistry) Release(session *ReflectorSession) {
	remaining := session.release()
	if remaining > 0 {
		return
	}

	r.mu.Lock()
	if cur, ok := r.sessions[session.Name]; ok && cur == session {
		delete(r.sessions, session.Name)
	}
	r.mu.Unlock()

	r.log.Info().Str("session", session.Name).Msg("session removed, refcount reached zero")
	go session.tearDownAllSubscribers()
}

// Unregister forcibly removes name regardless of refcount, used by `.kill`
// handling (spec §4.5 ANNOUNCE, end-to-end scenario 4).
func (r *SessionRegistry) Unregister(name string) (*ReflectorSession, bool) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}

	r.log.Info().Str("session", name).Msg("session force-removed (.kill)")
	return s, true
}

// Count reports how many sessions currently sit in the registry; used by
// tests asserting invariant 1 from spec §8.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
