package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"skiff/pkg/transport"
)

// Registry manages live sessions keyed by connection identity.
type Registry struct {
	transport transport.Transport

	mu       sync.RWMutex
	sessions map[string]*Session

	// group coalesces concurrent dials for the same identity, so at most one
	// authentication attempt is ever in flight per target.
	group singleflight.Group

	// closeHook runs with the session ID after a session closes, so state
	// held per session elsewhere (directory caches) can be released.
	closeHook func(sessionID string)
}

// NewRegistry creates a registry dialing through the given transport.
func NewRegistry(t transport.Transport) *Registry {
	return &Registry{
		transport: t,
		sessions:  make(map[string]*Session),
	}
}

// SetCloseHook registers fn to run whenever a session closes. Set it before
// sessions are established.
func (r *Registry) SetCloseHook(fn func(sessionID string)) {
	r.closeHook = fn
}

// GetOrCreate returns the existing Ready session for the profile's identity,
// or establishes one. Concurrent callers for the same identity share a single
// authentication attempt and observe the same outcome. Authentication is
// never retried here; a Failed session stays Failed until Reconnect.
func (r *Registry) GetOrCreate(ctx context.Context, profile transport.Profile, cred transport.Credential) (*Session, error) {
	id := profile.Identity()

	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		if state, _ := sess.State(); state == StateReady {
			return sess, nil
		}
	}

	return r.connect(ctx, profile, cred)
}

// Reconnect re-enters Authenticating for a Failed or Closed session,
// typically with corrected credentials.
func (r *Registry) Reconnect(ctx context.Context, id string, cred transport.Credential) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if state, _ := sess.State(); state != StateFailed && state != StateClosed {
		return nil, fmt.Errorf("cannot reconnect %s while %s", id, state)
	}
	return r.connect(ctx, sess.Profile(), cred)
}

func (r *Registry) connect(ctx context.Context, profile transport.Profile, cred transport.Credential) (*Session, error) {
	id := profile.Identity()

	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		r.mu.Lock()
		sess, ok := r.sessions[id]
		if !ok {
			sess = newSession(profile)
			r.sessions[id] = sess
		}
		r.mu.Unlock()

		ready, err := sess.beginAuth()
		if err != nil {
			return sess, err
		}
		if ready {
			return sess, nil
		}

		log.Printf("[INFO] Connecting to %s", id)
		conn, err := r.transport.Connect(ctx, profile, cred)
		sess.finishAuth(conn, err)
		if err != nil {
			log.Printf("[ERROR] Connection to %s failed: %v", id, err)
			return sess, err
		}
		log.Printf("[INFO] Session %s ready", id)
		return sess, nil
	})

	sess, _ := v.(*Session)
	return sess, err
}

// Get returns a session by identity.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// List returns all session identities, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close tears down one session. Transfer tasks bound to it observe the
// cancelled session context and fail with a session-closed error. The record
// stays in the registry so Reconnect remains valid.
func (r *Registry) Close(id string) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	log.Printf("[INFO] Closing session %s", id)
	sess.close()
	if r.closeHook != nil {
		r.closeHook(id)
	}
	return nil
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()
	for _, sess := range sessions {
		sess.close()
		if r.closeHook != nil {
			r.closeHook(sess.ID())
		}
	}
}
