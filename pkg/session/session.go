// Package session owns the live remote sessions. A session is an
// authenticated logical connection to one host/user pair; the registry keys
// sessions by that identity and guarantees a single authentication attempt
// per identity at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"skiff/pkg/transport"
)

// State is a session's authentication state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unauthenticated"
	}
}

var (
	// ErrNotReady is returned when an operation needs a Ready session.
	ErrNotReady = errors.New("session not ready")
	// ErrClosed is reported to work that was cut short by Close.
	ErrClosed = errors.New("session closed")
	// ErrNotFound is returned for unknown session identities.
	ErrNotFound = errors.New("session not found")
)

// Session is owned exclusively by the Registry; other packages hold only the
// pointer and go through its accessors.
type Session struct {
	profile transport.Profile

	mu     sync.Mutex
	state  State
	reason error
	conn   transport.Conn
	path   string

	// ctx is cancelled when the session closes; tasks bound to the session
	// derive their contexts from it.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(profile transport.Profile) *Session {
	s := &Session{profile: profile, path: "/"}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ID returns the session's identity key (user@host:port).
func (s *Session) ID() string {
	return s.profile.Identity()
}

func (s *Session) Profile() transport.Profile {
	return s.profile
}

// State returns the current state and, for Failed, the reason.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Conn returns the live connection, or ErrNotReady.
func (s *Session) Conn() (transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, fmt.Errorf("%w (%s is %s)", ErrNotReady, s.profile.Identity(), s.state)
	}
	return s.conn, nil
}

// Context is cancelled when the session closes. Reconnecting a closed
// session installs a fresh context, so the lock covers the read.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Path returns the session's current remote working path.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath records a new working path. Validation belongs to the navigator.
func (s *Session) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// Fault marks the session Failed after a connection-level error discovered in
// use. Detection is lazy: nothing polls the transport in the background.
func (s *Session) Fault(err error) {
	var netErr *transport.NetworkError
	if !errors.As(err, &netErr) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.state = StateFailed
	s.reason = err
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// close tears the session down and releases transport resources. Work bound
// to the session context fails with ErrClosed.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.reason = nil
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// beginAuth transitions into Authenticating. Valid from Unauthenticated,
// Failed and Closed; a Ready session reports itself instead.
func (s *Session) beginAuth() (alreadyReady bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return true, nil
	case StateAuthenticating:
		return false, fmt.Errorf("authentication already in flight for %s", s.profile.Identity())
	}
	if s.state == StateClosed {
		// A closed session gets a fresh lifetime on reconnect.
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.state = StateAuthenticating
	s.reason = nil
	return false, nil
}

func (s *Session) finishAuth(conn transport.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.reason = err
		return
	}
	s.state = StateReady
	s.conn = conn
	s.path = "/"
}
