// Package editor stages remote files for local editing and commits them back
// with lost-update protection: a commit re-verifies the remote version marker
// recorded at open time and refuses to overwrite a file another writer
// changed in between.
package editor

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"skiff/pkg/nav"
	"skiff/pkg/session"
	"skiff/pkg/transport"
)

// BufferState tracks an edit buffer's lifecycle.
type BufferState int

const (
	StateClean BufferState = iota
	StateDirty
	StateCommitting
	StateCommitted
	StateCommitFailed
	StateDiscarded
)

func (s BufferState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateCommitFailed:
		return "commit-failed"
	case StateDiscarded:
		return "discarded"
	default:
		return "clean"
	}
}

// ConflictError reports that the remote file changed since it was staged.
// The caller must decide: force-commit, re-open, or discard.
type ConflictError struct {
	Path    string
	Base    transport.Marker
	Current transport.Marker
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote file %s changed since it was opened (was %s, now %s)",
		e.Path, e.Base, e.Current)
}

// ErrBufferDone is returned for operations on a committed or discarded buffer.
var ErrBufferDone = errors.New("edit buffer is no longer active")

// Buffer stages one remote file. It is created by Manager.Open and destroyed
// by a successful commit or a discard.
type Buffer struct {
	ID   int
	Path string

	sess *session.Session

	mu      sync.Mutex
	content []byte
	state   BufferState
	base    transport.Marker
	lastErr error
}

// State returns the buffer's lifecycle state.
func (b *Buffer) State() BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Dirty reports whether the staged content differs from what was opened.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateDirty
}

// Content returns a copy of the staged content.
func (b *Buffer) Content() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.content...)
}

// Session returns the owning session's identity.
func (b *Buffer) Session() string {
	return b.sess.ID()
}

// Edit replaces the staged content. Pure local mutation, no I/O.
func (b *Buffer) Edit(content []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClean, StateDirty, StateCommitFailed:
	default:
		return fmt.Errorf("%w: %s", ErrBufferDone, b.state)
	}
	b.content = append([]byte(nil), content...)
	b.state = StateDirty
	return nil
}

func (b *Buffer) beginCommit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClean, StateDirty, StateCommitFailed:
		b.state = StateCommitting
		return nil
	case StateCommitting:
		return fmt.Errorf("commit already in progress for %s", b.Path)
	default:
		return fmt.Errorf("%w: %s", ErrBufferDone, b.state)
	}
}

func (b *Buffer) finishCommit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateCommitFailed
		b.lastErr = err
		return
	}
	b.state = StateCommitted
	b.lastErr = nil
}

// Manager owns the open edit buffers.
type Manager struct {
	nav *nav.Navigator

	mu      sync.Mutex
	buffers map[int]*Buffer
	nextID  int
}

// NewManager creates a manager that invalidates directory listings through
// the given navigator after commits.
func NewManager(navigator *nav.Navigator) *Manager {
	return &Manager{nav: navigator, buffers: make(map[int]*Buffer)}
}

// Open downloads the full remote file into a new buffer and records its
// version marker.
func (m *Manager) Open(sess *session.Session, remotePath string) (*Buffer, error) {
	remotePath = nav.Resolve(sess.Path(), remotePath)

	conn, err := sess.Conn()
	if err != nil {
		return nil, err
	}
	entry, err := conn.Stat(remotePath)
	if err != nil {
		sess.Fault(err)
		return nil, fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}
	if entry.Kind == transport.KindDir {
		return nil, fmt.Errorf("%s is a directory", remotePath)
	}

	ch, err := conn.OpenRead(remotePath)
	if err != nil {
		sess.Fault(err)
		return nil, fmt.Errorf("failed to open %s: %w", remotePath, err)
	}
	defer ch.Close()
	content, err := io.ReadAll(ch)
	if err != nil {
		sess.Fault(err)
		return nil, fmt.Errorf("failed to read %s: %w", remotePath, err)
	}

	m.mu.Lock()
	m.nextID++
	buf := &Buffer{
		ID:      m.nextID,
		Path:    remotePath,
		sess:    sess,
		content: content,
		state:   StateClean,
		base:    entry.Marker(),
	}
	m.buffers[buf.ID] = buf
	m.mu.Unlock()

	log.Printf("[INFO] Staged %s (%d bytes) for editing", remotePath, len(content))
	return buf, nil
}

// Commit uploads the staged content after re-verifying the version marker.
// On ConflictError nothing is uploaded. A successful commit invalidates the
// containing directory's listing and destroys the buffer.
func (m *Manager) Commit(buf *Buffer) error {
	return m.commit(buf, false)
}

// CommitForce commits without the marker check, implementing the explicit
// "overwrite anyway" decision after a conflict.
func (m *Manager) CommitForce(buf *Buffer) error {
	return m.commit(buf, true)
}

func (m *Manager) commit(buf *Buffer, force bool) error {
	if err := buf.beginCommit(); err != nil {
		return err
	}

	err := m.push(buf, force)
	buf.finishCommit(err)
	if err != nil {
		return err
	}

	m.nav.InvalidateParent(buf.sess, buf.Path)
	m.remove(buf.ID)
	log.Printf("[INFO] Committed %s", buf.Path)
	return nil
}

func (m *Manager) push(buf *Buffer, force bool) error {
	conn, err := buf.sess.Conn()
	if err != nil {
		return err
	}

	if !force {
		entry, err := conn.Stat(buf.Path)
		if err != nil {
			buf.sess.Fault(err)
			return fmt.Errorf("failed to verify %s: %w", buf.Path, err)
		}
		if current := entry.Marker(); !current.Equal(buf.base) {
			return &ConflictError{Path: buf.Path, Base: buf.base, Current: current}
		}
	}

	ch, err := conn.OpenWrite(buf.Path)
	if err != nil {
		buf.sess.Fault(err)
		return fmt.Errorf("failed to open %s for writing: %w", buf.Path, err)
	}
	if _, err := ch.Write(buf.Content()); err != nil {
		ch.Close()
		buf.sess.Fault(err)
		return fmt.Errorf("failed to write %s: %w", buf.Path, err)
	}
	return ch.Close()
}

// Discard destroys the buffer without any remote effect. A buffer whose
// commit is in flight cannot be discarded; the commit outcome settles it.
func (m *Manager) Discard(buf *Buffer) error {
	buf.mu.Lock()
	if buf.state == StateCommitting {
		buf.mu.Unlock()
		return fmt.Errorf("cannot discard %s while a commit is in progress", buf.Path)
	}
	buf.state = StateDiscarded
	buf.mu.Unlock()
	m.remove(buf.ID)
	return nil
}

// Buffers snapshots the open buffers, for display.
func (m *Manager) Buffers() []*Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Buffer, 0, len(m.buffers))
	for _, b := range m.buffers {
		out = append(out, b)
	}
	return out
}

func (m *Manager) remove(id int) {
	m.mu.Lock()
	delete(m.buffers, id)
	m.mu.Unlock()
}
