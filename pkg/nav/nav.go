// Package nav maintains per-session directory state: the current working
// path, cached listings, and the remote mutations that invalidate them.
package nav

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"skiff/pkg/session"
	"skiff/pkg/transport"
)

// ListError reports a failed directory listing.
type ListError struct {
	Path string
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("failed to list %s: %v", e.Path, e.Err)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// NavigationError reports a rejected navigation target. The session's current
// path is left untouched.
type NavigationError struct {
	Path   string
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("cannot navigate to %s: %s", e.Path, e.Reason)
}

// Navigator lists and caches directory contents per (session, path) and owns
// path-level mutations. Caches are per session so unrelated sessions never
// contend on a lock.
type Navigator struct {
	mu     sync.RWMutex
	caches map[string]*dirCache
}

type dirCache struct {
	mu      sync.RWMutex
	entries map[string][]transport.Entry
}

// New creates an empty navigator.
func New() *Navigator {
	return &Navigator{caches: make(map[string]*dirCache)}
}

func (n *Navigator) cacheFor(sess *session.Session) *dirCache {
	n.mu.RLock()
	c, ok := n.caches[sess.ID()]
	n.mu.RUnlock()
	if ok {
		return c
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok = n.caches[sess.ID()]; !ok {
		c = &dirCache{entries: make(map[string][]transport.Entry)}
		n.caches[sess.ID()] = c
	}
	return c
}

// Resolve normalizes a possibly relative target against the session's
// current path. "." and ".." are collapsed before any remote lookup.
func Resolve(base, target string) string {
	if !path.IsAbs(target) {
		target = path.Join(base, target)
	}
	return path.Clean(target)
}

// List returns the directory's entries, served from cache when a valid
// snapshot exists. Entries sort directories first, then by name.
func (n *Navigator) List(sess *session.Session, dir string) ([]transport.Entry, error) {
	dir = Resolve(sess.Path(), dir)
	c := n.cacheFor(sess)

	c.mu.RLock()
	cached, ok := c.entries[dir]
	c.mu.RUnlock()
	if ok {
		return append([]transport.Entry(nil), cached...), nil
	}

	conn, err := sess.Conn()
	if err != nil {
		return nil, &ListError{Path: dir, Err: err}
	}
	entries, err := conn.ReadDir(dir)
	if err != nil {
		sess.Fault(err)
		return nil, &ListError{Path: dir, Err: err}
	}

	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].Kind == transport.KindDir, entries[j].Kind == transport.KindDir
		if di != dj {
			return di
		}
		return entries[i].Name < entries[j].Name
	})

	c.mu.Lock()
	c.entries[dir] = entries
	c.mu.Unlock()

	return append([]transport.Entry(nil), entries...), nil
}

// Navigate validates the target and updates the session's current path.
// Symlinks are followed before checking the target is a directory.
func (n *Navigator) Navigate(sess *session.Session, target string) (string, error) {
	resolved := Resolve(sess.Path(), target)

	conn, err := sess.Conn()
	if err != nil {
		return "", &NavigationError{Path: resolved, Reason: err.Error()}
	}
	entry, err := conn.Stat(resolved)
	if err != nil {
		sess.Fault(err)
		return "", &NavigationError{Path: resolved, Reason: err.Error()}
	}
	if entry.Kind != transport.KindDir {
		return "", &NavigationError{Path: resolved, Reason: "not a directory"}
	}

	sess.SetPath(resolved)
	return resolved, nil
}

// Invalidate drops the cached listing for a path. Callers performing a
// mutation invoke this for every affected directory.
func (n *Navigator) Invalidate(sess *session.Session, dir string) {
	dir = Resolve(sess.Path(), dir)
	c := n.cacheFor(sess)
	c.mu.Lock()
	delete(c.entries, dir)
	c.mu.Unlock()
}

// InvalidateParent drops the cached listing of the path's parent directory.
func (n *Navigator) InvalidateParent(sess *session.Session, p string) {
	n.Invalidate(sess, path.Dir(Resolve(sess.Path(), p)))
}

// Forget drops all cached state for a session, typically after it closes.
func (n *Navigator) Forget(sessionID string) {
	n.mu.Lock()
	delete(n.caches, sessionID)
	n.mu.Unlock()
}

// Mkdir creates a remote directory and invalidates the parent listing.
func (n *Navigator) Mkdir(sess *session.Session, dir string) error {
	dir = Resolve(sess.Path(), dir)
	conn, err := sess.Conn()
	if err != nil {
		return err
	}
	if err := conn.Mkdir(dir); err != nil {
		sess.Fault(err)
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	log.Printf("[INFO] Created directory %s on %s", dir, sess.ID())
	n.InvalidateParent(sess, dir)
	return nil
}

// Touch creates an empty remote file and invalidates the parent listing. It
// refuses to truncate an existing file.
func (n *Navigator) Touch(sess *session.Session, p string) error {
	p = Resolve(sess.Path(), p)
	conn, err := sess.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.Lstat(p); err == nil {
		return fmt.Errorf("%s already exists", p)
	}
	ch, err := conn.OpenWrite(p)
	if err != nil {
		sess.Fault(err)
		return fmt.Errorf("failed to create %s: %w", p, err)
	}
	if err := ch.Close(); err != nil {
		return fmt.Errorf("failed to create %s: %w", p, err)
	}
	n.InvalidateParent(sess, p)
	return nil
}

// Rename moves a remote file or directory and invalidates both parents.
func (n *Navigator) Rename(sess *session.Session, oldPath, newPath string) error {
	oldPath = Resolve(sess.Path(), oldPath)
	newPath = Resolve(sess.Path(), newPath)
	conn, err := sess.Conn()
	if err != nil {
		return err
	}
	if err := conn.Rename(oldPath, newPath); err != nil {
		sess.Fault(err)
		return fmt.Errorf("failed to rename %s: %w", oldPath, err)
	}
	log.Printf("[INFO] Renamed %s -> %s on %s", oldPath, newPath, sess.ID())
	n.InvalidateParent(sess, oldPath)
	n.InvalidateParent(sess, newPath)
	return nil
}

// NotFound reports whether an error looks like a missing-path failure from
// the transport. SFTP servers do not always unwrap to os.ErrNotExist.
func NotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such file")
}
