package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Mem is an in-memory Transport backed by a MemFS. It is the scriptable
// remote used by tests across the repo: dials are counted, authentication can
// be forced to fail, and per-operation errors can be injected through ErrHook.
type Mem struct {
	// AcceptPassword is the only password Connect accepts. Empty accepts any
	// password credential.
	AcceptPassword string
	// ConnectErr, when set, fails every Connect with a network error.
	ConnectErr error
	// ConnectDelay stalls Connect, to widen race windows in tests.
	ConnectDelay time.Duration
	// ErrHook, when set, is consulted by every Conn operation with the
	// operation name and path; a non-nil result aborts the operation.
	ErrHook func(op, path string) error
	// ExecOutput maps commands to canned Exec output.
	ExecOutput map[string]string

	FS *MemFS

	dials int32
}

// NewMem creates an in-memory transport over a fresh filesystem.
func NewMem(acceptPassword string) *Mem {
	return &Mem{AcceptPassword: acceptPassword, FS: NewMemFS()}
}

// Dials reports how many Connect attempts have been made.
func (t *Mem) Dials() int {
	return int(atomic.LoadInt32(&t.dials))
}

func (t *Mem) Connect(ctx context.Context, profile Profile, cred Credential) (Conn, error) {
	atomic.AddInt32(&t.dials, 1)

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	if t.ConnectDelay > 0 {
		select {
		case <-time.After(t.ConnectDelay):
		case <-ctx.Done():
			return nil, &NetworkError{Op: "dial " + profile.Addr(), Err: ctx.Err()}
		}
	}
	if t.ConnectErr != nil {
		return nil, &NetworkError{Op: "dial " + profile.Addr(), Err: t.ConnectErr}
	}
	if t.AcceptPassword != "" {
		pw, ok := cred.(Password)
		if !ok || string(pw) != t.AcceptPassword {
			return nil, &AuthError{Identity: profile.Identity(), Reason: "permission denied"}
		}
	}
	return &memConn{t: t}, nil
}

type memConn struct {
	t      *Mem
	closed atomic.Bool
}

func (c *memConn) check(op, p string) error {
	if c.closed.Load() {
		return &NetworkError{Op: op, Err: fmt.Errorf("connection closed")}
	}
	if c.t.ErrHook != nil {
		if err := c.t.ErrHook(op, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *memConn) ReadDir(p string) ([]Entry, error) {
	if err := c.check("readdir", p); err != nil {
		return nil, err
	}
	return c.t.FS.ReadDir(p)
}

func (c *memConn) Stat(p string) (Entry, error) {
	if err := c.check("stat", p); err != nil {
		return Entry{}, err
	}
	return c.t.FS.Stat(p, true)
}

func (c *memConn) Lstat(p string) (Entry, error) {
	if err := c.check("lstat", p); err != nil {
		return Entry{}, err
	}
	return c.t.FS.Stat(p, false)
}

func (c *memConn) OpenRead(p string) (Channel, error) {
	if err := c.check("open", p); err != nil {
		return nil, err
	}
	data, err := c.t.FS.Read(p)
	if err != nil {
		return nil, err
	}
	return &memChannel{conn: c, path: p, reader: bytes.NewReader(data)}, nil
}

func (c *memConn) OpenWrite(p string) (Channel, error) {
	if err := c.check("create", p); err != nil {
		return nil, err
	}
	if err := c.t.FS.Truncate(p); err != nil {
		return nil, err
	}
	return &memChannel{conn: c, path: p}, nil
}

func (c *memConn) Remove(p string) error {
	if err := c.check("remove", p); err != nil {
		return err
	}
	return c.t.FS.Remove(p)
}

func (c *memConn) Rename(oldPath, newPath string) error {
	if err := c.check("rename", oldPath); err != nil {
		return err
	}
	return c.t.FS.Rename(oldPath, newPath)
}

func (c *memConn) Mkdir(p string) error {
	if err := c.check("mkdir", p); err != nil {
		return err
	}
	return c.t.FS.Mkdir(p)
}

func (c *memConn) Exec(cmd string) (string, error) {
	if err := c.check("exec", cmd); err != nil {
		return "", err
	}
	if out, ok := c.t.ExecOutput[cmd]; ok {
		return out, nil
	}
	return "", fmt.Errorf("command failed: %s", cmd)
}

func (c *memConn) Close() error {
	c.closed.Store(true)
	return nil
}

// memChannel streams one file. Writes land in the filesystem immediately so
// partially written files are observable, as they would be over SFTP.
type memChannel struct {
	conn   *memConn
	path   string
	reader *bytes.Reader
}

func (ch *memChannel) Read(p []byte) (int, error) {
	if err := ch.conn.check("read", ch.path); err != nil {
		return 0, err
	}
	if ch.reader == nil {
		return 0, fmt.Errorf("channel not open for reading")
	}
	return ch.reader.Read(p)
}

func (ch *memChannel) Write(p []byte) (int, error) {
	if err := ch.conn.check("write", ch.path); err != nil {
		return 0, err
	}
	if ch.reader != nil {
		return 0, fmt.Errorf("channel not open for writing")
	}
	if err := ch.conn.t.FS.Append(ch.path, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (ch *memChannel) Close() error {
	return nil
}

type memNode struct {
	data    []byte
	mode    os.FileMode
	target  string
	modTime time.Time
}

// MemFS is a POSIX-path in-memory filesystem.
type MemFS struct {
	mu    sync.RWMutex
	nodes map[string]*memNode
	now   time.Time
}

func NewMemFS() *MemFS {
	fs := &MemFS{
		nodes: make(map[string]*memNode),
		now:   time.Unix(1700000000, 0),
	}
	fs.nodes["/"] = &memNode{mode: os.ModeDir | 0755, modTime: fs.tick()}
	return fs
}

// tick returns a strictly increasing clock so successive writes always get
// distinct mtimes. Callers must hold mu.
func (fs *MemFS) tick() time.Time {
	fs.now = fs.now.Add(time.Second)
	return fs.now
}

func notExist(p string) error {
	return fmt.Errorf("%s: %w", p, os.ErrNotExist)
}

// WriteFile creates or replaces a file, creating parent directories.
func (fs *MemFS) WriteFile(p string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAll(path.Dir(path.Clean(p)))
	fs.nodes[path.Clean(p)] = &memNode{data: append([]byte(nil), data...), mode: 0644, modTime: fs.tick()}
}

// MkdirAll creates a directory and any missing parents.
func (fs *MemFS) MkdirAll(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.mkdirAll(path.Clean(p))
}

func (fs *MemFS) mkdirAll(p string) {
	if p == "/" || p == "." {
		return
	}
	fs.mkdirAll(path.Dir(p))
	if _, ok := fs.nodes[p]; !ok {
		fs.nodes[p] = &memNode{mode: os.ModeDir | 0755, modTime: fs.tick()}
	}
}

// Symlink records a symbolic link at p pointing at target.
func (fs *MemFS) Symlink(target, p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nodes[path.Clean(p)] = &memNode{mode: os.ModeSymlink | 0777, target: target, modTime: fs.tick()}
}

// Touch bumps a file's mtime without changing content, simulating a
// concurrent writer for version marker tests.
func (fs *MemFS) Touch(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if node, ok := fs.nodes[path.Clean(p)]; ok {
		node.modTime = fs.tick()
	}
}

// Content returns a file's bytes, or nil if absent.
func (fs *MemFS) Content(p string) []byte {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	node, ok := fs.nodes[path.Clean(p)]
	if !ok {
		return nil
	}
	return append([]byte(nil), node.data...)
}

// Exists reports whether a path is present.
func (fs *MemFS) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.nodes[path.Clean(p)]
	return ok
}

func (fs *MemFS) resolve(p string) (string, *memNode, error) {
	p = path.Clean(p)
	for depth := 0; depth < 16; depth++ {
		node, ok := fs.nodes[p]
		if !ok {
			return "", nil, notExist(p)
		}
		if node.mode&os.ModeSymlink == 0 {
			return p, node, nil
		}
		if path.IsAbs(node.target) {
			p = path.Clean(node.target)
		} else {
			p = path.Join(path.Dir(p), node.target)
		}
	}
	return "", nil, fmt.Errorf("%s: too many levels of symbolic links", p)
}

func (fs *MemFS) entry(name string, node *memNode) Entry {
	e := Entry{
		Name:    name,
		Size:    int64(len(node.data)),
		Mode:    node.mode,
		ModTime: node.modTime,
	}
	switch {
	case node.mode&os.ModeSymlink != 0:
		e.Kind = KindSymlink
	case node.mode.IsDir():
		e.Kind = KindDir
	default:
		e.Kind = KindFile
	}
	return e
}

func (fs *MemFS) Stat(p string, follow bool) (Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p = path.Clean(p)
	node, ok := fs.nodes[p]
	if !ok {
		return Entry{}, notExist(p)
	}
	if follow && node.mode&os.ModeSymlink != 0 {
		resolved, target, err := fs.resolve(p)
		if err != nil {
			return Entry{}, err
		}
		return fs.entry(path.Base(resolved), target), nil
	}
	return fs.entry(path.Base(p), node), nil
}

func (fs *MemFS) ReadDir(p string) ([]Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	dir, node, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	if !node.mode.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", p)
	}
	var entries []Entry
	for name, child := range fs.nodes {
		if name == "/" || path.Dir(name) != dir {
			continue
		}
		entries = append(entries, fs.entry(path.Base(name), child))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (fs *MemFS) Read(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, node, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	if node.mode.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", p)
	}
	return append([]byte(nil), node.data...), nil
}

func (fs *MemFS) Truncate(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	if parent, ok := fs.nodes[path.Dir(p)]; !ok || !parent.mode.IsDir() {
		return notExist(path.Dir(p))
	}
	if node, ok := fs.nodes[p]; ok {
		if node.mode.IsDir() {
			return fmt.Errorf("%s: is a directory", p)
		}
		node.data = nil
		node.modTime = fs.tick()
		return nil
	}
	fs.nodes[p] = &memNode{mode: 0644, modTime: fs.tick()}
	return nil
}

func (fs *MemFS) Append(p string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	node, ok := fs.nodes[path.Clean(p)]
	if !ok {
		return notExist(p)
	}
	node.data = append(node.data, data...)
	node.modTime = fs.tick()
	return nil
}

func (fs *MemFS) Remove(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	node, ok := fs.nodes[p]
	if !ok {
		return notExist(p)
	}
	if node.mode.IsDir() {
		for name := range fs.nodes {
			if path.Dir(name) == p {
				return fmt.Errorf("%s: directory not empty", p)
			}
		}
	}
	delete(fs.nodes, p)
	return nil
}

func (fs *MemFS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldPath, newPath = path.Clean(oldPath), path.Clean(newPath)
	node, ok := fs.nodes[oldPath]
	if !ok {
		return notExist(oldPath)
	}
	if node.mode.IsDir() {
		prefix := oldPath + "/"
		moved := make(map[string]*memNode)
		for name, child := range fs.nodes {
			if strings.HasPrefix(name, prefix) {
				moved[newPath+"/"+strings.TrimPrefix(name, prefix)] = child
				delete(fs.nodes, name)
			}
		}
		for name, child := range moved {
			fs.nodes[name] = child
		}
	}
	delete(fs.nodes, oldPath)
	fs.nodes[newPath] = node
	node.modTime = fs.tick()
	return nil
}

func (fs *MemFS) Mkdir(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	if _, ok := fs.nodes[p]; ok {
		return fmt.Errorf("%s: %w", p, os.ErrExist)
	}
	if parent, ok := fs.nodes[path.Dir(p)]; !ok || !parent.mode.IsDir() {
		return notExist(path.Dir(p))
	}
	fs.nodes[p] = &memNode{mode: os.ModeDir | 0755, modTime: fs.tick()}
	return nil
}
