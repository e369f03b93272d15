// Package transport wraps the SSH/SFTP client libraries behind a narrow
// capability interface. Everything above this package (sessions, navigation,
// transfers, edits) talks to a remote host only through Transport, Conn and
// Channel; nothing above it imports the SSH libraries directly.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Profile identifies a remote endpoint and account. It is immutable once a
// session has been established from it.
type Profile struct {
	Host     string
	Port     int
	Username string
	Label    string
}

// Identity returns the stable identity key for this profile.
func (p Profile) Identity() string {
	return fmt.Sprintf("%s@%s:%d", p.Username, p.Host, p.Port)
}

// Addr returns the dialable host:port address.
func (p Profile) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Validate checks that the profile can be dialed.
func (p Profile) Validate() error {
	if p.Host == "" {
		return errors.New("host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.New("invalid port number")
	}
	if p.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// Kind classifies a directory entry.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// Entry is an immutable snapshot of one remote file or directory.
type Entry struct {
	Name    string
	Kind    Kind
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// Marker returns the entry's version marker.
func (e Entry) Marker() Marker {
	return Marker{Size: e.Size, ModTime: e.ModTime.Unix()}
}

// Marker is a cheap fingerprint of a remote file, used to detect concurrent
// modification without comparing content.
type Marker struct {
	Size    int64
	ModTime int64
}

func (m Marker) Equal(other Marker) bool {
	return m.Size == other.Size && m.ModTime == other.ModTime
}

func (m Marker) String() string {
	return fmt.Sprintf("size=%d mtime=%d", m.Size, m.ModTime)
}

// Config holds transport-level options.
type Config struct {
	// DialTimeout bounds connect plus authentication. Zero means 30s.
	DialTimeout time.Duration
	// KnownHostsPath overrides the host key database location. Empty means
	// ~/.ssh/known_hosts.
	KnownHostsPath string
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 30 * time.Second
	}
	return c.DialTimeout
}

// Transport dials remote endpoints. Connect blocks until the connection is
// authenticated or fails; it never retries on its own.
type Transport interface {
	Connect(ctx context.Context, profile Profile, cred Credential) (Conn, error)
}

// Channel is a single logical stream over a connection, used for one
// read or write operation.
type Channel interface {
	io.ReadWriteCloser
}

// Conn is an authenticated connection to one remote host. Operations may
// block the calling goroutine; cancellation and retry policy belong to the
// layers above.
type Conn interface {
	// ReadDir lists a directory without following symlinks in its entries.
	ReadDir(path string) ([]Entry, error)
	// Stat follows symlinks; Lstat does not.
	Stat(path string) (Entry, error)
	Lstat(path string) (Entry, error)
	// OpenRead and OpenWrite open a channel streaming the file's content.
	// OpenWrite truncates or creates the target.
	OpenRead(path string) (Channel, error)
	OpenWrite(path string) (Channel, error)
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Mkdir(path string) error
	// Exec runs a command on the remote host and returns combined output.
	Exec(cmd string) (string, error)
	Close() error
}
