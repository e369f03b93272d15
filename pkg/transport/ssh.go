package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH is the production Transport, backed by golang.org/x/crypto/ssh and
// github.com/pkg/sftp.
type SSH struct {
	cfg Config
}

// NewSSH creates an SSH transport with the given options.
func NewSSH(cfg Config) *SSH {
	return &SSH{cfg: cfg}
}

// Connect dials the profile's endpoint, authenticates and opens the SFTP
// subsystem. The context and the configured dial timeout both bound the
// attempt.
func (t *SSH) Connect(ctx context.Context, profile Profile, cred Credential) (Conn, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	auth, err := cred.authMethods()
	if err != nil {
		return nil, &AuthError{Identity: profile.Identity(), Reason: err.Error()}
	}

	clientCfg := &ssh.ClientConfig{
		User:            profile.Username,
		Auth:            auth,
		HostKeyCallback: t.hostKeyCallback(),
		Timeout:         t.cfg.dialTimeout(),
	}

	dialer := net.Dialer{Timeout: t.cfg.dialTimeout()}
	tcp, err := dialer.DialContext(ctx, "tcp", profile.Addr())
	if err != nil {
		return nil, &NetworkError{Op: "dial " + profile.Addr(), Err: err}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(tcp, profile.Addr(), clientCfg)
	if err != nil {
		tcp.Close()
		if isAuthFailure(err) {
			return nil, &AuthError{Identity: profile.Identity(), Reason: err.Error()}
		}
		return nil, &NetworkError{Op: "handshake " + profile.Addr(), Err: err}
	}

	client := ssh.NewClient(clientConn, chans, reqs)
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &NetworkError{Op: "open sftp subsystem", Err: err}
	}

	return &sshConn{ssh: client, sftp: sftpClient}, nil
}

// hostKeyCallback verifies host keys against known_hosts, creating the file
// if needed. It degrades to accepting any key only when no usable known_hosts
// location exists.
func (t *SSH) hostKeyCallback() ssh.HostKeyCallback {
	path := t.cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ssh.InsecureIgnoreHostKey()
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return ssh.InsecureIgnoreHostKey()
		}
		f.Close()
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	return cb
}

// sshConn implements Conn over a live SSH client and its SFTP subsystem.
type sshConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func entryFromInfo(info os.FileInfo) Entry {
	e := Entry{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		e.Kind = KindSymlink
	case info.IsDir():
		e.Kind = KindDir
	default:
		e.Kind = KindFile
	}
	return e
}

func (c *sshConn) ReadDir(path string) ([]Entry, error) {
	infos, err := c.sftp.ReadDir(path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, entryFromInfo(info))
	}
	return entries, nil
}

func (c *sshConn) Stat(path string) (Entry, error) {
	info, err := c.sftp.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(info), nil
}

func (c *sshConn) Lstat(path string) (Entry, error) {
	info, err := c.sftp.Lstat(path)
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(info), nil
}

func (c *sshConn) OpenRead(path string) (Channel, error) {
	return c.sftp.Open(path)
}

func (c *sshConn) OpenWrite(path string) (Channel, error) {
	return c.sftp.Create(path)
}

func (c *sshConn) Remove(path string) error {
	return c.sftp.Remove(path)
}

func (c *sshConn) Rename(oldPath, newPath string) error {
	return c.sftp.Rename(oldPath, newPath)
}

func (c *sshConn) Mkdir(path string) error {
	return c.sftp.Mkdir(path)
}

func (c *sshConn) Exec(cmd string) (string, error) {
	sess, err := c.ssh.NewSession()
	if err != nil {
		return "", &NetworkError{Op: "open exec channel", Err: err}
	}
	defer sess.Close()

	output, err := sess.CombinedOutput(cmd)
	if err != nil {
		return "", fmt.Errorf("command failed: %w", err)
	}
	return string(output), nil
}

func (c *sshConn) Close() error {
	c.sftp.Close()
	return c.ssh.Close()
}
