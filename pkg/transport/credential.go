package transport

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Credential is the tagged variant of authentication material. It crosses
// the transport boundary opaquely: implementations are consumed during the
// authentication attempt and must never be logged or retained on a session.
type Credential interface {
	authMethods() ([]ssh.AuthMethod, error)
}

// Password authenticates with a plain password.
type Password string

func (p Password) authMethods() ([]ssh.AuthMethod, error) {
	return []ssh.AuthMethod{ssh.Password(string(p))}, nil
}

// KeyFile authenticates with a private key read from disk.
type KeyFile struct {
	Path       string
	Passphrase string
}

func (k KeyFile) authMethods() ([]ssh.AuthMethod, error) {
	pem, err := os.ReadFile(k.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return KeyPEM{PEM: pem, Passphrase: k.Passphrase}.authMethods()
}

// KeyPEM authenticates with in-memory private key material, e.g. a key
// decrypted from the profile store.
type KeyPEM struct {
	PEM        []byte
	Passphrase string
}

func (k KeyPEM) authMethods() ([]ssh.AuthMethod, error) {
	signer, err := ssh.ParsePrivateKey(k.PEM)
	if err != nil {
		if k.Passphrase == "" {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(k.PEM, []byte(k.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// isAuthFailure classifies an SSH handshake error. The ssh package reports
// rejected credentials through error text rather than a dedicated type.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
