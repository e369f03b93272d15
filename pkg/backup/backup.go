// Package backup implements encrypted export and import of the application's
// persisted state (connection profiles and settings). Archives are encrypted
// with AES-256-GCM under an Argon2id-derived key, so they are safe to park on
// untrusted storage.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"skiff/pkg/storage"
)

// Archive is the on-disk archive format. All binary fields are base64-encoded
// so the archive stays a plain JSON document.
type Archive struct {
	Version   string `json:"version"`
	CreatedAt string `json:"createdAt"`
	Salt      string `json:"salt"`
	Nonce     string `json:"nonce"`
	Payload   string `json:"payload"`
}

// Snapshot is the plaintext content of an archive.
type Snapshot struct {
	Profiles []*storage.Profile `json:"profiles"`
	Settings storage.Settings   `json:"settings"`
}

// Argon2id parameters. Memory-hard on purpose: archives travel off-host.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 32
	nonceLen      = 12
)

const archiveVersion = "1"

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func seal(plaintext []byte, password string) (*Archive, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Archive{
		Version:   archiveVersion,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Payload:   base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func open(a *Archive, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(a.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(a.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decryption failed: wrong password or corrupted archive")
	}
	return plaintext, nil
}

// Export encrypts a snapshot into an archive document.
func Export(snap *Snapshot, password string) ([]byte, error) {
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	a, err := seal(plaintext, password)
	if err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive: %w", err)
	}
	return out, nil
}

// Import decrypts an archive document back into a snapshot.
func Import(data []byte, password string) (*Snapshot, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("invalid archive format: %w", err)
	}

	plaintext, err := open(&a, password)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse archive payload: %w", err)
	}
	return &snap, nil
}
