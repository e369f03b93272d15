package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 32 // AES-256
	saltSize         = 32
	nonceSize        = 12 // AES-GCM
)

// EncryptSecret encrypts secret material (a password or private key) with
// AES-256-GCM under a key derived from the master password. The nonce is
// prepended to the ciphertext; the salt is returned alongside.
func EncryptSecret(secret []byte, masterPassword string) (encrypted, salt []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, fmt.Errorf("secret cannot be empty")
	}
	if masterPassword == "" {
		return nil, nil, fmt.Errorf("master password cannot be empty")
	}

	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(masterPassword), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, secret, nil), salt, nil
}

// DecryptSecret reverses EncryptSecret.
func DecryptSecret(encrypted, salt []byte, masterPassword string) ([]byte, error) {
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("invalid salt size: expected %d, got %d", saltSize, len(salt))
	}
	if masterPassword == "" {
		return nil, fmt.Errorf("master password cannot be empty")
	}

	key := pbkdf2.Key([]byte(masterPassword), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong master password?): %w", err)
	}
	return plaintext, nil
}
