// Package storage persists saved connection profiles and application
// settings under the data directory. Secrets are encrypted at rest with a
// key derived from the master password.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"skiff/pkg/transport"
)

// Profile is a saved connection. Secret material is stored only in its
// encrypted form; the plaintext exists transiently while connecting.
type Profile struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	PasswordEncrypted []byte `json:"passwordEncrypted,omitempty"`
	PasswordSalt      []byte `json:"passwordSalt,omitempty"`
	KeyEncrypted      []byte `json:"keyEncrypted,omitempty"`
	KeySalt           []byte `json:"keySalt,omitempty"`
	// KeyPath points at an on-disk private key used instead of embedded
	// key material.
	KeyPath string `json:"keyPath,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Transport converts the saved record to a dialable profile.
func (p *Profile) Transport() transport.Profile {
	return transport.Profile{
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Label:    p.Label,
	}
}

// SetPassword encrypts and stores a password under the master password.
func (p *Profile) SetPassword(password, masterPassword string) error {
	enc, salt, err := EncryptSecret([]byte(password), masterPassword)
	if err != nil {
		return err
	}
	p.PasswordEncrypted, p.PasswordSalt = enc, salt
	return nil
}

// Password decrypts the stored password.
func (p *Profile) Password(masterPassword string) (string, error) {
	if len(p.PasswordEncrypted) == 0 {
		return "", fmt.Errorf("profile %s has no stored password", p.Label)
	}
	plain, err := DecryptSecret(p.PasswordEncrypted, p.PasswordSalt, masterPassword)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SetKey encrypts and stores private key material under the master password.
func (p *Profile) SetKey(pem []byte, masterPassword string) error {
	enc, salt, err := EncryptSecret(pem, masterPassword)
	if err != nil {
		return err
	}
	p.KeyEncrypted, p.KeySalt = enc, salt
	return nil
}

// Key decrypts the stored private key material.
func (p *Profile) Key(masterPassword string) ([]byte, error) {
	if len(p.KeyEncrypted) == 0 {
		return nil, fmt.Errorf("profile %s has no stored key", p.Label)
	}
	return DecryptSecret(p.KeyEncrypted, p.KeySalt, masterPassword)
}

// ProfileStore manages saved profiles on disk.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	filePath string
}

// NewProfileStore opens (or initializes) the profile store in dataDir.
func NewProfileStore(dataDir string) (*ProfileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &ProfileStore{
		profiles: make(map[string]*Profile),
		filePath: filepath.Join(dataDir, "profiles.json"),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *ProfileStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var profiles []*Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		// Keep the unreadable file around instead of silently losing it.
		backupPath := s.filePath + ".corrupted"
		if backupErr := os.WriteFile(backupPath, data, 0600); backupErr == nil {
			fmt.Fprintf(os.Stderr, "WARNING: corrupted profiles.json backed up to %s\n", backupPath)
			return nil
		}
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return nil
}

func (s *ProfileStore) save() error {
	profiles := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	return os.WriteFile(s.filePath, data, 0600)
}

// Add stores a new profile.
func (s *ProfileStore) Add(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = p
	return s.save()
}

// Get retrieves a profile by ID.
func (s *ProfileStore) Get(id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile not found: %s", id)
	}
	return p, nil
}

// List returns all profiles sorted by label.
func (s *ProfileStore) List() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Label < profiles[j].Label })
	return profiles
}

// Update replaces an existing profile.
func (s *ProfileStore) Update(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return fmt.Errorf("profile not found: %s", p.ID)
	}
	p.UpdatedAt = time.Now().Unix()
	s.profiles[p.ID] = p
	return s.save()
}

// Delete removes a profile.
func (s *ProfileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("profile not found: %s", id)
	}
	delete(s.profiles, id)
	return s.save()
}
