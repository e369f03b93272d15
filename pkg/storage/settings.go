package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Settings holds application configuration. Timeouts and transfer tuning are
// options here rather than constants in the core packages.
type Settings struct {
	DefaultPort     int    `json:"defaultPort"`
	DefaultUsername string `json:"defaultUsername"`
	Theme           string `json:"theme"`

	// ConnectTimeoutSec bounds connect plus authentication.
	ConnectTimeoutSec int `json:"connectTimeoutSec"`
	// TransferChunkKB is the transfer copy buffer size.
	TransferChunkKB int `json:"transferChunkKB"`
	// MaxActiveTransfers bounds concurrently running transfer tasks.
	MaxActiveTransfers int `json:"maxActiveTransfers"`

	// MasterPasswordHash is the bcrypt hash of the master password guarding
	// stored secrets. Empty disables secret storage.
	MasterPasswordHash string `json:"masterPasswordHash,omitempty"`

	S3Host      string `json:"s3Host,omitempty"`
	S3AccessKey string `json:"s3AccessKey,omitempty"`
	S3SecretKey string `json:"s3SecretKey,omitempty"`
	AutoBackup  bool   `json:"autoBackup"`
}

// ConnectTimeout returns the configured timeout as a duration.
func (s Settings) ConnectTimeout() time.Duration {
	if s.ConnectTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.ConnectTimeoutSec) * time.Second
}

func defaultSettings() Settings {
	return Settings{
		DefaultPort:        22,
		DefaultUsername:    "root",
		Theme:              "default",
		ConnectTimeoutSec:  30,
		TransferChunkKB:    32,
		MaxActiveTransfers: 5,
	}
}

// SettingsStore manages settings persistence.
type SettingsStore struct {
	mu       sync.RWMutex
	settings Settings
	filePath string
}

// NewSettingsStore opens (or initializes) the settings store in dataDir.
func NewSettingsStore(dataDir string) (*SettingsStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &SettingsStore{
		settings: defaultSettings(),
		filePath: filepath.Join(dataDir, "settings.json"),
	}
	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to write default settings: %w", err)
		}
	}
	return s, nil
}

func (s *SettingsStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.settings)
}

func (s *SettingsStore) save() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return os.WriteFile(s.filePath, data, 0600)
}

// Get returns the current settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update replaces the settings and persists them.
func (s *SettingsStore) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

// Reset restores the defaults.
func (s *SettingsStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = defaultSettings()
	return s.save()
}

// SetMasterPassword hashes and stores the master password. An empty password
// clears it.
func (s *SettingsStore) SetMasterPassword(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if password == "" {
		s.settings.MasterPasswordHash = ""
		return s.save()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	s.settings.MasterPasswordHash = string(hash)
	return s.save()
}

// VerifyMasterPassword checks a password against the stored hash.
func (s *SettingsStore) VerifyMasterPassword(password string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.MasterPasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.settings.MasterPasswordHash), []byte(password)) == nil
}
