package storage

import (
	"os"
	"testing"
	"time"
)

func TestSettingsStore(t *testing.T) {
	t.Run("Core Functionality: defaults on first run", func(t *testing.T) {
		store, err := NewSettingsStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		s := store.Get()
		if s.DefaultPort != 22 {
			t.Errorf("Unexpected default port: %d", s.DefaultPort)
		}
		if s.ConnectTimeout() != 30*time.Second {
			t.Errorf("Unexpected connect timeout: %v", s.ConnectTimeout())
		}
	})

	t.Run("Side Effects: defaults are written to disk on first run", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := NewSettingsStore(dir); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(dir + "/settings.json")
		if err != nil {
			t.Fatalf("Expected settings.json to exist after first run: %v", err)
		}
		if len(data) == 0 {
			t.Error("Expected persisted defaults, got an empty file")
		}
	})

	t.Run("Core Functionality: update persists across reopen", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewSettingsStore(dir)
		if err != nil {
			t.Fatal(err)
		}
		s := store.Get()
		s.DefaultUsername = "deploy"
		s.MaxActiveTransfers = 8
		if err := store.Update(s); err != nil {
			t.Fatal(err)
		}

		reopened, err := NewSettingsStore(dir)
		if err != nil {
			t.Fatal(err)
		}
		got := reopened.Get()
		if got.DefaultUsername != "deploy" || got.MaxActiveTransfers != 8 {
			t.Errorf("Persisted settings mismatch: %+v", got)
		}
	})

	t.Run("Core Functionality: reset restores defaults", func(t *testing.T) {
		store, err := NewSettingsStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		s := store.Get()
		s.Theme = "light"
		if err := store.Update(s); err != nil {
			t.Fatal(err)
		}
		if err := store.Reset(); err != nil {
			t.Fatal(err)
		}
		if store.Get().Theme == "light" {
			t.Error("Reset did not restore defaults")
		}
	})
}

func TestMasterPassword(t *testing.T) {
	store, err := NewSettingsStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetMasterPassword("correct horse"); err != nil {
		t.Fatal(err)
	}
	if !store.VerifyMasterPassword("correct horse") {
		t.Error("Correct password rejected")
	}
	if store.VerifyMasterPassword("battery staple") {
		t.Error("Wrong password accepted")
	}
	if s := store.Get(); s.MasterPasswordHash == "correct horse" {
		t.Error("Password stored in plaintext")
	}
}
