package storage

import (
	"os"
	"testing"
)

func TestProfileStoreCRUD(t *testing.T) {
	dir := t.TempDir()

	store, err := NewProfileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	p := &Profile{
		ID:       "1",
		Label:    "staging",
		Host:     "staging.example.com",
		Port:     22,
		Username: "deploy",
	}
	if err := store.Add(p); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if p.CreatedAt == 0 || p.UpdatedAt == 0 {
		t.Error("Timestamps not set on add")
	}

	got, err := store.Get("1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Host != "staging.example.com" {
		t.Errorf("Unexpected host: %s", got.Host)
	}

	if n := len(store.List()); n != 1 {
		t.Errorf("Expected 1 profile, got %d", n)
	}

	p.Label = "staging-eu"
	if err := store.Update(p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A fresh store must see persisted state.
	reopened, err := NewProfileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err = reopened.Get("1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "staging-eu" {
		t.Errorf("Persisted label mismatch: %s", got.Label)
	}

	if err := reopened.Delete("1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := reopened.Get("1"); err == nil {
		t.Error("Expected an error after delete")
	}
}

func TestProfileStoreCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/profiles.json", []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := NewProfileStore(dir)
	if err != nil {
		t.Fatalf("Expected recovery from corruption, got %v", err)
	}
	if n := len(store.List()); n != 0 {
		t.Errorf("Expected empty store, got %d profiles", n)
	}
	if _, err := os.Stat(dir + "/profiles.json.corrupted"); err != nil {
		t.Error("Expected the corrupted file to be backed up")
	}
}

func TestProfileSecrets(t *testing.T) {
	t.Run("Core Functionality: password round-trip", func(t *testing.T) {
		p := &Profile{ID: "1", Label: "prod"}
		if err := p.SetPassword("hunter2", "master"); err != nil {
			t.Fatal(err)
		}
		got, err := p.Password("master")
		if err != nil {
			t.Fatal(err)
		}
		if got != "hunter2" {
			t.Errorf("Round-trip mismatch: %q", got)
		}
	})

	t.Run("Error Handling: wrong master password fails", func(t *testing.T) {
		p := &Profile{ID: "1"}
		p.SetPassword("hunter2", "master")
		if _, err := p.Password("not-master"); err == nil {
			t.Error("Expected decryption to fail")
		}
	})

	t.Run("Error Handling: missing secret is reported", func(t *testing.T) {
		p := &Profile{ID: "1", Label: "empty"}
		if _, err := p.Password("master"); err == nil {
			t.Error("Expected an error for a profile without a password")
		}
		if _, err := p.Key("master"); err == nil {
			t.Error("Expected an error for a profile without a key")
		}
	})
}
