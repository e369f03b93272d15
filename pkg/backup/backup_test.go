package backup

import (
	"encoding/json"
	"strings"
	"testing"

	"skiff/pkg/storage"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Profiles: []*storage.Profile{
			{ID: "1", Label: "prod", Host: "prod.example.com", Port: 22, Username: "deploy"},
			{ID: "2", Label: "staging", Host: "staging.example.com", Port: 2222, Username: "deploy"},
		},
		Settings: storage.Settings{DefaultPort: 22, Theme: "default", MaxActiveTransfers: 5},
	}
}

func TestExportImport(t *testing.T) {
	t.Run("Core Functionality: round-trip", func(t *testing.T) {
		data, err := Export(testSnapshot(), "archive-pw")
		if err != nil {
			t.Fatal(err)
		}

		snap, err := Import(data, "archive-pw")
		if err != nil {
			t.Fatal(err)
		}
		if len(snap.Profiles) != 2 {
			t.Fatalf("Expected 2 profiles, got %d", len(snap.Profiles))
		}
		if snap.Profiles[1].Host != "staging.example.com" {
			t.Errorf("Unexpected host: %s", snap.Profiles[1].Host)
		}
		if snap.Settings.MaxActiveTransfers != 5 {
			t.Errorf("Unexpected settings: %+v", snap.Settings)
		}
	})

	t.Run("Core Functionality: no plaintext leaks into the archive", func(t *testing.T) {
		data, err := Export(testSnapshot(), "archive-pw")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "prod.example.com") {
			t.Error("Archive contains plaintext host")
		}
	})

	t.Run("Error Handling: wrong password", func(t *testing.T) {
		data, err := Export(testSnapshot(), "right")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Import(data, "wrong"); err == nil {
			t.Error("Expected import to fail")
		}
	})

	t.Run("Error Handling: tampered payload", func(t *testing.T) {
		data, err := Export(testSnapshot(), "pw")
		if err != nil {
			t.Fatal(err)
		}
		var a Archive
		if err := json.Unmarshal(data, &a); err != nil {
			t.Fatal(err)
		}
		a.Payload = a.Payload[:len(a.Payload)-8] + "AAAAAAAA"
		tampered, _ := json.Marshal(&a)
		if _, err := Import(tampered, "pw"); err == nil {
			t.Error("Expected tamper detection to fail the import")
		}
	})

	t.Run("Error Handling: not an archive", func(t *testing.T) {
		if _, err := Import([]byte("{not json"), "pw"); err == nil {
			t.Error("Expected an error for malformed input")
		}
	})
}
