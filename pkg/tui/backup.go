package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/backup"
	"skiff/pkg/s3"
	"skiff/pkg/storage"
)

type backupAction int

const (
	actionExport backupAction = iota
	actionImport
	actionS3Backup
	actionS3Restore
)

// backupDoneMsg reports the outcome of one backup action.
type backupDoneMsg struct {
	result string
	err    error
}

// BackupModel drives encrypted export/import, locally or against S3.
type BackupModel struct {
	profiles *storage.ProfileStore
	settings *storage.SettingsStore
	dataDir  string

	choices  []string
	cursor   int
	action   backupAction
	password textinput.Model
	asking   bool
	busy     bool
	result   string
	err      error
	width    int
	height   int
}

func NewBackupModel(profiles *storage.ProfileStore, settings *storage.SettingsStore, dataDir string) *BackupModel {
	password := textinput.New()
	password.Placeholder = "archive password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 128
	password.Width = 50
	password.Prompt = "Password: "

	return &BackupModel{
		profiles: profiles,
		settings: settings,
		dataDir:  dataDir,
		password: password,
		choices: []string{
			"Export to file",
			"Import from file",
			"Backup to S3",
			"Restore from S3",
		},
	}
}

func (m *BackupModel) Init() tea.Cmd {
	return nil
}

func (m *BackupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case backupDoneMsg:
		m.busy = false
		m.result = msg.result
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		if m.asking {
			return m.updatePassword(msg)
		}

		switch msg.String() {
		case "esc", "q":
			return m, func() tea.Msg { return BackMsg{} }

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}

		case "enter":
			if m.busy {
				return m, nil
			}
			m.action = backupAction(m.cursor)
			m.asking = true
			m.err = nil
			m.result = ""
			m.password.SetValue("")
			m.password.Focus()
			return m, textinput.Blink
		}
	}

	return m, nil
}

func (m *BackupModel) updatePassword(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.asking = false
		return m, nil

	case "enter":
		password := m.password.Value()
		m.password.SetValue("")
		if password == "" {
			return m, nil
		}
		m.asking = false
		m.busy = true
		return m, m.run(m.action, password)
	}

	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return m, cmd
}

func (m *BackupModel) snapshot() *backup.Snapshot {
	return &backup.Snapshot{
		Profiles: m.profiles.List(),
		Settings: m.settings.Get(),
	}
}

// applySnapshot merges restored profiles into the store and replaces settings.
func (m *BackupModel) applySnapshot(snap *backup.Snapshot) error {
	for _, p := range snap.Profiles {
		var err error
		if _, getErr := m.profiles.Get(p.ID); getErr == nil {
			err = m.profiles.Update(p)
		} else {
			err = m.profiles.Add(p)
		}
		if err != nil {
			return err
		}
	}
	return m.settings.Update(snap.Settings)
}

func (m *BackupModel) run(action backupAction, password string) tea.Cmd {
	return func() tea.Msg {
		switch action {
		case actionExport:
			data, err := backup.Export(m.snapshot(), password)
			if err != nil {
				return backupDoneMsg{err: err}
			}
			out := filepath.Join(m.dataDir, "export-"+time.Now().Format("20060102-150405")+".enc")
			if err := os.WriteFile(out, data, 0600); err != nil {
				return backupDoneMsg{err: err}
			}
			return backupDoneMsg{result: "exported to " + out}

		case actionImport:
			latest, err := latestExport(m.dataDir)
			if err != nil {
				return backupDoneMsg{err: err}
			}
			data, err := os.ReadFile(latest)
			if err != nil {
				return backupDoneMsg{err: err}
			}
			snap, err := backup.Import(data, password)
			if err != nil {
				return backupDoneMsg{err: err}
			}
			if err := m.applySnapshot(snap); err != nil {
				return backupDoneMsg{err: err}
			}
			return backupDoneMsg{result: fmt.Sprintf("imported %d profiles from %s", len(snap.Profiles), latest)}

		case actionS3Backup:
			client, err := m.s3Client()
			if err != nil {
				return backupDoneMsg{err: err}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := client.Backup(ctx, m.snapshot(), password); err != nil {
				return backupDoneMsg{err: err}
			}
			return backupDoneMsg{result: "uploaded archive to S3"}

		case actionS3Restore:
			client, err := m.s3Client()
			if err != nil {
				return backupDoneMsg{err: err}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			snap, err := client.Restore(ctx, password)
			if err != nil {
				return backupDoneMsg{err: err}
			}
			if err := m.applySnapshot(snap); err != nil {
				return backupDoneMsg{err: err}
			}
			return backupDoneMsg{result: fmt.Sprintf("restored %d profiles from S3", len(snap.Profiles))}
		}
		return nil
	}
}

func (m *BackupModel) s3Client() (*s3.Client, error) {
	s := m.settings.Get()
	return s3.NewClient(s.S3Host, s.S3AccessKey, s.S3SecretKey)
}

// latestExport picks the newest export file in the data directory.
func latestExport(dataDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "export-*.enc"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no export files found in %s", dataDir)
	}
	latest := matches[0]
	for _, p := range matches[1:] {
		if p > latest {
			latest = p
		}
	}
	return latest, nil
}

func (m *BackupModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🔐 Backup & Restore"))
	b.WriteString("\n\n")

	for i, choice := range m.choices {
		if i == m.cursor {
			b.WriteString(selectedItemStyle.Render("> " + choice))
		} else {
			b.WriteString(itemStyle.Render("  " + choice))
		}
		b.WriteString("\n")
	}

	switch {
	case m.asking:
		b.WriteString("\n")
		b.WriteString(m.password.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: confirm • esc: cancel"))

	case m.busy:
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("working..."))

	default:
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: select • esc: back"))
	}

	if m.result != "" {
		b.WriteString("\n\n")
		b.WriteString(successStyle.Render(m.result))
	}
	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}
