// Package tui is the terminal front-end. It wires the session registry,
// navigator, transfer engine and edit manager into bubbletea screens; all
// remote semantics live in the core packages.
package tui

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/editor"
	"skiff/pkg/nav"
	"skiff/pkg/session"
	"skiff/pkg/storage"
	"skiff/pkg/transfer"
	"skiff/pkg/transport"
)

// BackMsg returns to the main menu from any screen.
type BackMsg struct{}

// AppState identifies the active screen.
type AppState int

const (
	StateMenu AppState = iota
	StateConnect
	StateProfiles
	StateBrowser
	StateBackup
	StatePasswordPrompt
)

// AppModel is the root model routing between screens.
type AppModel struct {
	state          AppState
	menu           MenuModel
	connect        *ConnectModel
	profilesScreen *ProfilesModel
	browser        *BrowserModel
	backupScreen   *BackupModel
	passwordPrompt *PasswordPromptModel

	registry  *session.Registry
	navigator *nav.Navigator
	engine    *transfer.Engine
	editors   *editor.Manager

	profiles *storage.ProfileStore
	settings *storage.SettingsStore
	dataDir  string

	// masterPassword is held for the process lifetime once verified.
	masterPassword string
	width          int
	height         int
}

// NewAppModel builds the application and its core services.
func NewAppModel() (*AppModel, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".skiff")

	profiles, err := storage.NewProfileStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profile store: %w", err)
	}
	settingsStore, err := storage.NewSettingsStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}
	settings := settingsStore.Get()

	registry := session.NewRegistry(transport.NewSSH(transport.Config{
		DialTimeout:    settings.ConnectTimeout(),
		KnownHostsPath: filepath.Join(homeDir, ".ssh", "known_hosts"),
	}))
	navigator := nav.New()
	registry.SetCloseHook(navigator.Forget)
	engine := transfer.NewEngine(navigator, transfer.Config{
		MaxActive: settings.MaxActiveTransfers,
		ChunkSize: settings.TransferChunkKB * 1024,
	})

	state := StateMenu
	var prompt *PasswordPromptModel
	if settings.MasterPasswordHash != "" {
		state = StatePasswordPrompt
		prompt = NewPasswordPromptModel(
			"🔐 Master Password Required",
			"Enter your master password to unlock stored secrets:",
		)
	}

	return &AppModel{
		state:          state,
		menu:           NewMenuModel(),
		passwordPrompt: prompt,
		registry:       registry,
		navigator:      navigator,
		engine:         engine,
		editors:        editor.NewManager(navigator),
		profiles:       profiles,
		settings:       settingsStore,
		dataDir:        dataDir,
	}, nil
}

func (m *AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitProgress()}
	if m.state == StatePasswordPrompt && m.passwordPrompt != nil {
		cmds = append(cmds, m.passwordPrompt.Init())
	}
	return tea.Batch(cmds...)
}

// waitProgress is the single receiver on the engine's update channel. The
// app owns it for the process lifetime; browsers come and go per session.
func (m *AppModel) waitProgress() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.engine.Updates()
		if !ok {
			return nil
		}
		return progressMsg(p)
	}
}

// connectCtx bounds one connection attempt with the configured timeout.
func (m *AppModel) connectCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.settings.Get().ConnectTimeout())
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.registry.CloseAll()
			return m, tea.Quit
		}

	case BackMsg:
		m.state = StateMenu
		return m, nil

	case progressMsg:
		var cmd tea.Cmd
		if m.browser != nil {
			_, cmd = m.browser.Update(msg)
		}
		return m, tea.Batch(cmd, m.waitProgress())

	case ConnectedMsg:
		log.Printf("[INFO] session %s ready", msg.Session.ID())
		m.browser = NewBrowserModel(msg.Session, m.navigator, m.engine, m.editors)
		m.state = StateBrowser
		return m, m.browser.Init()

	case ProfileSelectedMsg:
		return m.openConnectFor(msg.Profile)

	case PasswordSubmittedMsg:
		return m.unlock(msg)
	}

	switch m.state {
	case StateMenu:
		return m.updateMenu(msg)

	case StateConnect:
		_, cmd := m.connect.Update(msg)
		return m, cmd

	case StateProfiles:
		_, cmd := m.profilesScreen.Update(msg)
		return m, cmd

	case StateBrowser:
		_, cmd := m.browser.Update(msg)
		return m, cmd

	case StateBackup:
		_, cmd := m.backupScreen.Update(msg)
		return m, cmd

	case StatePasswordPrompt:
		_, cmd := m.passwordPrompt.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *AppModel) updateMenu(msg tea.Msg) (tea.Model, tea.Cmd) {
	var choice MenuChoice
	m.menu, choice = m.menu.Update(msg)

	switch choice {
	case MenuConnect:
		m.connect = NewConnectModel(m.registry, m.connectCtx)
		m.state = StateConnect
		return m, m.connect.Init()

	case MenuProfiles:
		m.profilesScreen = NewProfilesModel(m.profiles)
		m.state = StateProfiles
		return m, m.profilesScreen.Init()

	case MenuBackup:
		m.backupScreen = NewBackupModel(m.profiles, m.settings, m.dataDir)
		m.state = StateBackup
		return m, m.backupScreen.Init()

	case MenuQuit:
		m.registry.CloseAll()
		return m, tea.Quit
	}

	return m, nil
}

// openConnectFor pre-fills the connect form from a stored profile, decrypting
// its secrets with the cached master password when available.
func (m *AppModel) openConnectFor(p *storage.Profile) (tea.Model, tea.Cmd) {
	m.connect = NewConnectModel(m.registry, m.connectCtx)

	var password string
	if m.masterPassword != "" && len(p.PasswordEncrypted) > 0 {
		decrypted, err := p.Password(m.masterPassword)
		if err != nil {
			log.Printf("[ERROR] failed to decrypt password for profile %s: %v", p.Label, err)
		} else {
			password = decrypted
		}
	}
	m.connect.Prefill(p.Transport(), password, p.KeyPath)

	m.state = StateConnect
	return m, m.connect.Init()
}

func (m *AppModel) unlock(msg PasswordSubmittedMsg) (tea.Model, tea.Cmd) {
	if msg.Cancelled {
		// Running without the master password just disables stored secrets.
		m.state = StateMenu
		return m, nil
	}
	if !m.settings.VerifyMasterPassword(msg.Password) {
		m.passwordPrompt.SetError(fmt.Errorf("wrong master password"))
		return m, nil
	}
	m.masterPassword = msg.Password
	m.state = StateMenu
	return m, nil
}

func (m *AppModel) View() string {
	switch m.state {
	case StateConnect:
		return m.connect.View()
	case StateProfiles:
		return m.profilesScreen.View()
	case StateBrowser:
		return m.browser.View()
	case StateBackup:
		return m.backupScreen.View()
	case StatePasswordPrompt:
		return m.passwordPrompt.View()
	default:
		return m.menu.View()
	}
}
