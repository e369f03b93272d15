package tui

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/session"
	"skiff/pkg/transport"
)

// ConnectedMsg is sent when a session reaches the ready state.
type ConnectedMsg struct {
	Session *session.Session
}

// ConnectFailedMsg carries the authentication or network failure.
type ConnectFailedMsg struct {
	Err error
}

// ConnectModel collects connection details and establishes a session.
type ConnectModel struct {
	inputs   []textinput.Model
	focused  int
	err      error
	busy     bool
	registry *session.Registry
	timeout  contextFactory
	width    int
	height   int
}

// contextFactory builds the context bounding one connection attempt.
type contextFactory func() (context.Context, context.CancelFunc)

const (
	inputHost = iota
	inputPort
	inputUsername
	inputPassword
	inputKeyPath
)

func NewConnectModel(registry *session.Registry, timeout contextFactory) *ConnectModel {
	inputs := make([]textinput.Model, 5)

	inputs[inputHost] = textinput.New()
	inputs[inputHost].Placeholder = "192.168.1.1"
	inputs[inputHost].Focus()
	inputs[inputHost].CharLimit = 253
	inputs[inputHost].Width = 50
	inputs[inputHost].Prompt = "Host: "

	inputs[inputPort] = textinput.New()
	inputs[inputPort].Placeholder = "22"
	inputs[inputPort].CharLimit = 5
	inputs[inputPort].Width = 50
	inputs[inputPort].Prompt = "Port: "

	inputs[inputUsername] = textinput.New()
	inputs[inputUsername].Placeholder = "root"
	inputs[inputUsername].CharLimit = 32
	inputs[inputUsername].Width = 50
	inputs[inputUsername].Prompt = "Username: "

	inputs[inputPassword] = textinput.New()
	inputs[inputPassword].Placeholder = "(optional if using key)"
	inputs[inputPassword].CharLimit = 128
	inputs[inputPassword].Width = 50
	inputs[inputPassword].Prompt = "Password: "
	inputs[inputPassword].EchoMode = textinput.EchoPassword
	inputs[inputPassword].EchoCharacter = '•'

	inputs[inputKeyPath] = textinput.New()
	inputs[inputKeyPath].Placeholder = "~/.ssh/id_rsa (optional)"
	inputs[inputKeyPath].CharLimit = 256
	inputs[inputKeyPath].Width = 50
	inputs[inputKeyPath].Prompt = "Private Key: "

	return &ConnectModel{
		inputs:   inputs,
		registry: registry,
		timeout:  timeout,
	}
}

// Prefill loads a stored profile's fields into the form. Secrets stay out of
// the form unless the caller passes them explicitly.
func (m *ConnectModel) Prefill(profile transport.Profile, password, keyPath string) {
	m.inputs[inputHost].SetValue(profile.Host)
	m.inputs[inputPort].SetValue(strconv.Itoa(profile.Port))
	m.inputs[inputUsername].SetValue(profile.Username)
	m.inputs[inputPassword].SetValue(password)
	m.inputs[inputKeyPath].SetValue(keyPath)
}

func (m *ConnectModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *ConnectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ConnectFailedMsg:
		m.busy = false
		m.err = msg.Err
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, func() tea.Msg { return BackMsg{} }

		case "tab", "shift+tab", "up", "down":
			if msg.String() == "up" || msg.String() == "shift+tab" {
				m.focused--
			} else {
				m.focused++
			}

			if m.focused > len(m.inputs)-1 {
				m.focused = 0
			} else if m.focused < 0 {
				m.focused = len(m.inputs) - 1
			}

			for i := range m.inputs {
				if i == m.focused {
					m.inputs[i].Focus()
				} else {
					m.inputs[i].Blur()
				}
			}

			return m, nil

		case "enter":
			if m.busy {
				return m, nil
			}
			profile, cred, err := m.collect()
			if err != nil {
				m.err = err
				return m, nil
			}
			m.busy = true
			m.err = nil
			return m, m.connect(profile, cred)
		}
	}

	cmd := m.updateInputs(msg)
	return m, cmd
}

func (m *ConnectModel) collect() (transport.Profile, transport.Credential, error) {
	portStr := m.inputs[inputPort].Value()
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.Profile{}, nil, fmt.Errorf("invalid port: %s", portStr)
	}

	profile := transport.Profile{
		Host:     m.inputs[inputHost].Value(),
		Port:     port,
		Username: m.inputs[inputUsername].Value(),
	}
	if err := profile.Validate(); err != nil {
		return transport.Profile{}, nil, err
	}

	keyPath := m.inputs[inputKeyPath].Value()
	if strings.HasPrefix(keyPath, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			keyPath = strings.Replace(keyPath, "~", home, 1)
		}
	}

	password := m.inputs[inputPassword].Value()
	switch {
	case keyPath != "":
		return profile, transport.KeyFile{Path: keyPath, Passphrase: password}, nil
	case password != "":
		return profile, transport.Password(password), nil
	default:
		return transport.Profile{}, nil, fmt.Errorf("password or private key required")
	}
}

func (m *ConnectModel) connect(profile transport.Profile, cred transport.Credential) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.timeout()
		defer cancel()

		sess, err := m.registry.GetOrCreate(ctx, profile, cred)
		if err != nil {
			return ConnectFailedMsg{Err: err}
		}
		return ConnectedMsg{Session: sess}
	}
}

func (m *ConnectModel) updateInputs(msg tea.Msg) tea.Cmd {
	cmds := make([]tea.Cmd, len(m.inputs))

	for i := range m.inputs {
		m.inputs[i], cmds[i] = m.inputs[i].Update(msg)
	}

	return tea.Batch(cmds...)
}

func (m *ConnectModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🌐 Connect"))
	b.WriteString("\n\n")

	for i := range m.inputs {
		b.WriteString(m.inputs[i].View())
		if i < len(m.inputs)-1 {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	if m.busy {
		b.WriteString(helpStyle.Render("connecting..."))
	} else {
		b.WriteString(helpStyle.Render("tab: next • enter: connect • esc: back"))
	}

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}
