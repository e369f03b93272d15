package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// PasswordSubmittedMsg is sent when the prompt is confirmed or cancelled.
type PasswordSubmittedMsg struct {
	Password  string
	Cancelled bool
}

// PasswordPromptModel is a reusable password input screen.
type PasswordPromptModel struct {
	input       textinput.Model
	title       string
	description string
	width       int
	height      int
}

func NewPasswordPromptModel(title, description string) *PasswordPromptModel {
	input := textinput.New()
	input.Placeholder = "Enter password"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 256
	input.Width = 50
	input.Prompt = "> "
	input.Focus()

	return &PasswordPromptModel{
		input:       input,
		title:       title,
		description: description,
	}
}

func (m *PasswordPromptModel) Init() tea.Cmd {
	return textinput.Blink
}

// SetError replaces the description with a failure notice for the next view.
func (m *PasswordPromptModel) SetError(err error) {
	if err != nil {
		m.description = fmt.Sprintf("❌ %v", err)
		m.input.SetValue("")
	}
}

func (m *PasswordPromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			password := m.input.Value()
			return m, func() tea.Msg {
				return PasswordSubmittedMsg{Password: password}
			}

		case "esc":
			return m, func() tea.Msg {
				return PasswordSubmittedMsg{Cancelled: true}
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *PasswordPromptModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.description != "" {
		b.WriteString(itemStyle.Render(m.description))
		b.WriteString("\n\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter: submit • esc: cancel"))

	return boxStyle.Render(b.String())
}
