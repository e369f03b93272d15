package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/storage"
)

// ProfileSelectedMsg asks the app to open the connect form pre-filled with a
// stored profile.
type ProfileSelectedMsg struct {
	Profile *storage.Profile
}

// ProfilesModel lists stored connection profiles.
type ProfilesModel struct {
	store    *storage.ProfileStore
	profiles []*storage.Profile
	cursor   int
	err      error
	width    int
	height   int
}

func NewProfilesModel(store *storage.ProfileStore) *ProfilesModel {
	m := &ProfilesModel{store: store}
	m.reload()
	return m
}

func (m *ProfilesModel) reload() {
	m.profiles = m.store.List()
	if m.cursor >= len(m.profiles) {
		m.cursor = len(m.profiles) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *ProfilesModel) Init() tea.Cmd {
	return nil
}

func (m *ProfilesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q":
			return m, func() tea.Msg { return BackMsg{} }

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.cursor < len(m.profiles)-1 {
				m.cursor++
			}

		case "enter":
			if len(m.profiles) > 0 {
				p := m.profiles[m.cursor]
				return m, func() tea.Msg { return ProfileSelectedMsg{Profile: p} }
			}

		case "D":
			if len(m.profiles) > 0 {
				if err := m.store.Delete(m.profiles[m.cursor].ID); err != nil {
					m.err = err
				} else {
					m.reload()
				}
			}
		}
	}

	return m, nil
}

func (m *ProfilesModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("📡 Saved Profiles"))
	b.WriteString("\n\n")

	if len(m.profiles) == 0 {
		b.WriteString(itemStyle.Render("(no profiles saved)"))
		b.WriteString("\n")
	}
	for i, p := range m.profiles {
		line := fmt.Sprintf("%-20s %s@%s:%d", p.Label, p.Username, p.Host, p.Port)
		if i == m.cursor {
			b.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: connect • D: delete • esc: back"))

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}
