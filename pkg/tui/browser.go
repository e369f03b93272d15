package tui

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"skiff/pkg/editor"
	"skiff/pkg/nav"
	"skiff/pkg/session"
	"skiff/pkg/transfer"
	"skiff/pkg/transport"
)

// promptKind selects what the inline prompt is collecting.
type promptKind int

const (
	promptNone promptKind = iota
	promptUpload
	promptMkdir
	promptTouch
	promptRename
)

// progressMsg carries one task snapshot from the transfer engine.
type progressMsg transfer.Progress

// editorDoneMsg is sent when the external editor process exits.
type editorDoneMsg struct {
	err error
}

// statsMsg carries a server stats poll result.
type statsMsg struct {
	stats session.Stats
	err   error
}

// BrowserModel is the remote file browser for one session.
type BrowserModel struct {
	sess      *session.Session
	navigator *nav.Navigator
	engine    *transfer.Engine
	editors   *editor.Manager

	entries []transport.Entry
	cursor  int
	err     error
	status  string
	stats   *session.Stats

	prompt     textinput.Model
	prompting  promptKind
	renameFrom string

	// pending edit buffer while the external editor runs
	editBuf  *editor.Buffer
	editTmp  string
	conflict bool

	localDir string
	width    int
	height   int
}

func NewBrowserModel(sess *session.Session, navigator *nav.Navigator, engine *transfer.Engine, editors *editor.Manager) *BrowserModel {
	prompt := textinput.New()
	prompt.CharLimit = 256
	prompt.Width = 50

	localDir, err := os.Getwd()
	if err != nil {
		localDir = "."
	}

	m := &BrowserModel{
		sess:      sess,
		navigator: navigator,
		engine:    engine,
		editors:   editors,
		prompt:    prompt,
		localDir:  localDir,
	}
	m.loadDirectory()
	return m
}

func (m *BrowserModel) loadDirectory() {
	entries, err := m.navigator.List(m.sess, m.sess.Path())
	if err != nil {
		m.err = err
		m.entries = nil
		return
	}

	m.entries = entries
	m.err = nil
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *BrowserModel) selected() (transport.Entry, bool) {
	if len(m.entries) == 0 || m.cursor >= len(m.entries) {
		return transport.Entry{}, false
	}
	return m.entries[m.cursor], true
}

func (m *BrowserModel) Init() tea.Cmd {
	return nil
}

func (m *BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	// progressMsg arrives via the app's pump; the browser never receives
	// from the engine channel itself.
	case progressMsg:
		p := transfer.Progress(msg)
		if p.State.Terminal() {
			m.status = fmt.Sprintf("%s %s: %s", p.Kind, p.Dest, p.State)
			if p.Error != "" {
				m.status += " (" + p.Error + ")"
			}
			m.engine.Ack(p.TaskID)
			m.loadDirectory()
		}
		return m, nil

	case editorDoneMsg:
		return m, m.finishEdit(msg.err)

	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			stats := msg.stats
			m.stats = &stats
		}
		return m, nil

	case tea.KeyMsg:
		if m.prompting != promptNone {
			return m.updatePrompt(msg)
		}
		if m.conflict {
			return m.updateConflict(msg)
		}
		return m.updateBrowse(msg)
	}

	return m, nil
}

func (m *BrowserModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		return m, func() tea.Msg { return BackMsg{} }

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}

	case "enter":
		if entry, ok := m.selected(); ok && entry.Kind != transport.KindFile {
			if _, err := m.navigator.Navigate(m.sess, entry.Name); err != nil {
				m.err = err
			} else {
				m.cursor = 0
				m.loadDirectory()
			}
		}

	case "backspace", "left", "h":
		if _, err := m.navigator.Navigate(m.sess, ".."); err != nil {
			m.err = err
		} else {
			m.cursor = 0
			m.loadDirectory()
		}

	case "d":
		if entry, ok := m.selected(); ok && entry.Kind == transport.KindFile {
			remote := nav.Resolve(m.sess.Path(), entry.Name)
			local := filepath.Join(m.localDir, entry.Name)
			if _, err := m.engine.Download(m.sess, remote, local); err != nil {
				m.err = err
			} else {
				m.status = "downloading " + entry.Name
			}
		}

	case "u":
		m.openPrompt(promptUpload, "local file to upload")

	case "e":
		if entry, ok := m.selected(); ok && entry.Kind == transport.KindFile {
			return m, m.startEdit(entry.Name)
		}

	case "m":
		m.openPrompt(promptMkdir, "new directory name")

	case "n":
		m.openPrompt(promptTouch, "new file name")

	case "R":
		if entry, ok := m.selected(); ok {
			m.renameFrom = entry.Name
			m.openPrompt(promptRename, "rename "+entry.Name+" to")
		}

	case "delete", "D":
		if entry, ok := m.selected(); ok {
			remote := nav.Resolve(m.sess.Path(), entry.Name)
			if _, err := m.engine.Delete(m.sess, remote); err != nil {
				m.err = err
			} else {
				m.status = "deleting " + entry.Name
			}
		}

	case "x":
		m.cancelNewest()

	case "i":
		return m, m.pollStats()

	case "r":
		m.navigator.Invalidate(m.sess, m.sess.Path())
		m.loadDirectory()
	}

	return m, nil
}

// updateConflict handles the commit conflict choice: force or discard.
func (m *BrowserModel) updateConflict(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "f", "F":
		m.conflict = false
		if err := m.editors.CommitForce(m.editBuf); err != nil {
			m.err = err
		} else {
			m.status = "forced save of " + m.editBuf.Path
			m.loadDirectory()
		}
		m.editBuf = nil

	case "esc", "q":
		m.conflict = false
		if err := m.editors.Discard(m.editBuf); err != nil {
			m.err = err
		} else {
			m.status = "discarded edit of " + m.editBuf.Path
		}
		m.editBuf = nil
	}
	return m, nil
}

func (m *BrowserModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.prompting = promptNone
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.prompt.Value())
		kind := m.prompting
		m.prompting = promptNone
		if value == "" {
			return m, nil
		}
		m.runPromptAction(kind, value)
		return m, nil
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *BrowserModel) openPrompt(kind promptKind, placeholder string) {
	m.prompting = kind
	m.prompt.Placeholder = placeholder
	m.prompt.SetValue("")
	m.prompt.Focus()
}

func (m *BrowserModel) runPromptAction(kind promptKind, value string) {
	switch kind {
	case promptUpload:
		remote := nav.Resolve(m.sess.Path(), path.Base(filepath.ToSlash(value)))
		if _, err := m.engine.Upload(m.sess, value, remote); err != nil {
			m.err = err
		} else {
			m.status = "uploading " + value
		}

	case promptMkdir:
		if err := m.navigator.Mkdir(m.sess, value); err != nil {
			m.err = err
		} else {
			m.loadDirectory()
		}

	case promptTouch:
		if err := m.navigator.Touch(m.sess, value); err != nil {
			m.err = err
		} else {
			m.loadDirectory()
		}

	case promptRename:
		if err := m.navigator.Rename(m.sess, m.renameFrom, value); err != nil {
			m.err = err
		} else {
			m.loadDirectory()
		}
	}
}

func (m *BrowserModel) cancelNewest() {
	tasks := m.engine.Tasks()
	for i := len(tasks) - 1; i >= 0; i-- {
		if !tasks[i].State.Terminal() {
			m.engine.Cancel(tasks[i].TaskID)
			m.status = fmt.Sprintf("cancelling task %d", tasks[i].TaskID)
			return
		}
	}
}

func (m *BrowserModel) pollStats() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.sess.Stats()
		return statsMsg{stats: stats, err: err}
	}
}

// startEdit opens the remote file into a buffer, spills it to a temp file and
// hands the terminal to $EDITOR.
func (m *BrowserModel) startEdit(name string) tea.Cmd {
	buf, err := m.editors.Open(m.sess, name)
	if err != nil {
		m.err = err
		return nil
	}

	tmp, err := os.CreateTemp("", "skiff-edit-*"+path.Ext(name))
	if err != nil {
		m.editors.Discard(buf)
		m.err = err
		return nil
	}
	if _, err := tmp.Write(buf.Content()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		m.editors.Discard(buf)
		m.err = err
		return nil
	}
	tmp.Close()

	m.editBuf = buf
	m.editTmp = tmp.Name()

	ed := os.Getenv("EDITOR")
	if ed == "" {
		ed = "vi"
	}
	c := exec.Command(ed, m.editTmp)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		return editorDoneMsg{err: err}
	})
}

// finishEdit reads back the temp file and commits the buffer. A conflicting
// remote change switches into the force-or-discard prompt.
func (m *BrowserModel) finishEdit(execErr error) tea.Cmd {
	defer os.Remove(m.editTmp)

	if execErr != nil {
		m.editors.Discard(m.editBuf)
		m.editBuf = nil
		m.err = fmt.Errorf("editor failed: %w", execErr)
		return nil
	}

	content, err := os.ReadFile(m.editTmp)
	if err != nil {
		m.editors.Discard(m.editBuf)
		m.editBuf = nil
		m.err = err
		return nil
	}

	if err := m.editBuf.Edit(content); err != nil {
		m.editBuf = nil
		m.err = err
		return nil
	}

	err = m.editors.Commit(m.editBuf)
	var conflict *editor.ConflictError
	switch {
	case err == nil:
		m.status = "saved " + m.editBuf.Path
		m.editBuf = nil
		m.loadDirectory()
	case errors.As(err, &conflict):
		m.conflict = true
	default:
		m.err = err
		m.editBuf = nil
	}
	return nil
}

func (m *BrowserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("📁 %s:%s", m.sess.ID(), m.sess.Path())))
	b.WriteString("\n\n")

	if len(m.entries) == 0 {
		b.WriteString(itemStyle.Render("(empty)"))
		b.WriteString("\n")
	}
	for i, entry := range m.entries {
		name := entry.Name
		if entry.Kind == transport.KindDir {
			name = dirStyle.Render(name + "/")
		} else if entry.Kind == transport.KindSymlink {
			name += "@"
		}
		line := fmt.Sprintf("%s  %8d  %s", entry.Mode, entry.Size, name)
		if i == m.cursor {
			b.WriteString(selectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	if active := m.activeTasks(); len(active) > 0 {
		b.WriteString("\n")
		for _, p := range active {
			b.WriteString(itemStyle.Render(fmt.Sprintf("[%d] %s %s: %d/%d bytes", p.TaskID, p.Kind, p.Dest, p.Bytes, p.Total)))
			b.WriteString("\n")
		}
	}

	if m.stats != nil {
		b.WriteString("\n")
		b.WriteString(itemStyle.Render("CPU: " + m.stats.CPU))
		b.WriteString("\n")
		b.WriteString(itemStyle.Render("Mem: " + m.stats.Memory))
		b.WriteString("\n")
		b.WriteString(itemStyle.Render("Disk: " + m.stats.Disk))
		b.WriteString("\n")
	}

	switch {
	case m.prompting != promptNone:
		b.WriteString("\n")
		b.WriteString(m.prompt.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: confirm • esc: cancel"))

	case m.conflict:
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Remote file changed since it was opened."))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("F: overwrite anyway • esc: discard edit"))

	default:
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: open • e: edit • d: download • u: upload • m: mkdir • n: new file • R: rename • D: delete • x: cancel • i: stats • r: refresh • esc: back"))
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(successStyle.Render(m.status))
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	return boxStyle.Render(b.String())
}

func (m *BrowserModel) activeTasks() []transfer.Progress {
	var active []transfer.Progress
	for _, p := range m.engine.Tasks() {
		if !p.State.Terminal() {
			active = append(active, p)
		}
	}
	return active
}
