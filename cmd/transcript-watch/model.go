package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"
)

type callListMsg struct{ calls []string }

type transcriptMsg struct {
	text    string
	isFinal bool
}

type callEndedMsg struct{ callID string }

type disconnectedMsg struct{ err error }

type screen int

const (
	screenPicking screen = iota
	screenWatching
	screenDone
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	interimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type model struct {
	conn *websocket.Conn

	screen   screen
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int

	calls    []string
	cursor   int
	callID   string
	lines    []string
	interim  string
	finalErr error
}

func newModel(conn *websocket.Conn) model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return model{
		conn:     conn,
		screen:   screenPicking,
		spinner:  s,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.screen == screenPicking && m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.screen == screenPicking && m.cursor < len(m.calls)-1 {
				m.cursor++
			}
		case "enter":
			if m.screen == screenPicking && len(m.calls) > 0 {
				m.callID = m.calls[m.cursor]
				if err := m.conn.WriteMessage(websocket.TextMessage, []byte(m.callID)); err != nil {
					m.finalErr = err
					m.screen = screenDone
					return m, nil
				}
				m.screen = screenWatching
			}
		}

	case callListMsg:
		m.calls = msg.calls
		m.cursor = 0
		return m, nil

	case transcriptMsg:
		if msg.isFinal {
			m.interim = ""
			m.lines = append(m.lines, msg.text)
		} else {
			m.interim = msg.text
		}
		m.refreshViewport()
		return m, nil

	case callEndedMsg:
		m.interim = ""
		m.screen = screenDone
		m.refreshViewport()
		return m, nil

	case disconnectedMsg:
		if m.screen != screenDone {
			m.finalErr = msg.err
			m.screen = screenDone
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) refreshViewport() {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(wordwrap.String(line, m.viewport.Width))
		b.WriteString("\n")
	}
	if m.interim != "" {
		b.WriteString(interimStyle.Render(wordwrap.String(m.interim, m.viewport.Width)))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m model) View() string {
	switch m.screen {
	case screenPicking:
		return m.pickerView()
	case screenWatching:
		header := titleStyle.Render(fmt.Sprintf("Watching call %s", m.callID))
		footer := dimStyle.Render("q to quit")
		return lipgloss.JoinVertical(lipgloss.Left, header, "", m.viewport.View(), footer)
	default:
		status := dimStyle.Render("Call ended.")
		if m.finalErr != nil {
			status = errorStyle.Render(fmt.Sprintf("Disconnected: %v", m.finalErr))
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(fmt.Sprintf("Call %s", m.callID)), "",
			m.viewport.View(), status, dimStyle.Render("q to quit"))
	}
}

func (m model) pickerView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Open calls"))
	b.WriteString("\n\n")

	if len(m.calls) == 0 {
		b.WriteString(m.spinner.View())
		b.WriteString(dimStyle.Render(" waiting for calls..."))
		b.WriteString("\n")
	}

	for i, call := range m.calls {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + call))
		} else {
			b.WriteString("  " + call)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("enter to watch, q to quit"))
	return b.String()
}
