package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hupe1980/ollamabridge"
	"github.com/hupe1980/ollamabridge/api"
	"github.com/hupe1980/ollamabridge/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type tickMsg time.Time

// chatModel keeps the conversation. Continuations mutate it directly since
// they only ever run inside Update, during Drain.
type chatModel struct {
	bridge  *ollamabridge.Bridge
	model   string
	tick    time.Duration
	history []api.Message
	lastErr string
	running bool
	waiting bool
	ready   bool

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
}

func newChatModel(b *ollamabridge.Bridge, model, system string, tick time.Duration) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Say something..."
	ti.Focus()
	ti.CharLimit = 4096

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &chatModel{
		bridge:  b,
		model:   model,
		tick:    tick,
		input:   ti,
		spinner: sp,
	}
	if system != "" {
		m.history = append(m.history, api.Message{Role: api.RoleSystem, Content: system})
	}
	return m
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.scheduleTick())
}

func (m *chatModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			m.send()
		}

	case tea.WindowSizeMsg:
		headerHeight, footerHeight := 2, 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.input.Width = msg.Width - 4

	case tickMsg:
		m.bridge.Drain()
		m.running = m.bridge.IsRunning()
		m.waiting = m.bridge.Pending() > 0
		cmds = append(cmds, m.scheduleTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if m.ready {
		m.viewport.SetContent(m.transcript())
		m.viewport.GotoBottom()
	}

	return m, tea.Batch(cmds...)
}

func (m *chatModel) send() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.waiting {
		return
	}
	m.input.Reset()
	m.lastErr = ""
	m.history = append(m.history, api.Message{Role: api.RoleUser, Content: text})

	_, err := m.bridge.Chat(m.model, m.history, core.ContinuationFunc(func(o core.Outcome) error {
		if !o.OK() {
			m.lastErr = o.ErrorMessage()
			return nil
		}
		res := o.Result.(core.ChatResult)
		m.history = append(m.history, api.Message{Role: res.Role, Content: res.Content})
		return nil
	}))
	if err != nil {
		m.lastErr = err.Error()
		return
	}
	m.waiting = true
}

func (m *chatModel) transcript() string {
	var b strings.Builder
	for _, msg := range m.history {
		switch msg.Role {
		case api.RoleUser:
			b.WriteString(userStyle.Render("you") + "\n")
		case api.RoleAssistant:
			b.WriteString(assistantStyle.Render(m.model) + "\n")
		default:
			continue
		}
		b.WriteString(msg.Content + "\n\n")
	}
	if m.lastErr != "" {
		b.WriteString(errorStyle.Render(m.lastErr) + "\n")
	}
	return b.String()
}

func (m *chatModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	status := errorStyle.Render("offline")
	if m.running {
		status = onlineStyle.Render("online")
	}
	header := fmt.Sprintf("%s %s %s", titleStyle.Render("ollama-chat"), m.model, status)

	footer := m.input.View()
	if m.waiting {
		footer = m.spinner.View() + " waiting for " + m.model
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		footer,
		helpStyle.Render("enter: send • esc: quit"),
	)
}
