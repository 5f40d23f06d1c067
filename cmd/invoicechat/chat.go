// This file implements the interactive chat interface using bubbletea.
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"invoicechat/internal/types"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true).Padding(0, 1)
)

type chatTurn struct {
	role    string // "user", "assistant", or "error"
	content string
	time    time.Time
}

// chatModel is the bubbletea model for the interactive chat interface.
type chatModel struct {
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	app       *app
	history   []chatTurn
	sessionID string
	isLoading bool
	width     int
	height    int
	ready     bool
}

type (
	responseMsg *types.Response
	errorMsg    error
)

func newChatModel(a *app) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about your invoices... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		renderer:  renderer,
		app:       a,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.isLoading {
				return m.handleSubmit()
			}
		}
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		inputHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, msg.Height-headerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = msg.Height - headerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(m.viewport.Width),
		)
		m.refreshViewport()

	case responseMsg:
		m.isLoading = false
		m.sessionID = msg.SessionID
		m.history = append(m.history, chatTurn{role: "assistant", content: msg.Reply, time: time.Now()})
		if msg.HasMore {
			m.history = append(m.history, chatTurn{role: "error", content: "(showing the first results only)", time: time.Now()})
		}
		m.refreshViewport()
		m.viewport.GotoBottom()

	case errorMsg:
		m.isLoading = false
		m.history = append(m.history, chatTurn{role: "error", content: userFacing(msg), time: time.Now()})
		m.refreshViewport()
		m.viewport.GotoBottom()

	case spinner.TickMsg:
		if m.isLoading {
			m.spinner, spCmd = m.spinner.Update(msg)
		}
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chatModel) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.textinput.Value())
	if text == "" {
		return m, nil
	}
	m.textinput.Reset()
	m.history = append(m.history, chatTurn{role: "user", content: text, time: time.Now()})
	m.isLoading = true
	m.refreshViewport()
	m.viewport.GotoBottom()

	engine := m.app.engine
	sessionID := m.sessionID
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		resp, err := engine.Handle(context.Background(), types.Request{
			SessionID: sessionID,
			Message:   text,
			Identity:  callerIdentity(),
		})
		if err != nil {
			return errorMsg(err)
		}
		return responseMsg(resp)
	})
}

func (m *chatModel) refreshViewport() {
	var b strings.Builder
	for _, turn := range m.history {
		switch turn.role {
		case "user":
			b.WriteString(userStyle.Render("You") + " " + turn.content + "\n")
		case "assistant":
			rendered := turn.content
			if m.renderer != nil {
				if out, err := m.renderer.Render(turn.content); err == nil {
					rendered = strings.TrimRight(out, "\n")
				}
			}
			b.WriteString(assistantStyle.Render("invoicechat") + "\n" + rendered + "\n")
		case "error":
			b.WriteString(errStyle.Render(turn.content) + "\n")
		}
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
}

func (m chatModel) View() string {
	if !m.ready {
		return "starting..."
	}
	header := headerStyle.Render("invoicechat") + metaStyle.Render("  ask about your invoices")
	input := m.textinput.View()
	if m.isLoading {
		input = m.spinner.View() + " thinking..."
	}
	return fmt.Sprintf("%s\n%s\n\n%s", header, m.viewport.View(), input)
}

// userFacing renders an error for display, keeping the typed message when
// one is available.
func userFacing(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func runChat() error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(newChatModel(a), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
