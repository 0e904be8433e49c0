// Package ui is the bubbletea front end. It renders engine snapshots and
// turns key presses into engine intents; it never mutates the store itself.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harborchat/harbor/internal/client/engine"
	"github.com/harborchat/harbor/internal/client/model"
	"github.com/harborchat/harbor/internal/client/presence"
	"github.com/harborchat/harbor/internal/client/rest"
	"github.com/harborchat/harbor/internal/client/session"
	"github.com/harborchat/harbor/internal/client/store"
	"github.com/harborchat/harbor/internal/client/transport"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#2563EB")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewConversations
	viewChat
)

// --- Messages ---

// RefreshMsg tells the UI the engine state changed and a re-render is due.
type RefreshMsg struct{}

type loginResultMsg struct {
	result *rest.LoginResult
	err    error
}

type startedMsg struct {
	rt  *Runtime
	err error
}

// Runtime bundles the per-session objects the UI reads from.
type Runtime struct {
	Engine  *engine.Engine
	Store   *store.Store
	Tracker *presence.Tracker
	Session *session.Session
}

// Deps is everything the UI needs from the composition root.
type Deps struct {
	Profile string
	Login   func(ctx context.Context, email, password string) (*rest.LoginResult, error)
	// Start builds and connects the messaging runtime for a session.
	Start func(sess *session.Session) (*Runtime, error)
	// Restored is non-nil when a stored session was found at startup.
	Restored *session.Session
}

// --- Model ---

type Model struct {
	deps Deps
	rt   *Runtime

	emailInput    textinput.Model
	passwordInput textinput.Model
	authFocused   int
	authError     string

	selectedConv int
	currentConv  string
	currentGroup bool
	historyPage  int

	messageInput textinput.Model
	chatViewport viewport.Model

	view   viewState
	width  int
	height int
}

func New(deps Deps) Model {
	emailInput := textinput.New()
	emailInput.Placeholder = "Email"
	emailInput.Focus()
	emailInput.CharLimit = 64
	emailInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	return Model{
		deps:          deps,
		emailInput:    emailInput,
		passwordInput: passwordInput,
		messageInput:  messageInput,
		chatViewport:  viewport.New(80, 20),
		view:          viewAuth,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.deps.Restored != nil {
		cmds = append(cmds, m.startSession(m.deps.Restored))
	}
	return tea.Batch(cmds...)
}

// --- Commands ---

func (m Model) startSession(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		rt, err := m.deps.Start(sess)
		return startedMsg{rt: rt, err: err}
	}
}

func (m Model) login(email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		result, err := m.deps.Login(ctx, email, password)
		return loginResultMsg{result: result, err: err}
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 8
		return m, nil

	case loginResultMsg:
		if msg.err != nil {
			m.authError = msg.err.Error()
			return m, nil
		}
		sess := &session.Session{
			Token: msg.result.Token,
			User:  msg.result.User,
		}
		return m, m.startSession(sess)

	case startedMsg:
		if msg.err != nil {
			m.authError = msg.err.Error()
			m.view = viewAuth
			return m, nil
		}
		m.rt = msg.rt
		m.view = viewConversations
		m.authError = ""
		return m, nil

	case RefreshMsg:
		if m.view == viewChat {
			m.refreshChatViewport()
		}
		return m, nil
	}

	return m.updateInputs(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.rt != nil {
			m.rt.Engine.Close()
		}
		return m, tea.Quit

	case "q":
		if m.view == viewConversations {
			if m.rt != nil {
				m.rt.Engine.Close()
			}
			return m, tea.Quit
		}

	case "tab":
		if m.view == viewAuth {
			if m.authFocused == 0 {
				m.authFocused = 1
				m.emailInput.Blur()
				m.passwordInput.Focus()
			} else {
				m.authFocused = 0
				m.passwordInput.Blur()
				m.emailInput.Focus()
			}
			return m, nil
		}

	case "enter":
		return m.handleEnter()

	case "up", "k":
		if m.view == viewConversations && m.selectedConv > 0 {
			m.selectedConv--
			return m, nil
		}

	case "down", "j":
		if m.view == viewConversations && m.rt != nil {
			if m.selectedConv < len(m.rt.Store.Conversations())-1 {
				m.selectedConv++
			}
			return m, nil
		}

	case "ctrl+p":
		// Older history, one page back.
		if m.view == viewChat && m.rt != nil {
			m.historyPage++
			page := m.historyPage
			key, group := m.currentConv, m.currentGroup
			eng := m.rt.Engine
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				eng.LoadHistory(ctx, key, group, page)
				return RefreshMsg{}
			}
		}

	case "ctrl+x":
		// Delete our most recent confirmed message in this chat.
		if m.view == viewChat && m.rt != nil {
			msgs := m.rt.Store.Messages(m.currentConv)
			for i := len(msgs) - 1; i >= 0; i-- {
				if msgs[i].Own && !msgs[i].Pending() {
					id := msgs[i].ID
					eng := m.rt.Engine
					return m, func() tea.Msg {
						ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
						defer cancel()
						eng.DeleteMessage(ctx, id)
						return RefreshMsg{}
					}
				}
			}
			return m, nil
		}

	case "esc":
		if m.view == viewChat {
			if m.currentGroup && m.rt != nil {
				m.rt.Engine.LeaveGroup(m.currentConv)
			}
			m.view = viewConversations
			return m, nil
		}
	}

	return m.updateInputs(msg)
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.view {
	case viewAuth:
		if m.emailInput.Value() != "" && m.passwordInput.Value() != "" {
			m.authError = ""
			return m, m.login(m.emailInput.Value(), m.passwordInput.Value())
		}

	case viewConversations:
		if m.rt == nil {
			return m, nil
		}
		convs := m.rt.Store.Conversations()
		if len(convs) == 0 || m.selectedConv >= len(convs) {
			return m, nil
		}
		conv := convs[m.selectedConv]
		m.currentConv = conv.ID
		m.currentGroup = conv.Kind == model.KindGroup
		m.historyPage = 1
		m.view = viewChat
		m.messageInput.Focus()

		eng := m.rt.Engine
		key, group := m.currentConv, m.currentGroup
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if group {
				eng.JoinGroup(key)
			}
			eng.LoadHistory(ctx, key, group, 1)
			eng.SelectConversation(ctx, key)
			return RefreshMsg{}
		}

	case viewChat:
		if m.messageInput.Value() != "" && m.rt != nil {
			text := m.messageInput.Value()
			m.messageInput.SetValue("")
			m.rt.Engine.SendMessage(m.currentConv, m.currentGroup, text)
			m.refreshChatViewport()
			return m, nil
		}
	}
	return m, nil
}

func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.view {
	case viewAuth:
		if m.authFocused == 0 {
			m.emailInput, _ = m.emailInput.Update(msg)
		} else {
			m.passwordInput, _ = m.passwordInput.Update(msg)
		}
	case viewChat:
		before := m.messageInput.Value()
		m.messageInput, _ = m.messageInput.Update(msg)
		if m.rt != nil && m.messageInput.Value() != before {
			m.rt.Engine.InputActivity(m.currentConv, m.currentGroup)
		}
		m.chatViewport, _ = m.chatViewport.Update(msg)
	}
	return m, nil
}

func (m *Model) refreshChatViewport() {
	if m.rt == nil {
		return
	}
	var content strings.Builder
	for _, msg := range m.rt.Store.Messages(m.currentConv) {
		timestamp := msg.SentAt.Format("15:04")
		style := otherMessageStyle
		if msg.Own {
			style = ownMessageStyle
		}

		status := ""
		if msg.Own {
			switch {
			case msg.Pending():
				status = " " + mutedStyle.Render("(sending)")
			case len(msg.ReadBy) > 0:
				status = " " + mutedStyle.Render("✓✓")
			default:
				status = " " + mutedStyle.Render("✓")
			}
		}

		line := fmt.Sprintf("%s %s: %s%s",
			mutedStyle.Render(timestamp),
			style.Render(msg.Sender.Name),
			msg.Text,
			status,
		)
		content.WriteString(line + "\n")
	}
	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

// --- View ---

func (m Model) View() string {
	switch m.view {
	case viewAuth:
		return m.authView()
	case viewConversations:
		return m.conversationsView()
	case viewChat:
		return m.chatView()
	}
	return ""
}

func (m Model) authView() string {
	var s strings.Builder

	s.WriteString("\n\n")
	s.WriteString(titleStyle.Render("HARBOR"))
	s.WriteString("\n\n")

	s.WriteString("  Email:\n")
	s.WriteString("  " + m.emailInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.authError != "" {
		s.WriteString(errorStyle.Render("  " + m.authError + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to sign in • Ctrl+C to quit\n"))

	return s.String()
}

func (m Model) conversationsView() string {
	var s strings.Builder

	name := ""
	if m.rt != nil {
		name = m.rt.Session.User.Name
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("HARBOR - %s", name)))
	s.WriteString(m.statusLine())
	s.WriteString("\n\n")

	var convs []model.Conversation
	if m.rt != nil {
		convs = m.rt.Store.Conversations()
	}

	if len(convs) == 0 {
		s.WriteString(mutedStyle.Render("  No conversations yet.\n"))
	} else {
		for i, conv := range convs {
			prefix := "  "
			style := lipgloss.NewStyle()
			if i == m.selectedConv {
				prefix = "→ "
				style = selectedStyle
			}

			dot := " "
			if conv.Kind == model.KindDirect && m.rt.Tracker.IsUserOnline(conv.ID) {
				dot = "●"
			}

			label := conv.DisplayName
			if label == "" {
				label = conv.ID
			}

			badge := ""
			if conv.UnreadCount > 0 {
				badge = fmt.Sprintf(" (%d)", conv.UnreadCount)
			}

			hint := ""
			if conv.Kind == model.KindDirect && m.rt.Tracker.IsUserTyping(conv.ID) {
				hint = mutedStyle.Render(" typing...")
			} else if conv.LastMessageText != "" {
				hint = mutedStyle.Render(" " + truncate(conv.LastMessageText, 30))
			}

			s.WriteString(style.Render(fmt.Sprintf("%s%s %s%s", prefix, dot, label, badge)))
			s.WriteString(hint)
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • q to quit"))

	return s.String()
}

func (m Model) chatView() string {
	var s strings.Builder

	conv, _ := m.rt.Store.Conversation(m.currentConv)
	label := conv.DisplayName
	if label == "" {
		label = conv.ID
	}
	if conv.Kind == model.KindDirect && m.rt.Tracker.IsUserOnline(conv.ID) {
		label += " ●"
	}

	s.WriteString(titleStyle.Render(label))
	s.WriteString(m.statusLine())
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 10)))
	s.WriteString("\n")
	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")

	if conv.Kind == model.KindDirect && m.rt.Tracker.IsUserTyping(conv.ID, m.currentConv) {
		s.WriteString(mutedStyle.Render(label + " is typing..."))
	}
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 10)))
	s.WriteString("\n")
	s.WriteString(m.messageInput.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("Enter to send • Ctrl+P older history • Ctrl+X delete last • Esc back"))

	return s.String()
}

// statusLine shows the error banner or a reconnecting hint next to the title.
func (m Model) statusLine() string {
	if m.rt == nil {
		return ""
	}
	if errText := m.rt.Engine.Err(); errText != "" {
		return "  " + errorStyle.Render(errText)
	}
	if m.rt.Engine.ConnState() != transport.StateConnected {
		return "  " + mutedStyle.Render("reconnecting...")
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
