// Betterfly terminal client.
//
// Screens
// -------
//   stateLogin – centered form asking for user id and display name
//   stateChat  – full-screen chat with a scrollable message viewport
//
// The footer input doubles as a command line. Plain text posts to the
// current destination; slash commands steer the session:
//
//   /to <id>            chat with a user
//   /group <id>         chat with a group
//   /all                broadcast to everyone online
//   /add <id>           add a contact
//   /create <id> <name> create a group
//   /join <id>          join a group
//   /whois <id>         look up a user profile
//   /quit               exit
//
// Concurrency
// -----------
//   A single goroutine reads frames from the connection and forwards
//   them to the frames channel. The Bubbletea event loop consumes one
//   frame at a time via waitForFrame, queuing the next read after each
//   frame is processed.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Voltline/Betterfly-Server-Go/internal/client"
	"github.com/Voltline/Betterfly-Server-Go/internal/message"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(gray).
			Width(14)

	focusedLabelStyle = lipgloss.NewStyle().
				Foreground(cyan).
				Width(14)

	hintStyle   = lipgloss.NewStyle().Foreground(gray).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(red)
	sysStyle    = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle     = lipgloss.NewStyle().Foreground(gray)
	myNameStyle = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type frameMsg *message.Response // one server frame arrived

type disconnectedMsg struct{} // server closed the connection

type loggedInMsg struct { // dial + login succeeded
	cli    *client.Client
	frames chan *message.Response
}

type dialErrMsg struct{ err error }

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
)

// dest is the current chat destination.
type dest struct {
	id      int64
	isGroup bool
	// set reports whether any destination has been chosen yet.
	set bool
}

func (d dest) label() string {
	switch {
	case !d.set:
		return "nobody (use /to, /group or /all)"
	case d.isGroup && d.id == -1:
		return "everyone"
	case d.isGroup:
		return fmt.Sprintf("group %d", d.id)
	default:
		return fmt.Sprintf("user %d", d.id)
	}
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	addr   string
	cli    *client.Client
	frames chan *message.Response

	state appState
	me    int64
	name  string

	// Login form
	loginFocus  int
	loginFields [2]textinput.Model // [0]=user id  [1]=display name
	statusMsg   string
	dialing     bool

	// Chat
	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string
	to        dest

	width, height int
}

func newModel(addr string) model {
	idf := textinput.New()
	idf.Placeholder = "user id (>= 1000)"
	idf.Focus()
	idf.CharLimit = 12
	idf.Width = 28

	nf := textinput.New()
	nf.Placeholder = "display name"
	nf.CharLimit = 32
	nf.Width = 28

	ci := textinput.New()
	ci.Placeholder = "Message or /command…"
	ci.CharLimit = 500

	return model{
		addr:        addr,
		state:       stateLogin,
		loginFields: [2]textinput.Model{idf, nf},
		chatInput:   ci,
	}
}

// ---------------------------------------------------------------------------
// Tea interface
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case loggedInMsg:
		m.cli = msg.cli
		m.frames = msg.frames
		m.dialing = false
		m.statusMsg = "Waiting for welcome…"
		return m, waitForFrame(m.frames)

	case dialErrMsg:
		m.dialing = false
		m.statusMsg = msg.err.Error()
		return m, nil

	case frameMsg:
		var cmd tea.Cmd
		m, cmd = m.handleFrame((*message.Response)(msg))
		return m, tea.Batch(cmd, waitForFrame(m.frames))

	case disconnectedMsg:
		if m.state == stateLogin {
			m.cli = nil
			m.frames = nil
			m.statusMsg = "connection closed by server"
			return m, nil
		}
		m.appendChat(errorStyle.Render("⚠ disconnected from server"))
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1)
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.loginFocus = (m.loginFocus + 1) % 2
		for i := range m.loginFields {
			if i == m.loginFocus {
				m.loginFields[i].Focus()
			} else {
				m.loginFields[i].Blur()
			}
		}
		return m, textinput.Blink

	case tea.KeyEnter:
		if m.dialing || m.cli != nil {
			return m, nil
		}
		id, err := strconv.ParseInt(strings.TrimSpace(m.loginFields[0].Value()), 10, 64)
		if err != nil || id <= 0 {
			m.statusMsg = "user id must be a positive number"
			return m, nil
		}
		name := strings.TrimSpace(m.loginFields[1].Value())
		if name == "" {
			m.statusMsg = "display name is required"
			return m, nil
		}
		m.me = id
		m.name = name
		m.dialing = true
		m.statusMsg = "Connecting…"
		return m, dialAndLogin(m.addr, id, name)
	}

	var cmd tea.Cmd
	m.loginFields[m.loginFocus], cmd = m.loginFields[m.loginFocus].Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		saveLastLogin(time.Now())
		if m.cli != nil {
			m.cli.Exit()
		}
		return m, tea.Quit

	case tea.KeyEnter:
		line := strings.TrimSpace(m.chatInput.Value())
		m.chatInput.Reset()
		if line == "" {
			return m, nil
		}
		if strings.HasPrefix(line, "/") {
			return m.runCommand(line)
		}
		if !m.to.set {
			m.appendChat(errorStyle.Render("⚠ no destination, use /to, /group or /all first"))
			return m, nil
		}
		if err := m.cli.Post(m.to.id, line, "text", m.to.isGroup); err != nil {
			m.appendChat(errorStyle.Render("⚠ send failed: " + err.Error()))
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// runCommand interprets one slash command from the footer input.
func (m model) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	parseID := func() (int64, bool) {
		if len(args) < 1 {
			m.appendChat(errorStyle.Render("⚠ " + cmd + " needs an id"))
			return 0, false
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			m.appendChat(errorStyle.Render("⚠ bad id: " + args[0]))
			return 0, false
		}
		return id, true
	}

	switch cmd {
	case "/to":
		if id, ok := parseID(); ok {
			m.to = dest{id: id, isGroup: false, set: true}
			m.appendChat(sysStyle.Render("⚡ now chatting with " + m.to.label()))
		}
	case "/group":
		if id, ok := parseID(); ok {
			m.to = dest{id: id, isGroup: true, set: true}
			m.appendChat(sysStyle.Render("⚡ now chatting in " + m.to.label()))
		}
	case "/all":
		m.to = dest{id: -1, isGroup: true, set: true}
		m.appendChat(sysStyle.Render("⚡ now broadcasting to everyone online"))
	case "/add":
		if id, ok := parseID(); ok {
			if err := m.cli.AddContact(id); err != nil {
				m.appendChat(errorStyle.Render("⚠ " + err.Error()))
			}
		}
	case "/create":
		if len(args) < 2 {
			m.appendChat(errorStyle.Render("⚠ /create needs an id and a name"))
			break
		}
		if id, ok := parseID(); ok {
			if err := m.cli.CreateGroup(id, strings.Join(args[1:], " ")); err != nil {
				m.appendChat(errorStyle.Render("⚠ " + err.Error()))
			}
		}
	case "/join":
		if id, ok := parseID(); ok {
			if err := m.cli.JoinGroup(id); err != nil {
				m.appendChat(errorStyle.Render("⚠ " + err.Error()))
			}
		}
	case "/whois":
		if id, ok := parseID(); ok {
			if err := m.cli.QueryUser(id); err != nil {
				m.appendChat(errorStyle.Render("⚠ " + err.Error()))
			}
		}
	case "/quit":
		saveLastLogin(time.Now())
		m.cli.Exit()
		return m, tea.Quit
	default:
		m.appendChat(errorStyle.Render("⚠ unknown command " + cmd))
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Server frame handler
// ---------------------------------------------------------------------------

func (m model) handleFrame(resp *message.Response) (model, tea.Cmd) {
	switch resp.Type {

	case message.RespRefused:
		if m.cli != nil {
			m.cli.Close()
			m.cli = nil
			m.frames = nil
		}
		m.state = stateLogin
		m.statusMsg = "login refused: user already online"
		return m, nil

	case message.RespServer:
		if m.state == stateLogin && strings.HasPrefix(resp.Text(), "Welcome to Betterfly") {
			m.state = stateChat
			m.statusMsg = ""
			m.chatInput.Focus()
			m.appendChat(sysStyle.Render("⚡ " + resp.Text()))
			return m, textinput.Blink
		}
		m.appendChat(sysStyle.Render("⚡ " + resp.Text()))

	case message.RespPost:
		m.appendChat(m.renderPost(resp))

	case message.RespWarn:
		m.appendChat(errorStyle.Render("⚠ " + resp.Text()))

	case message.RespUserInfo:
		name, avatar := splitInfo(resp.Text())
		line := fmt.Sprintf("user %d is %q", resp.ToID(), name)
		if avatar != "" {
			line += " (avatar " + avatar + ")"
		}
		m.appendChat(sysStyle.Render("⚡ " + line))

	case message.RespGroupInfo:
		name, avatar := splitInfo(resp.Text())
		line := fmt.Sprintf("group %d is %q", resp.ToID(), name)
		if avatar != "" {
			line += " (avatar " + avatar + ")"
		}
		m.appendChat(sysStyle.Render("⚡ " + line))

	case message.RespFile:
		m.appendChat(sysStyle.Render("⚡ file " + resp.Text() + ": " + resp.Body()))
	}
	return m, nil
}

// renderPost formats one chat frame: timestamp, sender, destination tag,
// text. Sync replays carry no sender name, so fall back to the id.
func (m model) renderPost(resp *message.Response) string {
	ts := tsStyle.Render("[" + message.ParseTime(resp.Timestamp).Format("15:04:05") + "]")

	who := resp.SenderName()
	if who == "" {
		who = fmt.Sprintf("#%d", resp.FromID())
	}
	var name string
	if resp.FromID() == m.me {
		name = myNameStyle.Render(who)
	} else {
		name = peerStyle.Render(who)
	}

	tag := ""
	if resp.Group() {
		tag = tsStyle.Render(fmt.Sprintf(" (group %d)", resp.ToID()))
	}
	return ts + " " + name + tag + ": " + resp.Text()
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Starting…"
	}

	title := titleStyle.Render("  Betterfly  ")

	renderField := func(label string, f textinput.Model, focused bool) string {
		if focused {
			return focusedLabelStyle.Render(label) + "  " + f.View()
		}
		return labelStyle.Render(label) + "  " + f.View()
	}

	status := ""
	if m.statusMsg != "" {
		if m.dialing || strings.HasPrefix(m.statusMsg, "Waiting") {
			status = hintStyle.Render(m.statusMsg)
		} else {
			status = errorStyle.Render(m.statusMsg)
		}
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		renderField("User id", m.loginFields[0], m.loginFocus == 0),
		renderField("Display name", m.loginFields[1], m.loginFocus == 1),
		"",
		hintStyle.Render("Tab: switch field   Enter: connect   Ctrl+C: quit"),
		"",
		status,
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" Betterfly  ·  %s (%d)  ·  to: %s  ·  PgUp/Dn: Scroll  Ctrl+C: Quit",
			m.name, m.me, m.to.label()))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// dialAndLogin connects, authenticates, and starts the reader goroutine.
func dialAndLogin(addr string, id int64, name string) tea.Cmd {
	return func() tea.Msg {
		cli, err := client.Dial(addr, id, name)
		if err != nil {
			return dialErrMsg{err: err}
		}
		if err := cli.Login(loadLastLogin(), ""); err != nil {
			cli.Close()
			return dialErrMsg{err: err}
		}

		frames := make(chan *message.Response, 64)
		go func() {
			defer close(frames)
			for {
				resp, err := cli.Recv()
				if err != nil {
					return
				}
				frames <- resp
			}
		}()
		return loggedInMsg{cli: cli, frames: frames}
	}
}

// waitForFrame blocks until the next frame arrives on ch. A closed
// channel means the server hung up.
func waitForFrame(ch <-chan *message.Response) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		resp, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return frameMsg(resp)
	}
}

// splitInfo splits the "name.avatar" pair on its first dot.
func splitInfo(info string) (name, avatar string) {
	if i := strings.Index(info, "."); i >= 0 {
		return info[:i], info[i+1:]
	}
	return info, ""
}

// stateFile is where the previous login time is remembered between runs.
func stateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".betterfly", "last_login")
}

func loadLastLogin() time.Time {
	path := stateFile()
	if path == "" {
		return time.Now()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Now()
	}
	return message.ParseTime(strings.TrimSpace(string(data)))
}

func saveLastLogin(t time.Time) {
	path := stateFile()
	if path == "" {
		return
	}
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte(message.FormatTime(t)), 0o644)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	addr := flag.String("addr", client.DefaultAddr, "server address")
	flag.Parse()

	p := tea.NewProgram(
		newModel(*addr),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
