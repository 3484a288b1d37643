// Command relay-term is a terminal-native front end for the relay. It
// speaks the same channel protocol the browser does, with escape
// sequences stripped instead of translated to markup.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"archimedes-relay/internal/ansi"
	"archimedes-relay/internal/client"
	"archimedes-relay/internal/session"
)

const (
	// Version is the version
	Version = "0.1.0"
	// Usage is some informative text that shows at the top
	Usage = "terminal client for the relay"
	// Description is the meat of the help.
	Description = `
	relay-term connects to a running relayd and drives telnet sessions
	from the terminal. Multiple sessions share the one relay channel;
	tab cycles between them.

	Commands start with a slash:

		/connect <host> <port> [encoding]
		/disconnect
		/break
		/dismiss
		/quit

	Anything else is sent to the active session as a line of input.
`

	// UsageText is the argument format for the command.
	UsageText = "relay-term [flags]"
)

func main() {
	app := cli.NewApp()

	app.Name = "relay-term"
	app.Version = Version
	app.Usage = Usage
	app.Description = Description
	app.UsageText = UsageText

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "url,u",
			Usage: "WebSocket URL of the relay channel",
			Value: "ws://localhost:8080/relay",
		},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	// The TUI owns the terminal; logging would scribble over it.
	logrus.SetOutput(io.Discard)

	changes := make(chan tea.Msg, 64)
	mux, err := client.Dial(client.Config{
		URL:        cliCtx.GlobalString("url"),
		Translator: ansi.Strip,
		OnChange:   func(id string) { changes <- sessionChangedMsg{id: id} },
	})
	if err != nil {
		return errors.Wrap(err, "could not reach relay")
	}
	defer mux.Close()

	p := tea.NewProgram(newModel(mux, changes), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "terminal UI failed")
	}
	return nil
}

type sessionChangedMsg struct {
	id string
}

type theme struct {
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	status      map[session.Status]lipgloss.Style
	footer      lipgloss.Style
	notice      lipgloss.Style
}

func newTheme() theme {
	green := lipgloss.Color("2")
	yellow := lipgloss.Color("3")
	red := lipgloss.Color("1")
	grey := lipgloss.Color("8")

	return theme{
		tabActive:   lipgloss.NewStyle().Bold(true).Underline(true),
		tabInactive: lipgloss.NewStyle().Foreground(grey),
		status: map[session.Status]lipgloss.Style{
			session.StatusConnecting:   lipgloss.NewStyle().Foreground(yellow),
			session.StatusConnected:    lipgloss.NewStyle().Foreground(green),
			session.StatusDisconnected: lipgloss.NewStyle().Foreground(grey),
			session.StatusErrored:      lipgloss.NewStyle().Foreground(red),
		},
		footer: lipgloss.NewStyle().Foreground(grey),
		notice: lipgloss.NewStyle().Foreground(yellow),
	}
}

type model struct {
	mux     *client.Mux
	changes chan tea.Msg

	sessions []session.Session
	active   int
	notice   string

	input  textinput.Model
	output viewport.Model
	ready  bool

	width  int
	height int

	theme theme
}

func newModel(mux *client.Mux, changes chan tea.Msg) model {
	input := textinput.New()
	input.Placeholder = "/connect <host> <port>"
	input.Focus()

	return model{
		mux:     mux,
		changes: changes,
		input:   input,
		theme:   newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitChange(m.changes))
}

// waitChange pumps mux change notifications into the update loop.
func waitChange(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		outHeight := msg.Height - 4
		if outHeight < 1 {
			outHeight = 1
		}
		if !m.ready {
			m.output = viewport.New(msg.Width, outHeight)
			m.ready = true
		} else {
			m.output.Width = msg.Width
			m.output.Height = outHeight
		}
		m.refresh()
		return m, nil

	case sessionChangedMsg:
		m.refresh()
		return m, waitChange(m.changes)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyTab:
			if len(m.sessions) > 0 {
				m.active = (m.active + 1) % len(m.sessions)
				m.refresh()
			}
			return m, nil
		case tea.KeyCtrlD:
			if id := m.activeID(); id != "" {
				m.mux.Disconnect(id)
			}
			return m, nil
		case tea.KeyPgUp:
			m.output.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.output.HalfViewDown()
			return m, nil
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			return m.handleLine(line)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleLine(line string) (tea.Model, tea.Cmd) {
	line = strings.TrimSpace(line)
	if line == "" {
		return m, nil
	}

	if strings.HasPrefix(line, "/") {
		return m.handleCommand(strings.Fields(line))
	}

	id := m.activeID()
	if id == "" {
		m.notice = "no session; /connect <host> <port> first"
		return m, nil
	}
	if !m.mux.Send(id, line+"\n") {
		m.notice = "relay channel is down"
	}
	return m, nil
}

func (m model) handleCommand(args []string) (tea.Model, tea.Cmd) {
	switch args[0] {
	case "/quit":
		return m, tea.Quit

	case "/connect":
		if len(args) < 3 {
			m.notice = "usage: /connect <host> <port> [encoding]"
			return m, nil
		}
		port, err := strconv.Atoi(args[2])
		if err != nil || port < 1 || port > 65535 {
			m.notice = "port must be 1-65535"
			return m, nil
		}
		encoding := ""
		if len(args) > 3 {
			encoding = args[3]
		}
		m.mux.Connect(args[1], port, encoding)
		m.sessions = m.mux.Registry().List()
		m.active = len(m.sessions) - 1
		m.refresh()
		m.notice = ""
		return m, nil

	case "/disconnect":
		if id := m.activeID(); id != "" {
			m.mux.Disconnect(id)
		}
		return m, nil

	case "/break":
		if id := m.activeID(); id != "" {
			m.mux.Break(id)
		}
		return m, nil

	case "/dismiss":
		if id := m.activeID(); id != "" {
			m.mux.Dismiss(id)
			if m.active > 0 {
				m.active--
			}
			m.refresh()
		}
		return m, nil
	}

	m.notice = "unknown command " + args[0]
	return m, nil
}

func (m *model) refresh() {
	m.sessions = m.mux.Registry().List()
	if m.active >= len(m.sessions) {
		m.active = len(m.sessions) - 1
	}
	if m.active < 0 {
		m.active = 0
	}

	if !m.ready {
		return
	}
	id := m.activeID()
	if id == "" {
		m.output.SetContent("")
		return
	}
	m.output.SetContent(strings.Join(m.mux.Registry().Output(id), ""))
	m.output.GotoBottom()
}

func (m model) activeID() string {
	if len(m.sessions) == 0 {
		return ""
	}
	return m.sessions[m.active].ID
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.output.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	footer := "tab: next session  ctrl+d: disconnect  ctrl+c: quit"
	if m.notice != "" {
		footer = m.theme.notice.Render(m.notice)
	}
	b.WriteString(m.theme.footer.Render(footer))
	return b.String()
}

func (m model) renderTabs() string {
	if len(m.sessions) == 0 {
		return m.theme.tabInactive.Render("no sessions")
	}

	parts := make([]string, 0, len(m.sessions))
	for i, sess := range m.sessions {
		label := fmt.Sprintf("%s [%s]", sess.Endpoint(), m.theme.status[sess.Status].Render(string(sess.Status)))
		if i == m.active {
			label = m.theme.tabActive.Render(label)
		} else {
			label = m.theme.tabInactive.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "  ")
}
