// Package client implements the client side of the relay channel: the
// multiplexer a front end embeds to run many remote terminal sessions
// over one socket. It owns the session registry; the UI only reads.
package client

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"archimedes-relay/internal/ansi"
	"archimedes-relay/internal/protocol"
	"archimedes-relay/internal/session"
)

// Translator converts a raw remote chunk into what the UI stores and
// renders. Web front ends want ansi.ToMarkup; terminal-native ones want
// ansi.Strip.
type Translator func(string) string

// Config configures a Mux. URL is required; everything else has
// defaults.
type Config struct {
	URL         string
	Translator  Translator             // default ansi.ToMarkup
	LogCapacity int                    // per-session scroll-back cap
	OnChange    func(sessionID string) // called after a session mutates
}

// Mux is the client-side transport multiplexer. All registry mutation
// happens on the read loop goroutine or behind the send guard; the UI
// reads session state through Registry.
type Mux struct {
	registry  *session.Registry
	translate Translator
	onChange  func(string)
	log       *logrus.Entry

	conn *websocket.Conn

	mu    sync.Mutex // guards conn writes and ready
	ready bool
}

// Dial opens the relay channel and starts the read loop.
func Dial(cfg Config) (*Mux, error) {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial relay %s", cfg.URL)
	}

	translate := cfg.Translator
	if translate == nil {
		translate = ansi.ToMarkup
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(string) {}
	}

	m := &Mux{
		registry:  session.NewRegistry(cfg.LogCapacity),
		translate: translate,
		onChange:  onChange,
		log:       logrus.WithField("component", "mux"),
		conn:      conn,
		ready:     true,
	}

	go m.readLoop()
	return m, nil
}

// Registry exposes session state for rendering.
func (m *Mux) Registry() *session.Registry {
	return m.registry
}

// Ready reports whether the channel accepts sends.
func (m *Mux) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Connect creates a new session and asks the relay to dial host:port.
// The id is generated here; the relay adopts it. Returns the id and
// whether the intent was actually sent.
func (m *Mux) Connect(host string, port int, encoding string) (string, bool) {
	id := m.registry.Create(host, port)
	if !m.send(protocol.ConnectMsg{SessionID: id, Host: host, Port: port, Encoding: encoding}) {
		m.registry.Transition(id, session.StatusErrored, "relay channel not ready")
		m.onChange(id)
		return id, false
	}
	m.onChange(id)
	return id, true
}

// Send forwards keystrokes to a session's remote side.
func (m *Mux) Send(id, data string) bool {
	return m.send(protocol.DataMsg{SessionID: id, Data: data})
}

// Disconnect requests a best-effort close of a session's remote side.
// The state change arrives back as a disconnected frame.
func (m *Mux) Disconnect(id string) bool {
	return m.send(protocol.DisconnectMsg{SessionID: id})
}

// Break sends a telnet BREAK to a session's remote side.
func (m *Mux) Break(id string) bool {
	return m.send(protocol.BreakMsg{SessionID: id})
}

// Dismiss drops a terminal session from the registry. Explicit user
// action; errored sessions stay visible until dismissed.
func (m *Mux) Dismiss(id string) {
	if m.registry.Remove(id) {
		m.onChange(id)
	}
}

// Close shuts the channel down. Session state is settled by the read
// loop's close handling.
func (m *Mux) Close() {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	m.conn.Close()
}

// send writes one frame, refusing with a logged warning when the channel
// is not open. Typing before the handshake completes (or after the
// channel died) degrades gracefully instead of erroring.
func (m *Mux) send(msg protocol.Msg) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		m.log.Errorf("encode frame: %v", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		m.log.Warnf("relay channel not ready, dropping %s frame", msg.Frame().Type)
		return false
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.log.Warnf("relay write failed: %v", err)
		return false
	}
	return true
}

// readLoop delivers server frames sequentially until the channel closes,
// then settles every remaining session.
func (m *Mux) readLoop() {
	defer m.handleChannelClose()

	for {
		_, raw, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		m.handleFrame(raw)
	}
}

// handleFrame routes one server frame. Malformed frames are logged and
// dropped; the channel stays open.
func (m *Mux) handleFrame(raw []byte) {
	msg, err := protocol.DecodeServer(raw)
	if err != nil {
		m.log.Warnf("malformed frame: %v", err)
		return
	}

	switch f := msg.(type) {
	case protocol.ConnectedMsg:
		m.handleConnected(f)
	case protocol.DataMsg:
		m.handleData(f)
	case protocol.DisconnectedMsg:
		m.handleDisconnected(f)
	case protocol.ErrorMsg:
		m.handleError(f)
	}
}

func (m *Mux) handleConnected(f protocol.ConnectedMsg) {
	res := session.ResolutionFound
	if _, ok := m.registry.Get(f.SessionID); ok {
		m.registry.Transition(f.SessionID, session.StatusConnected, "")
	} else {
		// Server confirmation raced ahead of (or never had) our connect
		// intent; make the session visible anyway.
		m.registry.Adopt(f.SessionID, f.Host, f.Port, session.StatusConnected, "")
		res = session.ResolutionSynthesized
	}

	sess, _ := m.registry.Get(f.SessionID)
	m.registry.Append(f.SessionID, "Connected to "+sess.Endpoint()+"\n")
	m.log.Debugf("session %s connected (%s)", f.SessionID, res)
	m.onChange(f.SessionID)
}

func (m *Mux) handleData(f protocol.DataMsg) {
	if !m.registry.Append(f.SessionID, m.translate(f.Data)) {
		// Output for a session we do not know is not actionable.
		m.log.Infof("dropping data for unknown session %s (%s)", f.SessionID, session.ResolutionDropped)
		return
	}
	m.onChange(f.SessionID)
}

func (m *Mux) handleDisconnected(f protocol.DisconnectedMsg) {
	if !m.registry.Transition(f.SessionID, session.StatusDisconnected, "") {
		m.log.Infof("dropping disconnected for unknown session %s (%s)", f.SessionID, session.ResolutionDropped)
		return
	}
	m.registry.Append(f.SessionID, "Disconnected.\n")
	m.onChange(f.SessionID)
}

func (m *Mux) handleError(f protocol.ErrorMsg) {
	if f.SessionID == "" {
		m.log.Warnf("relay channel error: %s", f.Message)
		return
	}

	res := session.ResolutionFound
	if _, ok := m.registry.Get(f.SessionID); ok {
		m.registry.Transition(f.SessionID, session.StatusErrored, f.Message)
	} else {
		// Synthesize an errored placeholder so the failure is still
		// visible to the user.
		m.registry.Adopt(f.SessionID, "", 0, session.StatusErrored, f.Message)
		res = session.ResolutionSynthesized
	}

	m.registry.Append(f.SessionID, "Error: "+f.Message+"\n")
	m.log.Debugf("session %s errored (%s): %s", f.SessionID, res, f.Message)
	m.onChange(f.SessionID)
}

// handleChannelClose settles every non-terminal session once the physical
// channel is gone: connected sessions become disconnected, sessions still
// connecting become errored.
func (m *Mux) handleChannelClose() {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()

	for _, sess := range m.registry.List() {
		if sess.Status.Terminal() {
			continue
		}
		switch sess.Status {
		case session.StatusConnected:
			m.registry.Transition(sess.ID, session.StatusDisconnected, "")
			m.registry.Append(sess.ID, "Relay channel closed.\n")
		case session.StatusConnecting:
			m.registry.Transition(sess.ID, session.StatusErrored, "relay channel closed")
			m.registry.Append(sess.ID, "Error: relay channel closed\n")
		}
		m.onChange(sess.ID)
	}
	m.log.Info("relay channel closed")
}
