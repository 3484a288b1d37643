// Package relay implements the server side of the terminal relay: one
// WebSocket channel per client page, multiplexing control messages for any
// number of outbound telnet sessions.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"archimedes-relay/internal/hostpolicy"
	"archimedes-relay/internal/protocol"
	"archimedes-relay/internal/remote"
	"archimedes-relay/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The surrounding app fronts this with its own auth.
	},
}

// Server accepts relay channels and wires each one to its own session
// registry and remote endpoint adapter. Sessions never outlive their
// channel: a page reload starts from scratch.
type Server struct {
	policy      *hostpolicy.Policy
	staticDir   string
	dialTimeout time.Duration

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

// client is one connected relay channel.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closer sync.Once

	registry *session.Registry
	adapter  *remote.Adapter
	server   *Server
	log      *logrus.Entry
}

// New creates a relay server. A zero dialTimeout means the adapter
// default.
func New(policy *hostpolicy.Policy, staticDir string, dialTimeout time.Duration) *Server {
	return &Server{
		policy:      policy,
		staticDir:   staticDir,
		dialTimeout: dialTimeout,
		clients:     make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured. The relay
// channel lives on its own well-known path, separate from the
// application's chat socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/relay", s.handleRelay)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRelay upgrades an HTTP connection into a relay channel.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("relay upgrade error: %v", err)
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
		done:     make(chan struct{}),
		registry: session.NewRegistry(0),
		server:   s,
		log:      logrus.WithField("peer", conn.RemoteAddr().String()),
	}
	c.adapter = remote.New(c.emit, s.dialTimeout)

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	c.log.Info("relay channel open")

	go c.writePump()
	go c.readPump()
}

// removeClient tears down a channel and every remote connection it owns.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.closer.Do(func() { close(c.done) })
	c.adapter.CloseAll()
	c.conn.Close()
	c.log.Info("relay channel closed")
}

// emit receives adapter events, mirrors them into the server-side
// registry, and forwards the frame to the client. Called from adapter
// goroutines, possibly after the channel is gone.
func (c *client) emit(msg protocol.Msg) {
	switch m := msg.(type) {
	case protocol.ConnectedMsg:
		c.registry.Transition(m.SessionID, session.StatusConnected, "")
	case protocol.DisconnectedMsg:
		c.registry.Transition(m.SessionID, session.StatusDisconnected, "")
	case protocol.ErrorMsg:
		if m.SessionID != "" {
			c.registry.Transition(m.SessionID, session.StatusErrored, m.Message)
		}
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.log.Errorf("encode frame: %v", err)
		return
	}
	c.enqueue(data)
}

// enqueue hands a frame to the write pump, dropping it if the channel is
// gone or the client cannot keep up.
func (c *client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping frame")
	}
}

// readPump reads control messages from the channel until it closes.
func (c *client) readPump() {
	defer c.server.removeClient(c)

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("relay read error: %v", err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

// writePump writes frames and pings to the channel.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one validated control message. Malformed frames are
// logged and dropped; the channel stays open.
func (c *client) handleFrame(raw []byte) {
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		c.log.Warnf("malformed frame: %v", err)
		c.emit(protocol.ErrorMsg{Message: "malformed frame: " + err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.ConnectMsg:
		c.handleConnect(m)
	case protocol.DataMsg:
		c.adapter.Send(m.SessionID, m.Data)
	case protocol.DisconnectMsg:
		c.adapter.Disconnect(m.SessionID)
	case protocol.BreakMsg:
		c.adapter.SendBreak(m.SessionID)
	}
}

// handleConnect registers the session (adopting a client-generated id or
// assigning one), checks policy, and starts the dial.
func (c *client) handleConnect(m protocol.ConnectMsg) {
	id := c.registry.Adopt(m.SessionID, m.Host, m.Port, session.StatusConnecting, "")

	if !c.server.policy.Allowed(m.Host, m.Port) {
		c.log.Infof("policy denied %s:%d for session %s", m.Host, m.Port, id)
		c.emit(protocol.ErrorMsg{SessionID: id, Message: "endpoint not permitted by relay policy"})
		return
	}

	c.adapter.Connect(id, m.Host, m.Port, m.Encoding)
}
