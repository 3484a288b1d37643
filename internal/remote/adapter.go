// Package remote owns the outbound telnet connections the relay opens on
// behalf of sessions and pipes bytes between those connections and the
// multiplexer.
package remote

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ziutek/telnet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"archimedes-relay/internal/protocol"
)

const (
	// DefaultDialTimeout bounds a connect attempt; a dial that never
	// resolves must surface as an errored session, not a session stuck
	// in connecting.
	DefaultDialTimeout = 10 * time.Second

	readBufSize = 1024
)

// telnet IAC BREAK, written past the IAC-escaping writer.
var iacBreak = []byte{255, 243}

// Adapter opens and closes outbound telnet connections keyed by session id
// and reports lifecycle and data events through emit. At most one remote
// connection exists per session id; terminal events (disconnected or
// error) are emitted exactly once per session.
type Adapter struct {
	mu    sync.Mutex
	conns map[string]*endpoint

	emit        func(protocol.Msg)
	dialTimeout time.Duration
	log         *logrus.Entry
}

// endpoint is one live (or dialing) remote connection.
type endpoint struct {
	id   string
	host string
	port int

	conn *telnet.Conn // nil while the dial is in flight
	dec  *encoding.Decoder
	enc  *encoding.Encoder

	closed  bool   // close requested by the client or channel teardown
	failMsg string // set by a failed write so the read loop reports the cause
	once    sync.Once
}

// New creates an adapter emitting events through emit. A zero dialTimeout
// means DefaultDialTimeout.
func New(emit func(protocol.Msg), dialTimeout time.Duration) *Adapter {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Adapter{
		conns:       make(map[string]*endpoint),
		emit:        emit,
		dialTimeout: dialTimeout,
		log:         logrus.WithField("component", "remote"),
	}
}

// Connect starts an outbound connection for a session. The dial runs in
// its own goroutine; the result arrives as a connected or error event.
// A second connect for a live session id is refused.
func (a *Adapter) Connect(id, host string, port int, encodingName string) {
	dec, enc := newCodec(encodingName)
	ep := &endpoint{id: id, host: host, port: port, dec: dec, enc: enc}

	a.mu.Lock()
	if _, exists := a.conns[id]; exists {
		a.mu.Unlock()
		a.log.Warnf("duplicate connect for session %s", id)
		a.emit(protocol.ErrorMsg{SessionID: id, Message: "session already has a connection"})
		return
	}
	a.conns[id] = ep
	a.mu.Unlock()

	go a.dial(ep)
}

func (a *Adapter) dial(ep *endpoint) {
	addr := net.JoinHostPort(ep.host, strconv.Itoa(ep.port))
	conn, err := telnet.DialTimeout("tcp", addr, a.dialTimeout)
	if err != nil {
		a.mu.Lock()
		closed := ep.closed
		a.mu.Unlock()
		if closed {
			a.terminal(ep, protocol.ErrorMsg{SessionID: ep.id, Message: "connection cancelled"})
			return
		}
		a.log.Infof("dial %s failed for session %s: %v", addr, ep.id, err)
		a.terminal(ep, protocol.ErrorMsg{SessionID: ep.id, Message: classifyDialError(err)})
		return
	}
	conn.SetUnixWriteMode(true)

	a.mu.Lock()
	if ep.closed {
		a.mu.Unlock()
		conn.Close()
		// Never connected from the session's point of view, so this is a
		// cancel, not a disconnect.
		a.terminal(ep, protocol.ErrorMsg{SessionID: ep.id, Message: "connection cancelled"})
		return
	}
	ep.conn = conn
	a.mu.Unlock()

	a.emit(protocol.ConnectedMsg{SessionID: ep.id, Host: ep.host, Port: ep.port})
	a.readLoop(ep, conn)
}

// readLoop relays remote bytes to the multiplexer in arrival order and
// emits the session's single terminal event when the remote side ends.
func (a *Adapter) readLoop(ep *endpoint, conn *telnet.Conn) {
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			a.emit(protocol.DataMsg{SessionID: ep.id, Data: decodeBytes(ep.dec, buf[:n])})
		}
		if err == nil {
			continue
		}

		a.mu.Lock()
		closed, failMsg := ep.closed, ep.failMsg
		a.mu.Unlock()
		conn.Close()

		switch {
		case closed || err == io.EOF:
			a.terminal(ep, protocol.DisconnectedMsg{SessionID: ep.id})
		case failMsg != "":
			a.terminal(ep, protocol.ErrorMsg{SessionID: ep.id, Message: failMsg})
		default:
			a.terminal(ep, protocol.ErrorMsg{SessionID: ep.id, Message: "connection lost: " + err.Error()})
		}
		return
	}
}

// Send writes client input to a session's remote side. Data for a gone or
// still-dialing session is dropped with a log line.
func (a *Adapter) Send(id, data string) {
	a.mu.Lock()
	ep, ok := a.conns[id]
	var conn *telnet.Conn
	if ok {
		conn = ep.conn
	}
	a.mu.Unlock()

	if !ok || conn == nil {
		a.log.Debugf("dropping %d bytes for session %s: no open connection", len(data), id)
		return
	}

	if _, err := conn.Write(encodeString(ep.enc, data)); err != nil {
		a.mu.Lock()
		ep.failMsg = "write failed: " + err.Error()
		a.mu.Unlock()
		conn.Close()
	}
}

// SendBreak sends a telnet BREAK to the remote side. Sessions without an
// open connection are a no-op.
func (a *Adapter) SendBreak(id string) {
	a.mu.Lock()
	ep, ok := a.conns[id]
	var conn *telnet.Conn
	if ok {
		conn = ep.conn
	}
	a.mu.Unlock()

	if !ok || conn == nil {
		a.log.Debugf("break for session %s: no open connection", id)
		return
	}

	// The telnet writer escapes IAC bytes in payload data; a BREAK is a
	// command, so it goes straight to the socket.
	if _, err := conn.Conn.Write(iacBreak); err != nil {
		a.mu.Lock()
		ep.failMsg = "write failed: " + err.Error()
		a.mu.Unlock()
		conn.Close()
	}
}

// Disconnect closes a session's remote side. Best effort: a session whose
// remote is already gone is a no-op, and the single disconnected event is
// emitted by the read loop.
func (a *Adapter) Disconnect(id string) {
	a.mu.Lock()
	ep, ok := a.conns[id]
	var conn *telnet.Conn
	if ok {
		ep.closed = true
		conn = ep.conn
	}
	a.mu.Unlock()

	if !ok {
		a.log.Debugf("disconnect for unknown session %s", id)
		return
	}
	if conn != nil {
		conn.Close()
	}
}

// CloseAll tears down every remote connection. Used when the channel that
// owns this adapter closes.
func (a *Adapter) CloseAll() {
	a.mu.Lock()
	eps := make([]*endpoint, 0, len(a.conns))
	for _, ep := range a.conns {
		ep.closed = true
		eps = append(eps, ep)
	}
	a.mu.Unlock()

	for _, ep := range eps {
		if ep.conn != nil {
			ep.conn.Close()
		}
	}
}

// Count returns the number of live or dialing sessions.
func (a *Adapter) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// terminal emits a session's terminal event exactly once and forgets the
// session.
func (a *Adapter) terminal(ep *endpoint, msg protocol.Msg) {
	ep.once.Do(func() {
		a.mu.Lock()
		delete(a.conns, ep.id)
		a.mu.Unlock()
		a.emit(msg)
	})
}

// classifyDialError maps a dial failure to the human-readable reasons the
// UI renders inline.
func classifyDialError(err error) string {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "host unreachable"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return "host unreachable"
	}
	return "connection failed: " + err.Error()
}

// newCodec returns the decoder/encoder pair for a remote byte encoding,
// or nils for UTF-8 passthrough.
func newCodec(name string) (*encoding.Decoder, *encoding.Encoder) {
	var cm *charmap.Charmap
	switch name {
	case protocol.EncodingCP437:
		cm = charmap.CodePage437
	case protocol.EncodingLatin1:
		cm = charmap.ISO8859_1
	default:
		return nil, nil
	}
	return cm.NewDecoder(), encoding.ReplaceUnsupported(cm.NewEncoder())
}

func decodeBytes(dec *encoding.Decoder, b []byte) string {
	if dec == nil {
		return string(b)
	}
	out, err := dec.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func encodeString(enc *encoding.Encoder, s string) []byte {
	if enc == nil {
		return []byte(s)
	}
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
