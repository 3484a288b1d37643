package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"archimedes-relay/internal/hostpolicy"
	"archimedes-relay/internal/protocol"
)

func newTestServer(policy *hostpolicy.Policy) *httptest.Server {
	if policy == nil {
		policy = hostpolicy.AllowAll()
	}
	srv := New(policy, "", 2*time.Second)
	return httptest.NewServer(srv.Handler())
}

func dialRelay(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/relay"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, msg protocol.Msg) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Msg {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := protocol.DecodeServer(raw)
	if err != nil {
		t.Fatalf("decode server frame %s: %v", raw, err)
	}
	return msg
}

// startFakeRemote listens on a loopback port and hands accepted
// connections to the returned channel.
func startFakeRemote(t *testing.T) (host string, port int, conns chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	conns = make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ = strconv.Atoi(portStr)
	return host, port, conns
}

func acceptRemote(t *testing.T, conns chan net.Conn) net.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for remote connection")
		return nil
	}
}

func TestServer_Healthz(t *testing.T) {
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestServer_StatusEmpty(t *testing.T) {
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Clients != 0 || st.LiveSessions != 0 {
		t.Errorf("expected empty status, got %+v", st)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	req, _ := http.NewRequest(http.MethodOptions, httpSrv.URL+"/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestServer_ConnectSendReceiveDisconnect(t *testing.T) {
	host, port, conns := startFakeRemote(t)
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)

	writeFrame(t, ws, protocol.ConnectMsg{SessionID: "client-id-1", Host: host, Port: port})
	remote := acceptRemote(t, conns)

	msg := readFrame(t, ws)
	c, ok := msg.(protocol.ConnectedMsg)
	if !ok {
		t.Fatalf("expected ConnectedMsg, got %#v", msg)
	}
	if c.SessionID != "client-id-1" {
		t.Errorf("expected adopted client id, got %q", c.SessionID)
	}
	if c.Host != host || c.Port != port {
		t.Errorf("connected frame did not echo endpoint: %#v", c)
	}

	// Client input reaches the remote.
	writeFrame(t, ws, protocol.DataMsg{SessionID: c.SessionID, Data: "look\n"})
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if string(buf[:n]) != "look\r\n" {
		t.Errorf("remote received %q", buf[:n])
	}

	// Remote output comes back as a data frame.
	remote.Write([]byte("A small mailbox is here."))
	msg = readFrame(t, ws)
	d, ok := msg.(protocol.DataMsg)
	if !ok {
		t.Fatalf("expected DataMsg, got %#v", msg)
	}
	if d.SessionID != c.SessionID || d.Data != "A small mailbox is here." {
		t.Errorf("unexpected data frame: %#v", d)
	}

	// Disconnect yields exactly one disconnected frame.
	writeFrame(t, ws, protocol.DisconnectMsg{SessionID: c.SessionID})
	msg = readFrame(t, ws)
	if _, ok := msg.(protocol.DisconnectedMsg); !ok {
		t.Fatalf("expected DisconnectedMsg, got %#v", msg)
	}

	writeFrame(t, ws, protocol.DisconnectMsg{SessionID: c.SessionID})
	ws.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected no frame after duplicate disconnect")
	}
}

func TestServer_AssignsSessionIDWhenAbsent(t *testing.T) {
	host, port, conns := startFakeRemote(t)
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)
	writeFrame(t, ws, protocol.ConnectMsg{Host: host, Port: port})
	acceptRemote(t, conns)

	msg := readFrame(t, ws)
	c, ok := msg.(protocol.ConnectedMsg)
	if !ok {
		t.Fatalf("expected ConnectedMsg, got %#v", msg)
	}
	if c.SessionID == "" {
		t.Error("expected server-assigned session id")
	}
}

func TestServer_MalformedFrameKeepsChannelOpen(t *testing.T) {
	host, port, conns := startFakeRemote(t)
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	msg := readFrame(t, ws)
	e, ok := msg.(protocol.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", msg)
	}
	if e.SessionID != "" {
		t.Errorf("malformed-frame error should be channel-scoped, got session %q", e.SessionID)
	}

	// The channel still works.
	writeFrame(t, ws, protocol.ConnectMsg{SessionID: "s1", Host: host, Port: port})
	acceptRemote(t, conns)
	if _, ok := readFrame(t, ws).(protocol.ConnectedMsg); !ok {
		t.Error("expected channel to keep working after malformed frame")
	}
}

func TestServer_ConnectRefusedSurfacesError(t *testing.T) {
	// A port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)
	writeFrame(t, ws, protocol.ConnectMsg{SessionID: "s1", Host: host, Port: port})

	msg := readFrame(t, ws)
	e, ok := msg.(protocol.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", msg)
	}
	if e.SessionID != "s1" || e.Message != "connection refused" {
		t.Errorf("unexpected error frame: %#v", e)
	}
}

func TestServer_PolicyDenial(t *testing.T) {
	// Empty allowlist file: nothing is permitted.
	denyAll := filepath.Join(t.TempDir(), "allowlist")
	if err := os.WriteFile(denyAll, []byte("# nothing\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := hostpolicy.Load(denyAll)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	httpSrv := newTestServer(p)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)
	writeFrame(t, ws, protocol.ConnectMsg{SessionID: "s1", Host: "forbidden.example.org", Port: 23})

	msg := readFrame(t, ws)
	e, ok := msg.(protocol.ErrorMsg)
	if !ok {
		t.Fatalf("expected ErrorMsg, got %#v", msg)
	}
	if e.SessionID != "s1" || !strings.Contains(e.Message, "not permitted") {
		t.Errorf("unexpected error frame: %#v", e)
	}
}

func TestServer_ChannelCloseTearsDownRemotes(t *testing.T) {
	host, port, conns := startFakeRemote(t)
	httpSrv := newTestServer(nil)
	defer httpSrv.Close()

	ws := dialRelay(t, httpSrv)
	writeFrame(t, ws, protocol.ConnectMsg{SessionID: "s1", Host: host, Port: port})
	remote := acceptRemote(t, conns)
	readFrame(t, ws) // connected

	ws.Close()

	// The relay must close the outbound socket.
	remote.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 8)
	if _, err := remote.Read(buf); err == nil {
		t.Error("expected remote connection to be closed")
	}
}
