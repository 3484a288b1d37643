package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire shape of a control message: one flat JSON record per
// WebSocket text message, self-describing via Type. Which fields are
// meaningful depends on the type; the rest are omitted.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// Control message types.
const (
	TypeConnect      = "connect"      // client → server
	TypeData         = "data"         // both directions
	TypeDisconnect   = "disconnect"   // client → server
	TypeBreak        = "break"        // client → server
	TypeConnected    = "connected"    // server → client
	TypeDisconnected = "disconnected" // server → client
	TypeError        = "error"        // server → client
)

// Remote byte encodings accepted on a connect frame.
const (
	EncodingUTF8   = ""
	EncodingCP437  = "cp437"
	EncodingLatin1 = "latin1"
)

// Msg is a decoded control message. Exactly one concrete type exists per
// frame type, so routers can switch over the dynamic type exhaustively
// instead of shape-guessing on raw frames.
type Msg interface {
	// Frame returns the wire representation of the message.
	Frame() Frame
}

// ConnectMsg asks the server to open an outbound connection.
// SessionID may be empty; the server then assigns one.
type ConnectMsg struct {
	SessionID string
	Host      string
	Port      int
	Encoding  string
}

func (m ConnectMsg) Frame() Frame {
	return Frame{Type: TypeConnect, SessionID: m.SessionID, Host: m.Host, Port: m.Port, Encoding: m.Encoding}
}

// ConnectedMsg confirms an outbound connection, echoing the endpoint and
// carrying the definitive session id.
type ConnectedMsg struct {
	SessionID string
	Host      string
	Port      int
}

func (m ConnectedMsg) Frame() Frame {
	return Frame{Type: TypeConnected, SessionID: m.SessionID, Host: m.Host, Port: m.Port}
}

// DataMsg carries a chunk of session bytes in either direction.
type DataMsg struct {
	SessionID string
	Data      string
}

func (m DataMsg) Frame() Frame {
	return Frame{Type: TypeData, SessionID: m.SessionID, Data: m.Data}
}

// DisconnectMsg requests a best-effort close of a session's remote side.
type DisconnectMsg struct {
	SessionID string
}

func (m DisconnectMsg) Frame() Frame {
	return Frame{Type: TypeDisconnect, SessionID: m.SessionID}
}

// DisconnectedMsg reports that a session's remote side is gone.
type DisconnectedMsg struct {
	SessionID string
}

func (m DisconnectedMsg) Frame() Frame {
	return Frame{Type: TypeDisconnected, SessionID: m.SessionID}
}

// BreakMsg requests a telnet BREAK on the session's remote side.
type BreakMsg struct {
	SessionID string
}

func (m BreakMsg) Frame() Frame {
	return Frame{Type: TypeBreak, SessionID: m.SessionID}
}

// ErrorMsg reports a session-scoped (or, with an empty SessionID,
// channel-scoped) failure.
type ErrorMsg struct {
	SessionID string
	Message   string
}

func (m ErrorMsg) Frame() Frame {
	return Frame{Type: TypeError, SessionID: m.SessionID, Message: m.Message}
}

// Decode parses a raw frame into its typed message.
func Decode(raw []byte) (Msg, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	switch f.Type {
	case TypeConnect:
		return ConnectMsg{SessionID: f.SessionID, Host: f.Host, Port: f.Port, Encoding: f.Encoding}, nil
	case TypeConnected:
		return ConnectedMsg{SessionID: f.SessionID, Host: f.Host, Port: f.Port}, nil
	case TypeData:
		return DataMsg{SessionID: f.SessionID, Data: f.Data}, nil
	case TypeDisconnect:
		return DisconnectMsg{SessionID: f.SessionID}, nil
	case TypeDisconnected:
		return DisconnectedMsg{SessionID: f.SessionID}, nil
	case TypeBreak:
		return BreakMsg{SessionID: f.SessionID}, nil
	case TypeError:
		return ErrorMsg{SessionID: f.SessionID, Message: f.Message}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", f.Type)
	}
}

// Encode serializes a typed message to its wire frame.
func Encode(m Msg) ([]byte, error) {
	data, err := json.Marshal(m.Frame())
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}
