package protocol

import "fmt"

// validEncodings is the set of accepted remote byte encodings.
var validEncodings = map[string]bool{
	EncodingUTF8:   true,
	"utf-8":        true,
	EncodingCP437:  true,
	EncodingLatin1: true,
}

// DecodeClient validates and decodes a raw frame arriving from a client.
// Only connect/data/disconnect/break are accepted in this direction.
func DecodeClient(raw []byte) (Msg, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case ConnectMsg:
		if m.Host == "" {
			return nil, fmt.Errorf("missing required field 'host' in %s frame", TypeConnect)
		}
		if m.Port < 1 || m.Port > 65535 {
			return nil, fmt.Errorf("port out of range in %s frame: %d", TypeConnect, m.Port)
		}
		if !validEncodings[m.Encoding] {
			return nil, fmt.Errorf("unsupported encoding in %s frame: %s", TypeConnect, m.Encoding)
		}
		return m, nil

	case DataMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeData)
		}
		if m.Data == "" {
			return nil, fmt.Errorf("missing required field 'data' in %s frame", TypeData)
		}
		return m, nil

	case DisconnectMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeDisconnect)
		}
		return m, nil

	case BreakMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeBreak)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("message type not allowed from client: %s", msg.Frame().Type)
	}
}

// DecodeServer validates and decodes a raw frame arriving from the server.
// Only connected/data/disconnected/error are accepted in this direction.
// An error frame may omit sessionId when the failure is channel-scoped.
func DecodeServer(raw []byte) (Msg, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case ConnectedMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeConnected)
		}
		return m, nil

	case DataMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeData)
		}
		return m, nil

	case DisconnectedMsg:
		if m.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s frame", TypeDisconnected)
		}
		return m, nil

	case ErrorMsg:
		if m.Message == "" {
			return nil, fmt.Errorf("missing required field 'message' in %s frame", TypeError)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("message type not allowed from server: %s", msg.Frame().Type)
	}
}
