package protocol

import "testing"

func TestDecodeClient_ValidConnect(t *testing.T) {
	raw := []byte(`{"type":"connect","host":"mud.example.org","port":4000}`)
	msg, err := DecodeClient(raw)
	if err != nil {
		t.Fatalf("expected valid frame, got error: %v", err)
	}
	if _, ok := msg.(ConnectMsg); !ok {
		t.Errorf("expected ConnectMsg, got %T", msg)
	}
}

func TestDecodeClient_ConnectMissingHost(t *testing.T) {
	raw := []byte(`{"type":"connect","port":4000}`)
	if _, err := DecodeClient(raw); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestDecodeClient_ConnectPortOutOfRange(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		raw, _ := Encode(ConnectMsg{Host: "example.org", Port: port})
		if _, err := DecodeClient(raw); err == nil {
			t.Errorf("expected error for port %d", port)
		}
	}
}

func TestDecodeClient_ConnectBadEncoding(t *testing.T) {
	raw := []byte(`{"type":"connect","host":"example.org","port":23,"encoding":"ebcdic"}`)
	if _, err := DecodeClient(raw); err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

func TestDecodeClient_DataMissingSessionID(t *testing.T) {
	raw := []byte(`{"type":"data","data":"north\n"}`)
	if _, err := DecodeClient(raw); err == nil {
		t.Fatal("expected error for missing sessionId")
	}
}

func TestDecodeClient_DataMissingData(t *testing.T) {
	raw := []byte(`{"type":"data","sessionId":"abc"}`)
	if _, err := DecodeClient(raw); err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestDecodeClient_ValidDisconnectAndBreak(t *testing.T) {
	for _, raw := range []string{
		`{"type":"disconnect","sessionId":"abc"}`,
		`{"type":"break","sessionId":"abc"}`,
	} {
		if _, err := DecodeClient([]byte(raw)); err != nil {
			t.Errorf("expected valid frame %s, got error: %v", raw, err)
		}
	}
}

func TestDecodeClient_RejectsServerTypes(t *testing.T) {
	for _, raw := range []string{
		`{"type":"connected","sessionId":"abc"}`,
		`{"type":"disconnected","sessionId":"abc"}`,
		`{"type":"error","message":"boom"}`,
	} {
		if _, err := DecodeClient([]byte(raw)); err == nil {
			t.Errorf("expected direction error for %s", raw)
		}
	}
}

func TestDecodeServer_ValidFrames(t *testing.T) {
	for _, raw := range []string{
		`{"type":"connected","sessionId":"abc","host":"example.org","port":23}`,
		`{"type":"data","sessionId":"abc","data":"Welcome"}`,
		`{"type":"disconnected","sessionId":"abc"}`,
		`{"type":"error","message":"connection refused"}`,
	} {
		if _, err := DecodeServer([]byte(raw)); err != nil {
			t.Errorf("expected valid frame %s, got error: %v", raw, err)
		}
	}
}

func TestDecodeServer_ErrorWithoutSessionID(t *testing.T) {
	msg, err := DecodeServer([]byte(`{"type":"error","message":"malformed frame"}`))
	if err != nil {
		t.Fatalf("expected valid channel-scoped error, got: %v", err)
	}
	e := msg.(ErrorMsg)
	if e.SessionID != "" {
		t.Errorf("expected empty sessionId, got %q", e.SessionID)
	}
}

func TestDecodeServer_ConnectedMissingSessionID(t *testing.T) {
	raw := []byte(`{"type":"connected","host":"example.org","port":23}`)
	if _, err := DecodeServer(raw); err == nil {
		t.Fatal("expected error for missing sessionId")
	}
}

func TestDecodeServer_RejectsClientTypes(t *testing.T) {
	raw := []byte(`{"type":"connect","host":"example.org","port":23}`)
	if _, err := DecodeServer(raw); err == nil {
		t.Fatal("expected direction error for connect")
	}
}
