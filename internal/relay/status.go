package relay

import (
	"encoding/json"
	"net/http"
)

type statusResponse struct {
	Clients      int `json:"clients"`
	LiveSessions int `json:"liveSessions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleStatus reports how many channels are open and how many remote
// sessions are live across all of them.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	resp := statusResponse{Clients: len(s.clients)}
	for c := range s.clients {
		resp.LiveSessions += c.adapter.Count()
	}
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
