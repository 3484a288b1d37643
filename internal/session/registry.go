package session

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultLogCapacity caps the per-session output log. The scroll-back is
// append-only from the UI's point of view; the ring drops the oldest
// chunks once the cap is reached.
const DefaultLogCapacity = 2000

// Registry is the authoritative in-memory table of active and
// recently-closed sessions, keyed by session id. It is the sole owner of
// Session records; multiplexers read and write only through its
// operations. A single goroutine mutates it per channel, but UIs read
// concurrently, hence the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*record
	logCap   int
}

type record struct {
	sess Session
	out  *RingBuffer
}

// NewRegistry creates an empty registry. logCap bounds each session's
// output log; zero or negative means DefaultLogCapacity.
func NewRegistry(logCap int) *Registry {
	if logCap <= 0 {
		logCap = DefaultLogCapacity
	}
	return &Registry{
		sessions: make(map[string]*record),
		logCap:   logCap,
	}
}

// Create allocates a new unique session id and inserts a session in
// connecting state. Ids are uuid v4 and checked against live ids so an id
// is never reused while known to the registry.
func (r *Registry) Create(host string, port int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = uuid.NewString()
	}

	r.sessions[id] = &record{
		sess: Session{
			ID:        id,
			Host:      host,
			Port:      port,
			Status:    StatusConnecting,
			CreatedAt: time.Now().UTC(),
		},
		out: NewRingBuffer(r.logCap),
	}
	return id
}

// Adopt inserts a session under a caller-supplied id in the given status,
// with detail as the error message for errored placeholders. Multiplexers
// use it to synthesize sessions for control messages that reference an id
// the registry has never seen. An empty id gets a fresh one. Adopting an
// existing id is a logged no-op.
func (r *Registry) Adopt(id, host string, port int, status Status, detail string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := r.sessions[id]; exists {
		logrus.Warnf("registry: adopt ignored, session %s already exists", id)
		return id
	}

	sess := Session{
		ID:        id,
		Host:      host,
		Port:      port,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if status == StatusErrored {
		sess.ErrorMessage = detail
	}
	r.sessions[id] = &record{
		sess: sess,
		out:  NewRingBuffer(r.logCap),
	}
	return id
}

// allowedTransitions encodes the session lifecycle: connecting may resolve
// to connected or errored, connected may end disconnected or errored.
// Terminal states are never left.
var allowedTransitions = map[Status]map[Status]bool{
	StatusConnecting: {StatusConnected: true, StatusErrored: true},
	StatusConnected:  {StatusDisconnected: true, StatusErrored: true},
}

// Transition moves a session to a new status. detail carries the error
// message for transitions to errored. Unknown ids and disallowed
// transitions fail silently with a log line, never an error: out-of-order
// messages for unknown sessions are tolerated by the callers, not fatal.
func (r *Registry) Transition(id string, status Status, detail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		logrus.Debugf("registry: transition to %s for unknown session %s", status, id)
		return false
	}
	if !allowedTransitions[rec.sess.Status][status] {
		logrus.Warnf("registry: disallowed transition %s -> %s for session %s", rec.sess.Status, status, id)
		return false
	}

	rec.sess.Status = status
	if status == StatusErrored {
		rec.sess.ErrorMessage = detail
	}
	return true
}

// Append adds a translated output chunk to a session's log. Appending to
// an unknown session is a no-op; output never creates sessions.
func (r *Registry) Append(id, chunk string) bool {
	r.mu.RLock()
	rec, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	rec.out.Write(chunk)
	return true
}

// Remove evicts a session entirely. Used on explicit disconnect; errored
// sessions stay visible until dismissed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Get returns a copy of a session's state.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.sess, true
}

// Output returns a session's logged output chunks in append order.
func (r *Registry) Output(id string) []string {
	r.mu.RLock()
	rec, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return rec.out.ReadAll()
}

// List returns copies of all sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		result = append(result, rec.sess)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// LiveCount returns the number of sessions not in a terminal state.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.sessions {
		if !rec.sess.Status.Terminal() {
			n++
		}
	}
	return n
}

func formatEndpoint(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
