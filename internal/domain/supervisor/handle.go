package supervisor

import (
	"os/exec"
	"sync"
	"time"

	"github.com/profilium/fleet/backend/internal/shared/id"
)

// WorkerStatus represents worker lifecycle states
type WorkerStatus string

const (
	WorkerRunning  WorkerStatus = "running"
	WorkerStopping WorkerStatus = "stopping"
	WorkerStopped  WorkerStatus = "stopped"
	WorkerError    WorkerStatus = "error"
)

// WorkerHandle is one running browser process bound to a profile. At most
// one handle exists per profile at any time; the supervisor's registry
// enforces this.
type WorkerHandle struct {
	ProfileID string
	WorkerID  id.WorkerID
	PID       int32
	DebugPort int
	DataDir   string
	StartedAt time.Time

	mu       sync.RWMutex
	status   WorkerStatus
	cmd      *exec.Cmd
	primary  *Session
	sessions map[string]*Session // channel name -> session
	done     chan struct{}       // closed when the process exits
	exitErr  error
}

// Status returns the handle's lifecycle status.
func (h *WorkerHandle) Status() WorkerStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *WorkerHandle) setStatus(s WorkerStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Done returns a channel closed when the worker process exits.
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// ExitError returns the process exit error, valid after Done is closed.
func (h *WorkerHandle) ExitError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

// Primary returns the worker-level session, which may be nil before the
// first session attach.
func (h *WorkerHandle) Primary() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.primary
}

// session returns the named channel session, if open.
func (h *WorkerHandle) session(channel string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[channel]
	return s, ok
}

// putSession registers a channel session.
func (h *WorkerHandle) putSession(channel string, s *Session) {
	h.mu.Lock()
	h.sessions[channel] = s
	h.mu.Unlock()
}

// evictSession removes a channel session if it is still the registered one.
func (h *WorkerHandle) evictSession(channel string, s *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[channel]; ok && cur == s {
		delete(h.sessions, channel)
	}
	h.mu.Unlock()
}

// drainSessions removes and returns every open session plus the primary.
func (h *WorkerHandle) drainSessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Session, 0, len(h.sessions)+1)
	for name, s := range h.sessions {
		out = append(out, s)
		delete(h.sessions, name)
	}
	if h.primary != nil {
		out = append(out, h.primary)
		h.primary = nil
	}
	return out
}

// SessionCount returns the number of open named sessions.
func (h *WorkerHandle) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
