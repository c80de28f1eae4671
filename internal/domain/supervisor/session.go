package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/profilium/fleet/backend/internal/shared/id"
)

// Session is one logical messenger channel inside a worker, backed by a
// WebSocket connection to a DevTools page target. Sessions close
// independently of the worker that hosts them.
type Session struct {
	ID      id.SessionID
	Channel string
	Target  Target

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	nextID  int64
	onClose func()
}

type devtoolsCommand struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type devtoolsResponse struct {
	ID    int64           `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// dialSession connects to a target's debugger WebSocket.
func dialSession(ctx context.Context, channel string, target Target, onClose func()) (*Session, error) {
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("target %s has no debugger url", target.ID)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", target.ID, err)
	}

	return &Session{
		ID:      id.NewSessionID(),
		Channel: channel,
		Target:  target,
		conn:    conn,
		onClose: onClose,
	}, nil
}

// command sends one protocol command and waits for its response. Commands
// are serialized per session; channel traffic is low-frequency control
// traffic, not message payloads.
func (s *Session) command(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session %s is closed", s.ID)
	}

	s.nextID++
	cmd := devtoolsCommand{ID: s.nextID, Method: method, Params: params}

	deadline := time.Now().Add(15 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(cmd); err != nil {
		s.markClosedLocked()
		return nil, fmt.Errorf("write command %s: %w", method, err)
	}

	s.conn.SetReadDeadline(deadline)
	for {
		var resp devtoolsResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			s.markClosedLocked()
			return nil, fmt.Errorf("read response for %s: %w", method, err)
		}
		// Events arrive interleaved with responses; skip until our reply.
		if resp.ID != cmd.ID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("command %s failed: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

// Navigate points the session's page at a new URL.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	_, err := s.command(ctx, "Page.navigate", map[string]string{"url": targetURL})
	return err
}

// Connected reports whether the underlying transport is still usable.
// A ping failure closes the session.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		s.markClosedLocked()
		return false
	}
	return true
}

// SameHost reports whether the session's current URL shares a host with
// the given URL. Used to decide between re-navigation and reuse.
func (s *Session) SameHost(targetURL string) bool {
	cur, err1 := url.Parse(s.Target.URL)
	next, err2 := url.Parse(targetURL)
	if err1 != nil || err2 != nil {
		return false
	}
	return cur.Host == next.Host
}

// Close shuts the session down and fires the close listener once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.conn.Close()
	s.markClosedLocked()
	s.mu.Unlock()
	return err
}

// markClosedLocked flips the closed flag and fires onClose exactly once.
// Caller must hold s.mu.
func (s *Session) markClosedLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.onClose != nil {
		// Release the lock holder from re-entrancy concerns: the close
		// listener only evicts from the parent handle's map.
		go s.onClose()
	}
}
