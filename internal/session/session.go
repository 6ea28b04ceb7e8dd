// ABOUTME: Host-owned handle for one conversation multiplexed over a connection
// ABOUTME: Receives updates in wire order, accumulates transcript entries, observes exit

// Package session holds the host side of one agent conversation. A Session
// is a passive receiver: the connection layer feeds it updates in wire
// order and the host observes them through a subscription channel while the
// Session accumulates a typed transcript.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/loom/internal/asp"
)

// ErrClosed is returned by Apply once a session has been closed or its
// server process has exited.
var ErrClosed = errors.New("session closed")

// Session is one conversation identified by an agent-minted id. Safe for
// concurrent use.
type Session struct {
	id        asp.SessionID
	cwd       string
	createdAt time.Time
	logger    *slog.Logger

	broadcaster *updateBroadcaster

	mu       sync.Mutex
	entries  []Entry
	plan     asp.Plan
	commands []asp.AvailableCommand
	closed   bool

	exitOnce   sync.Once
	exited     chan struct{}
	exitStatus int

	closeOnce sync.Once
	onClose   func()
}

// New builds a session handle. onClose runs exactly once when the host
// closes the session voluntarily (not on server exit); the connection layer
// uses it to prune its registry entry.
func New(id asp.SessionID, cwd string, logger *slog.Logger, onClose func()) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "session_id", string(id))
	return &Session{
		id:          id,
		cwd:         cwd,
		createdAt:   time.Now().UTC(),
		logger:      logger,
		broadcaster: newUpdateBroadcaster(logger),
		exited:      make(chan struct{}),
		onClose:     onClose,
	}
}

// ID returns the agent-minted session identifier.
func (s *Session) ID() asp.SessionID { return s.id }

// Cwd returns the working directory the session was created with.
func (s *Session) Cwd() string { return s.cwd }

// CreatedAt returns the handle's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Updates subscribes to the session's update stream. The channel closes
// when ctx is cancelled, the session is closed, or the server exits.
// Subscribers that stop draining lose updates rather than stalling
// dispatch.
func (s *Session) Updates(ctx context.Context) <-chan asp.SessionUpdate {
	return s.broadcaster.subscribe(ctx)
}

// Apply folds one update into the transcript and fans it out to
// subscribers. Updates arrive in wire order from the connection's dispatch
// path. A malformed update (such as a patch for an unknown tool call) is
// reported as an error without disturbing session state.
func (s *Session) Apply(update asp.SessionUpdate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	err := s.applyLocked(update)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.broadcaster.publish(update)
	return nil
}

// ServerExited records the agent process's exit and tears the session
// down. Called at most once per process exit by the connection layer;
// subsequent calls are no-ops.
func (s *Session) ServerExited(status int) {
	s.exitOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.exitStatus = status
		close(s.exited)
		s.broadcaster.closeAll()
		s.logger.Info("server exited", "exit_status", status)
	})
}

// Exited is closed once the agent process behind this session has
// terminated.
func (s *Session) Exited() <-chan struct{} { return s.exited }

// ExitStatus returns the process exit status once ServerExited has fired.
func (s *Session) ExitStatus() (int, bool) {
	select {
	case <-s.exited:
		return s.exitStatus, true
	default:
		return 0, false
	}
}

// Close releases the handle: the update stream ends and the connection
// forgets the session id. The agent process is unaffected. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.broadcaster.closeAll()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("session closed")
	})
}

// Entries returns a snapshot of the accumulated transcript.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
		if e.ToolCall != nil {
			tc := *e.ToolCall
			out[i].ToolCall = &tc
		}
	}
	return out
}

// Plan returns the agent's most recently published plan.
func (s *Session) Plan() asp.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return asp.Plan{Entries: append([]asp.PlanEntry(nil), s.plan.Entries...)}
}

// Commands returns the agent's advertised command list.
func (s *Session) Commands() []asp.AvailableCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]asp.AvailableCommand(nil), s.commands...)
}
