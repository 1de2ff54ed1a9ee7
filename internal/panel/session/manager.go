// Package session fans state changes out to panel subscribers. Each session
// tracks the last view its subscriber holds and receives either a full state
// or the diff against that view; a subscriber that cannot drain its queue is
// disconnected rather than allowed to stall the rest.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/sebas/opdesk/api/types/v1"
	"github.com/sebas/opdesk/internal/logger"
	"github.com/sebas/opdesk/internal/panel/action"
	"github.com/sebas/opdesk/internal/panel/ami"
	"github.com/sebas/opdesk/internal/panel/scope"
	"github.com/sebas/opdesk/internal/panel/state"
	"github.com/sebas/opdesk/internal/panel/view"
)

// ErrOverflow means a subscriber's send queue filled up.
var ErrOverflow = errors.New("subscriber queue full")

// ErrClosed means the session already ended.
var ErrClosed = errors.New("session closed")

// SwitchLink is the outbound half of the switch connection. Implemented by
// the manager-protocol client; faked in tests.
type SwitchLink interface {
	Send(ami.Command) error
	RequestResync() error
}

// Config holds the fan-out settings.
type Config struct {
	// QueueSize bounds each subscriber's outbound queue.
	QueueSize int
	Policy    scope.Policy
	Translate action.Translator
}

func (cfg Config) withDefaults() Config {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return cfg
}

// Manager owns all live sessions and the single store subscription that
// feeds them.
type Manager struct {
	cfg         Config
	store       *state.Store
	cache       *view.Cache
	link        SwitchLink
	changes     <-chan struct{}
	unsubscribe func()

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds the fan-out over a store and a switch link. The store
// subscription starts here, so changes applied before Run are not lost.
func NewManager(cfg Config, store *state.Store, link SwitchLink) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		store:    store,
		cache:    view.NewCache(),
		link:     link,
		sessions: make(map[string]*Session),
	}
	m.changes, m.unsubscribe = store.Subscribe()
	return m
}

// Run pumps store changes to the sessions until the context ends, then
// closes every remaining session.
func (m *Manager) Run(ctx context.Context) {
	defer m.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll(ReasonShutdown)
			return
		case <-m.changes:
			m.broadcast(m.store.Snapshot())
		}
	}
}

// Attach registers a subscriber for an authenticated operator and queues the
// initial full state.
func (m *Manager) Attach(id scope.Identity) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		identity: id,
		pred:     scope.Resolve(id, m.cfg.Policy),
		st:       StateConnecting,
		out:      make(chan []byte, m.cfg.QueueSize),
	}
	s.transitionLocked(StateAuthenticated)

	snap := m.store.Snapshot()
	vw := m.cache.Project(snap, s.pred)
	s.lastView = vw
	s.enqueue(v1.NewStateMessage(*vw))
	s.transitionLocked(StateStreaming)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	// A change applied between the projection above and the insert was
	// broadcast to a session list that did not contain this session yet.
	// Catch up once; push ignores revisions the session already holds.
	if cur := m.store.Snapshot(); cur.Revision != snap.Revision {
		s.push(cur, m.cache)
	}

	logger.Info("[Session] Attached",
		"session", s.ID, "operator", id.Name, "role", id.Role)
	return s
}

// Detach closes one session and forgets it.
func (m *Manager) Detach(s *Session, reason CloseReason) {
	s.mu.Lock()
	closed := s.closeLocked(reason)
	s.mu.Unlock()
	if closed {
		logger.Info("[Session] Detached",
			"session", s.ID, "operator", s.identity.Name, "reason", reason)
	}
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}

// CloseAll ends every session, telling subscribers why when there is room.
func (m *Manager) CloseAll(reason CloseReason) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if reason == ReasonShutdown {
			s.enqueue(v1.NewNotification("server shutting down"))
		}
		s.closeLocked(reason)
		s.mu.Unlock()
	}
	if len(sessions) > 0 {
		logger.Info("[Session] Closed all sessions", "count", len(sessions), "reason", reason)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// View projects the current snapshot for an operator without a session.
func (m *Manager) View(id scope.Identity) *v1.View {
	return m.cache.Project(m.store.Snapshot(), scope.Resolve(id, m.cfg.Policy))
}

// Notify queues a server notice on a session.
func (m *Manager) Notify(s *Session, text string) error {
	return s.deliver(v1.NewNotification(text))
}

// HandleAction serves one subscriber request. The result frame is queued on
// the session; switch effects arrive later as ordinary state changes.
func (m *Manager) HandleAction(s *Session, req v1.ActionRequest) error {
	if s.State() != StateStreaming {
		return ErrClosed
	}

	switch req.Action {
	case v1.ActionGetState:
		return m.resend(s)
	case v1.ActionSync:
		if err := m.link.RequestResync(); err != nil {
			return s.deliver(v1.NewActionResult(req.Action, false, err.Error()))
		}
		return s.deliver(v1.NewActionResult(req.Action, true, "resynchronization started"))
	}

	cmd, err := m.cfg.Translate.Translate(s.identity, s.pred, req, m.store.Snapshot())
	if err != nil {
		logger.Warn("[Session] Action rejected",
			"session", s.ID, "operator", s.identity.Name, "action", req.Action, "error", err)
		return s.deliver(v1.NewActionResult(req.Action, false, err.Error()))
	}
	if err := m.link.Send(cmd); err != nil {
		return s.deliver(v1.NewActionResult(req.Action, false, err.Error()))
	}
	logger.Info("[Session] Action sent",
		"session", s.ID, "operator", s.identity.Name, "action", req.Action, "command", cmd.Action)
	return s.deliver(v1.NewActionResult(req.Action, true, ""))
}

// resend queues a fresh full state, resetting the session's diff base. The
// projection happens under the session lock so it cannot interleave with a
// concurrent push and land behind a newer revision.
func (m *Manager) resend(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != StateStreaming {
		return ErrClosed
	}
	vw := m.cache.Project(m.store.Snapshot(), s.pred)
	s.lastView = vw
	if !s.enqueue(v1.NewStateMessage(*vw)) {
		s.closeLocked(ReasonOverflow)
		return ErrOverflow
	}
	return nil
}

func (m *Manager) broadcast(snap *state.Snapshot) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if !s.push(snap, m.cache) {
			logger.Warn("[Session] Subscriber too slow, dropping",
				"session", s.ID, "operator", s.identity.Name)
			m.mu.Lock()
			delete(m.sessions, s.ID)
			m.mu.Unlock()
		}
	}
}

// Session is one subscriber's channel to the panel. The transport reads
// Out() and writes frames to the wire; everything else goes through the
// manager.
type Session struct {
	ID       string
	identity scope.Identity
	pred     *scope.Predicate

	mu       sync.Mutex
	st       State
	reason   CloseReason
	lastView *v1.View
	out      chan []byte
}

// Out is the queue of marshaled frames for this subscriber. It is closed
// when the session ends.
func (s *Session) Out() <-chan []byte { return s.out }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// CloseReason reports why the session ended. Meaningful once Out is closed.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Operator returns the operator name behind this session.
func (s *Session) Operator() string { return s.identity.Name }

// push projects the snapshot for this session and queues a full state or a
// diff. It reports false when the subscriber overflowed and was closed.
func (s *Session) push(snap *state.Snapshot, cache *view.Cache) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != StateStreaming {
		return true
	}

	vw := cache.Project(snap, s.pred)
	if s.lastView != nil && vw.Revision <= s.lastView.Revision {
		return true
	}

	var payload any
	if s.lastView == nil || s.lastView.Revision < snap.Baseline {
		// The subscriber's base predates the last full resync; diffing
		// against it would be wrong.
		payload = v1.NewStateMessage(*vw)
	} else {
		d := view.Diff(s.lastView, vw)
		if view.Empty(d) {
			s.lastView = vw
			return true
		}
		payload = d
	}

	s.lastView = vw
	if !s.enqueue(payload) {
		s.closeLocked(ReasonOverflow)
		return false
	}
	return true
}

// deliver queues one frame outside the push path, closing on overflow.
func (s *Session) deliver(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == StateClosed {
		return ErrClosed
	}
	if !s.enqueue(msg) {
		s.closeLocked(ReasonOverflow)
		return ErrOverflow
	}
	return nil
}

// enqueue marshals and queues one frame. Callers hold s.mu. A false return
// means the queue is full.
func (s *Session) enqueue(msg any) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[Session] Marshal failed", "session", s.ID, "error", err)
		return true // nothing to send, not an overflow
	}
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

// closeLocked finishes the session. Callers hold s.mu. It reports whether
// this call performed the close.
func (s *Session) closeLocked(reason CloseReason) bool {
	if s.st == StateClosed {
		return false
	}
	s.st = StateClosed
	s.reason = reason
	close(s.out)
	return true
}

// transitionLocked advances the lifecycle. Callers hold s.mu or own the
// session exclusively.
func (s *Session) transitionLocked(next State) {
	if !s.st.CanTransitionTo(next) {
		logger.Error("[Session] Invalid state transition",
			"session", s.ID, "from", s.st, "to", next)
		return
	}
	s.st = next
}
