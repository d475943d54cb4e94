// internal/handshake/manager.go
package handshake

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the live handshake sessions of this process, keyed by flow
// id. Sessions are ephemeral: they exist from start until done, close or a
// stale-flow sweepout.
type Manager struct {
	log      *zap.SugaredLogger
	interval time.Duration
	grace    time.Duration
	maxAge   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*managed
}

type managed struct {
	session *Session
	popup   *heartbeatPopup
	started time.Time
}

// DefaultMaxFlowAge bounds how long an abandoned flow survives. Windows that
// navigate away never call DELETE; the sweep reclaims their entries.
const DefaultMaxFlowAge = 30 * time.Minute

func NewManager(interval, grace time.Duration, log *zap.SugaredLogger) *Manager {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if grace <= 0 {
		grace = 4 * interval
	}
	return &Manager{
		log:      log,
		interval: interval,
		grace:    grace,
		maxAge:   DefaultMaxFlowAge,
		now:      time.Now,
		sessions: map[string]*managed{},
	}
}

// Start creates a session in authorizing with a heartbeat-backed popup
// handle and returns its flow id.
func (m *Manager) Start() (string, error) {
	flowID := uuid.NewString()
	sess := NewSession(flowID, m.interval, m.log)
	popup := newHeartbeatPopup(m.grace)
	if err := sess.Start(func() (Popup, error) { return popup, nil }); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.sweepLocked()
	m.sessions[flowID] = &managed{session: sess, popup: popup, started: m.now()}
	m.mu.Unlock()
	return flowID, nil
}

// sweepLocked drops flows past maxAge. Done and errored sessions stay
// readable until then so the initiating window can still poll the outcome;
// age alone decides, since an abandoned flow may sit in any state.
func (m *Manager) sweepLocked() {
	cutoff := m.now().Add(-m.maxAge)
	for id, e := range m.sessions {
		if e.started.Before(cutoff) {
			delete(m.sessions, id)
			e.session.Close()
			m.log.Debugw("swept stale handshake flow", "flow", id)
		}
	}
}

// Get returns the session for a flow id.
func (m *Manager) Get(flowID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[flowID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Beat records popup liveness for a flow; closed reports an observed close.
func (m *Manager) Beat(flowID string, closed bool) bool {
	m.mu.Lock()
	e, ok := m.sessions[flowID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if closed {
		e.popup.ReportClosed()
	} else {
		e.popup.Beat()
	}
	return true
}

// Close tears a flow down and forgets it.
func (m *Manager) Close(flowID string) {
	m.mu.Lock()
	e, ok := m.sessions[flowID]
	delete(m.sessions, flowID)
	m.mu.Unlock()
	if ok {
		e.session.Close()
	}
}
