// Package handshake brokers the cross-window OAuth authorization flow: a
// popup opened at the provider's authorization surface, a server-side
// callback that validates the returned grant, and delivery of the outcome to
// the initiating window over two redundant channels.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatekit/pkg/problems"
)

func init() {
	problems.Register(ErrPopupBlocked, http.StatusConflict, "popup-blocked", "the authorization window could not be opened")
	problems.Register(ErrCancelled, http.StatusConflict, "handshake-cancelled", "authorization was cancelled")
	problems.Register(ErrProvider, http.StatusBadGateway, "provider-error", "the authorization provider reported an error")
	problems.Register(ErrPersistence, http.StatusBadGateway, "persistence-failed", "saving the linked account failed")
}

// State of a handshake session. error is reachable from every non-terminal
// state.
type State string

const (
	StateIdle         State = "idle"
	StateAuthorizing  State = "authorizing"
	StateDataReceived State = "data_received"
	StateSaving       State = "saving"
	StateDone         State = "done"
	StateError        State = "error"
)

var (
	// ErrPopupBlocked: the authorization window could not be opened.
	ErrPopupBlocked = errors.New("authorization window blocked")
	// ErrCancelled: the user closed the popup (or the provider reported a
	// user cancellation). Recoverable; the flow may restart from idle.
	ErrCancelled = errors.New("authorization cancelled by user")
	// ErrProvider: the provider reported a failure.
	ErrProvider = errors.New("authorization provider error")
	// ErrPersistence: saving the linked account failed. The flow returns
	// to a retryable state.
	ErrPersistence = errors.New("linked account persistence failed")
)

// Popup abstracts the opened authorization window. The browser front end
// backs this with a real window handle; tests script it.
type Popup interface {
	Closed() bool
	Close()
}

// MessageType values match the payload shape the relay page posts.
const (
	MessageSuccess = "AUTH_SUCCESS"
	MessageError   = "AUTH_ERROR"
)

// Message is one delivery from either channel (postMessage or the broadcast
// channel). Both channels may deliver the same outcome; FlowID scopes the
// message to a session and the session keeps only the first.
type Message struct {
	Type    string         `json:"type"`
	FlowID  string         `json:"flow_id"`
	Reason  string         `json:"reason,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DefaultWatchInterval is how often the watchdog polls the popup handle.
const DefaultWatchInterval = 500 * time.Millisecond

// Session is the ephemeral state of one handshake flow.
type Session struct {
	ID string

	log      *zap.SugaredLogger
	interval time.Duration

	mu     sync.Mutex
	state  State
	popup  Popup
	result map[string]any
	err    error

	// watchdog lifetime; cancelled on any transition out of authorizing.
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func NewSession(id string, interval time.Duration, log *zap.SugaredLogger) *Session {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Session{ID: id, state: StateIdle, interval: interval, log: log}
}

// Start opens the authorization window and enters authorizing. A failed
// open (popup blocker) moves straight to error.
func (s *Session) Start(open func() (Popup, error)) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", s.state)
	}
	popup, err := open()
	if err != nil || popup == nil {
		s.state = StateError
		s.err = ErrPopupBlocked
		s.mu.Unlock()
		return ErrPopupBlocked
	}
	s.popup = popup
	s.state = StateAuthorizing

	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	done := make(chan struct{})
	s.watchDone = done
	// The watcher gets its own done channel; a restarted session installs a
	// fresh one, and a lingering old watcher must never close it.
	go s.watch(ctx, popup, done)
	s.mu.Unlock()
	return nil
}

// watch polls the popup until it closes without a result or the session
// leaves authorizing. The ticker is a child of the session: any terminal
// transition cancels it, so no timer outlives the flow.
func (s *Session) watch(ctx context.Context, popup Popup, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if popup.Closed() {
				s.mu.Lock()
				if s.state == StateAuthorizing && s.popup == popup {
					s.state = StateError
					s.err = ErrCancelled
					s.stopWatchLocked()
					sessionOutcomes.WithLabelValues("cancelled").Inc()
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// Deliver feeds one message from either channel into the session. The first
// message for this flow wins; later duplicates (the redundant channel firing
// too) and messages for other flows are ignored. Returns whether the message
// was applied.
func (s *Session) Deliver(msg Message) bool {
	if msg.FlowID != s.ID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthorizing {
		return false
	}
	s.stopWatchLocked()
	switch msg.Type {
	case MessageSuccess:
		s.state = StateDataReceived
		s.result = msg.Payload
		sessionOutcomes.WithLabelValues("received").Inc()
	case MessageError:
		s.state = StateError
		if msg.Reason == "access_denied" {
			s.err = ErrCancelled
			sessionOutcomes.WithLabelValues("cancelled").Inc()
		} else {
			s.err = fmt.Errorf("%w: %s", ErrProvider, msg.Reason)
			sessionOutcomes.WithLabelValues("provider_error").Inc()
		}
	default:
		s.log.Warnw("ignoring unknown handshake message", "type", msg.Type, "flow", msg.FlowID)
		return false
	}
	return true
}

// Save persists the received payload through persist. Valid only from
// data_received; failure moves to error but the flow may retry from idle.
func (s *Session) Save(ctx context.Context, persist func(context.Context, map[string]any) error) error {
	s.mu.Lock()
	if s.state != StateDataReceived {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot save from state %s", st)
	}
	s.state = StateSaving
	payload := s.result
	s.mu.Unlock()

	err := persist(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.err = fmt.Errorf("%w: %v", ErrPersistence, err)
		sessionOutcomes.WithLabelValues("save_failed").Inc()
		return s.err
	}
	s.state = StateDone
	sessionOutcomes.WithLabelValues("done").Inc()
	return nil
}

// Close is valid from any state: it force-closes the popup if still open,
// stops the watchdog and clears all session data.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup != nil && !s.popup.Closed() {
		s.popup.Close()
	}
	s.stopWatchLocked()
	s.popup = nil
	s.result = nil
	s.err = nil
	s.state = StateIdle
}

func (s *Session) stopWatchLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the received provider payload, if any.
func (s *Session) Result() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the failure that moved the session to error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
