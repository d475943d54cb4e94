// internal/handshake/popup.go
package handshake

import (
	"sync"
	"time"
)

// heartbeatPopup backs the Popup interface for flows driven over HTTP: the
// initiating window reports the popup handle's liveness with periodic beats.
// A missed-beat window or an explicit closed report both count as closed,
// which is what the watchdog polls for.
type heartbeatPopup struct {
	mu       sync.Mutex
	lastBeat time.Time
	grace    time.Duration
	closed   bool
	now      func() time.Time
}

func newHeartbeatPopup(grace time.Duration) *heartbeatPopup {
	p := &heartbeatPopup{grace: grace, now: time.Now}
	p.lastBeat = p.now()
	return p
}

// Beat records that the popup was still open at this instant.
func (p *heartbeatPopup) Beat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastBeat = p.now()
}

// ReportClosed records an explicit close observed by the front end.
func (p *heartbeatPopup) ReportClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *heartbeatPopup) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.now().Sub(p.lastBeat) > p.grace
}

func (p *heartbeatPopup) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
