package handshake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekit/pkg/logger"
)

func TestHeartbeatPopupMissedBeatsCountAsClosed(t *testing.T) {
	now := time.Now()
	p := newHeartbeatPopup(2 * time.Second)
	p.now = func() time.Time { return now }
	p.Beat()

	assert.False(t, p.Closed())

	now = now.Add(time.Second)
	assert.False(t, p.Closed())

	now = now.Add(2 * time.Second)
	assert.True(t, p.Closed())

	// A late beat revives it; only an explicit close is sticky.
	p.Beat()
	assert.False(t, p.Closed())
	p.ReportClosed()
	assert.True(t, p.Closed())
	p.Beat()
	assert.True(t, p.Closed())
}

func TestManagerLifecycle(t *testing.T) {
	mgr := NewManager(time.Hour, time.Hour, logger.Nop())

	flowID, err := mgr.Start()
	require.NoError(t, err)
	require.NotEmpty(t, flowID)

	sess, ok := mgr.Get(flowID)
	require.True(t, ok)
	assert.Equal(t, StateAuthorizing, sess.State())

	assert.True(t, mgr.Beat(flowID, false))
	assert.False(t, mgr.Beat("unknown", false))

	mgr.Close(flowID)
	_, ok = mgr.Get(flowID)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, sess.State())
}

func TestManagerSweepsStaleFlows(t *testing.T) {
	mgr := NewManager(time.Hour, time.Hour, logger.Nop())
	now := time.Now()
	mgr.now = func() time.Time { return now }

	stale, err := mgr.Start()
	require.NoError(t, err)
	staleSess, ok := mgr.Get(stale)
	require.True(t, ok)

	// An abandoned flow outlives maxAge; the next Start reclaims it.
	now = now.Add(DefaultMaxFlowAge + time.Minute)
	fresh, err := mgr.Start()
	require.NoError(t, err)

	_, ok = mgr.Get(stale)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, staleSess.State())
	_, ok = mgr.Get(fresh)
	assert.True(t, ok)
}

func TestManagerSweepKeepsRecentFlows(t *testing.T) {
	mgr := NewManager(time.Hour, time.Hour, logger.Nop())
	now := time.Now()
	mgr.now = func() time.Time { return now }

	first, err := mgr.Start()
	require.NoError(t, err)

	now = now.Add(DefaultMaxFlowAge / 2)
	_, err = mgr.Start()
	require.NoError(t, err)

	_, ok := mgr.Get(first)
	assert.True(t, ok)
}

func TestManagerReportedCloseCancelsSession(t *testing.T) {
	mgr := NewManager(5*time.Millisecond, time.Hour, logger.Nop())

	flowID, err := mgr.Start()
	require.NoError(t, err)
	sess, ok := mgr.Get(flowID)
	require.True(t, ok)

	require.True(t, mgr.Beat(flowID, true))

	require.Eventually(t, func() bool {
		return sess.State() == StateError
	}, time.Second, 2*time.Millisecond)
	assert.ErrorIs(t, sess.Err(), ErrCancelled)
}
