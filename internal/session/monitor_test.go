package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectedController returns a controller in the Connected state backed by
// the given mock.
func connectedController(t *testing.T, gw *mockGateway) *Controller {
	t.Helper()
	ctrl := newTestController(gw)
	ctrl.HandleAccountPush(context.Background(), trialAccount())
	ctrl.ToggleConnection(context.Background())
	require.Equal(t, StatusConnected, ctrl.GetStatus())
	return ctrl
}

func TestNewMonitor_DefaultInterval(t *testing.T) {
	gw := newMockGateway()
	m := NewMonitor(newTestController(gw), gw, 0)

	require.NotNil(t, m)
	assert.Equal(t, DefaultProxyCheckInterval, m.interval)
	assert.False(t, m.IsRunning())
}

func TestMonitor_SkipsWhenNotConnected(t *testing.T) {
	gw := newMockGateway()
	ctrl := newTestController(gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	// Several intervals pass without a single backend call.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, gw.ProxyCalls())
	assert.Equal(t, StatusDisconnected, ctrl.GetStatus())
}

func TestMonitor_HealthyProxyKeepsConnected(t *testing.T) {
	gw := newMockGateway()
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return gw.ProxyCalls() >= 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, StatusConnected, ctrl.GetStatus())
	assert.Equal(t, ReasonNone, ctrl.GetReason())
}

func TestMonitor_AnomalyForcesFailure(t *testing.T) {
	gw := newMockGateway()
	gw.SetProxyStatus(protocol.ProxyNotEnabled)
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return ctrl.GetStatus() == StatusFailed
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, ReasonProxyError, ctrl.GetReason())
	// The monitor reports; it never tears the tunnel down itself.
	assert.Equal(t, 0, gw.DisconnectCalls())
}

func TestMonitor_CheckErrorForcesFailure(t *testing.T) {
	gw := newMockGateway()
	gw.SetProxyError(errors.New("gateway unreachable"))
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return ctrl.GetStatus() == StatusFailed
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, ReasonProxyError, ctrl.GetReason())
	assert.Equal(t, 0, gw.DisconnectCalls())
}

func TestMonitor_SkipsAfterFailure(t *testing.T) {
	gw := newMockGateway()
	gw.SetProxyStatus(protocol.ProxyProcessNotRunning)
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return ctrl.GetStatus() == StatusFailed
	}, time.Second, 10*time.Millisecond)

	// Once the session is no longer connected the checks go quiet.
	calls := gw.ProxyCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, gw.ProxyCalls())
}

func TestMonitor_StopHaltsChecks(t *testing.T) {
	gw := newMockGateway()
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()

	assert.Eventually(t, func() bool {
		return gw.ProxyCalls() >= 1
	}, time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())

	calls := gw.ProxyCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, gw.ProxyCalls())
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	gw := newMockGateway()
	m := NewMonitor(newTestController(gw), gw, time.Hour)

	m.Start()
	m.Stop()
	m.Stop()

	assert.False(t, m.IsRunning())
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	gw := newMockGateway()
	m := NewMonitor(newTestController(gw), gw, time.Hour)

	// Must not hang waiting for a loop that never started.
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestMonitor_StartTwice(t *testing.T) {
	gw := newMockGateway()
	ctrl := connectedController(t, gw)

	m := NewMonitor(ctrl, gw, 10*time.Millisecond)
	m.Start()
	m.Start()

	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}
