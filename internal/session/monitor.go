package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/easyvpn/easyvpn-client/internal/gateway"
)

// DefaultProxyCheckInterval is the default interval between proxy health
// checks while connected.
const DefaultProxyCheckInterval = 10 * time.Second

// Monitor watches the OS proxy configuration while a session is active.
// Any answer other than the healthy sentinel forces the session to
// Failed(proxy-error); the monitor never repairs the proxy and never calls
// disconnect, recovery is up to the user. While the session is not
// connected the check is skipped without touching the backend.
type Monitor struct {
	ctrl     *Controller
	gw       gateway.Gateway
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a proxy health monitor. If interval is 0,
// DefaultProxyCheckInterval is used.
func NewMonitor(ctrl *Controller, gw gateway.Gateway, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProxyCheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		ctrl:     ctrl,
		gw:       gw,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the health check loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.checkLoop()

	slog.Info("Proxy health monitor started", "interval", m.interval)
}

// Stop halts the loop, aborts any in-flight check, and waits for the check
// goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped || !m.started {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	slog.Info("Proxy health monitor stopped")
}

// IsRunning returns true if the monitor is actively checking.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped
}

// checkLoop runs the main health check loop.
func (m *Monitor) checkLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check performs one health check cycle. A check error counts as an anomaly
// like any non-Ok code.
func (m *Monitor) check() {
	if !m.ctrl.GetStatus().IsConnected() {
		return
	}

	status, err := m.gw.CheckProxy(m.ctx)
	if err != nil {
		if m.ctx.Err() != nil {
			// Teardown aborted the call; not an anomaly.
			return
		}
		slog.Warn("Proxy health check failed", "error", err)
		m.ctrl.ForceProxyFailure()
		return
	}

	if !status.Healthy() {
		slog.Warn("Proxy health check anomaly",
			"code", string(status), "detail", status.Message())
		m.ctrl.ForceProxyFailure()
		return
	}

	slog.Debug("Proxy health check ok")
}
