package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/bus"
)

// DefaultPollInterval is the default interval between account refreshes.
const DefaultPollInterval = 60 * time.Second

// Poller keeps the entitlement snapshot fresh: one refresh per tick, plus an
// out-of-schedule refresh whenever a login or logout signal fires on the
// bus. Refreshes never overlap; a tick or signal arriving while one is
// running is dropped.
type Poller struct {
	ctrl     *Controller
	bus      *bus.Bus
	interval time.Duration

	mu         sync.Mutex
	refreshing bool
	started    bool
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*bus.Subscription
}

// NewPoller creates an account poller. If interval is 0, DefaultPollInterval
// is used.
func NewPoller(ctrl *Controller, b *bus.Bus, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		ctrl:     ctrl,
		bus:      b,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// FetchAccountData performs a full snapshot refresh through the controller
// and returns the fresh snapshot. Used on startup before the poll schedule
// takes over.
func (p *Poller) FetchAccountData(ctx context.Context) (*account.Account, error) {
	return p.ctrl.RefreshAccount(ctx)
}

// UpdateAndFetchAccount is the periodic refresh issued on timer ticks. It
// returns the fresh snapshot.
func (p *Poller) UpdateAndFetchAccount(ctx context.Context) (*account.Account, error) {
	return p.ctrl.RefreshAccount(ctx)
}

// Start begins polling: an immediate refresh, then one per tick. Login and
// logout signals trigger an extra refresh outside the tick schedule.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.subs = append(p.subs,
		p.bus.Subscribe(bus.KindLoginSuccess, p.handleSessionSignal),
		p.bus.Subscribe(bus.KindLogoutSuccess, p.handleSessionSignal),
	)

	p.wg.Add(1)
	go p.pollLoop()

	slog.Info("Account poller started", "interval", p.interval)
}

// Stop halts polling, detaches from the bus, aborts any in-flight refresh,
// and waits for the poll goroutine to exit. The timer never fires again
// after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	for _, sub := range p.subs {
		sub.Cancel()
	}
	p.cancel()
	p.wg.Wait()

	slog.Info("Account poller stopped")
}

// IsRunning returns true if the poller is actively polling.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.stopped
}

// pollLoop runs the main polling loop.
func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Prime the snapshot immediately; the first tick is an interval away.
	p.refresh(p.UpdateAndFetchAccount)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refresh(p.UpdateAndFetchAccount)
		}
	}
}

// handleSessionSignal reacts to login-success and logout-success. The
// refresh runs on its own goroutine so the publisher is never blocked
// behind a gateway call.
func (p *Poller) handleSessionSignal(bus.Event) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.refresh(p.FetchAccountData)
	}()
}

// refresh runs one guarded snapshot refresh. Concurrent attempts are
// dropped, never queued: a slow backend must not build up a backlog of
// identical fetches.
func (p *Poller) refresh(fetch func(context.Context) (*account.Account, error)) {
	p.mu.Lock()
	if p.refreshing {
		p.mu.Unlock()
		slog.Debug("Account refresh already running, dropping")
		return
	}
	p.refreshing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.refreshing = false
		p.mu.Unlock()
	}()

	if _, err := fetch(p.ctx); err != nil {
		// Previous snapshot stays in place; the next tick tries again.
		slog.Warn("Account refresh failed", "error", err)
	}
}
