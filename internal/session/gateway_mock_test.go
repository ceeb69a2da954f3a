package session

import (
	"context"
	"sync"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/gateway"
	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
)

// mockGateway implements gateway.Gateway for testing.
type mockGateway struct {
	mu sync.Mutex

	account     *account.Account
	proxyStatus protocol.ProxyStatus

	fetchErr      error
	loginErr      error
	tokenLoginErr error
	logoutErr     error
	connectErr    error
	disconnectErr error
	proxyErr      error
	unbindErr     error

	fetchCalls      int
	loginCalls      int
	tokenLoginCalls int
	logoutCalls     int
	connectCalls    int
	disconnectCalls int
	proxyCalls      int
	unbindCalls     int

	// Captured values
	lastCreds        gateway.Credentials
	lastRestart      bool
	lastToken        string
	lastDeviceUserID string
	lastUnbindID     string
	lastActiveID     string

	// Tunnel call overlap tracking for connect/disconnect.
	inflight    int
	maxInflight int

	// When set, Connect (or FetchAccount) blocks until the channel is closed.
	connectGate chan struct{}
	fetchGate   chan struct{}
}

var _ gateway.Gateway = (*mockGateway)(nil)

// newMockGateway creates a mock with a healthy proxy and no snapshot.
func newMockGateway() *mockGateway {
	return &mockGateway{proxyStatus: protocol.ProxyOK}
}

func (g *mockGateway) FetchAccount(_ context.Context) (*account.Account, error) {
	g.mu.Lock()
	g.fetchCalls++
	gate := g.fetchGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.account.Clone(), nil
}

func (g *mockGateway) Login(_ context.Context, creds gateway.Credentials) (*account.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginCalls++
	g.lastCreds = creds
	if g.loginErr != nil {
		return nil, g.loginErr
	}
	return g.account.Clone(), nil
}

func (g *mockGateway) LoginWithToken(_ context.Context, accessToken, deviceUserID string) (*account.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenLoginCalls++
	g.lastToken = accessToken
	g.lastDeviceUserID = deviceUserID
	if g.tokenLoginErr != nil {
		return nil, g.tokenLoginErr
	}
	return g.account.Clone(), nil
}

func (g *mockGateway) Logout(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutCalls++
	return g.logoutErr
}

func (g *mockGateway) Connect(_ context.Context, restart bool) error {
	g.enterTunnelCall()
	gate := g.getConnectGate()
	if gate != nil {
		<-gate
	}
	defer g.exitTunnelCall()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	g.lastRestart = restart
	return g.connectErr
}

func (g *mockGateway) Disconnect(_ context.Context) error {
	g.enterTunnelCall()
	defer g.exitTunnelCall()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnectCalls++
	return g.disconnectErr
}

func (g *mockGateway) CheckProxy(_ context.Context) (protocol.ProxyStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proxyCalls++
	if g.proxyErr != nil {
		return "", g.proxyErr
	}
	return g.proxyStatus, nil
}

func (g *mockGateway) UnbindDevice(_ context.Context, deviceID, activeDeviceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unbindCalls++
	g.lastUnbindID = deviceID
	g.lastActiveID = activeDeviceID
	return g.unbindErr
}

// enterTunnelCall records an in-flight connect/disconnect so tests can
// assert the calls never overlap.
func (g *mockGateway) enterTunnelCall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight++
	if g.inflight > g.maxInflight {
		g.maxInflight = g.inflight
	}
}

func (g *mockGateway) exitTunnelCall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
}

func (g *mockGateway) getConnectGate() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectGate
}

// SetAccount sets the snapshot returned by fetch and login calls.
func (g *mockGateway) SetAccount(acct *account.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = acct
}

func (g *mockGateway) SetFetchError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

func (g *mockGateway) SetLoginError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginErr = err
}

func (g *mockGateway) SetTokenLoginError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenLoginErr = err
}

func (g *mockGateway) SetLogoutError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logoutErr = err
}

func (g *mockGateway) SetConnectError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectErr = err
}

func (g *mockGateway) SetDisconnectError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnectErr = err
}

func (g *mockGateway) SetProxyError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proxyErr = err
}

func (g *mockGateway) SetProxyStatus(status protocol.ProxyStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proxyStatus = status
}

func (g *mockGateway) SetUnbindError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unbindErr = err
}

// SetConnectGate makes Connect block until the returned channel is closed.
func (g *mockGateway) SetConnectGate() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectGate = make(chan struct{})
	return g.connectGate
}

// SetFetchGate makes FetchAccount block until the returned channel is closed.
func (g *mockGateway) SetFetchGate() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchGate = make(chan struct{})
	return g.fetchGate
}

// Counters returns the tunnel call counts.
func (g *mockGateway) ConnectCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectCalls
}

func (g *mockGateway) DisconnectCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnectCalls
}

func (g *mockGateway) FetchCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetchCalls
}

func (g *mockGateway) ProxyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.proxyCalls
}

func (g *mockGateway) MaxInflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInflight
}

func (g *mockGateway) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

func (g *mockGateway) LastCreds() gateway.Credentials {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCreds
}

func (g *mockGateway) LastRestart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRestart
}

func (g *mockGateway) LastToken() (accessToken, deviceUserID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastToken, g.lastDeviceUserID
}

func (g *mockGateway) LastUnbind() (deviceID, activeDeviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastUnbindID, g.lastActiveID
}
