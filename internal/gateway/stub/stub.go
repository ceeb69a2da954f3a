// Package stub provides a scripted in-memory gateway backend. The
// development daemon serves it when no real backend is available, and the
// client integration tests drive it directly.
package stub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
)

// EventBroadcaster is called to broadcast events to all clients.
type EventBroadcaster func(event *protocol.Event)

// Options seed the stub account and its failure behavior.
type Options struct {
	// Username reported once logged in.
	Username string
	// Entitlement is the initial service-eligibility state.
	Entitlement account.Entitlement
	// ProxyStatus is what check_proxy reports while connected.
	ProxyStatus protocol.ProxyStatus
	// FailConnect makes connect requests fail.
	FailConnect bool
	// FailDisconnect makes disconnect requests fail.
	FailDisconnect bool
}

// DefaultOptions returns a stub account that can connect immediately.
func DefaultOptions() Options {
	return Options{
		Username:    "demo",
		Entitlement: account.EntitlementTrial,
		ProxyStatus: protocol.ProxyOK,
	}
}

// Backend is the scripted gateway. All state lives in memory; every snapshot
// mutation broadcasts an account_changed event, mirroring the push channel a
// real backend uses when entitlement changes outside a client request.
type Backend struct {
	broadcaster EventBroadcaster

	mu             sync.Mutex
	snapshot       account.Account
	connected      bool
	proxyStatus    protocol.ProxyStatus
	failConnect    bool
	failDisconnect bool
}

// NewBackend creates a stub backend. broadcaster may be nil when events are
// not needed (handler-level tests).
func NewBackend(opts Options, broadcaster EventBroadcaster) *Backend {
	if opts.ProxyStatus == "" {
		opts.ProxyStatus = protocol.ProxyOK
	}
	return &Backend{
		broadcaster: broadcaster,
		snapshot: account.Account{
			Status:    opts.Entitlement,
			Username:  opts.Username,
			LoginType: account.LoginTypeNone,
		},
		proxyStatus:    opts.ProxyStatus,
		failConnect:    opts.FailConnect,
		failDisconnect: opts.FailDisconnect,
	}
}

// HandleRequest processes a request and returns a response.
func (b *Backend) HandleRequest(req *protocol.Request) *protocol.Response {
	switch req.Command {
	case protocol.CommandFetchAccount:
		return b.handleFetchAccount(req)
	case protocol.CommandLogin:
		return b.handleLogin(req)
	case protocol.CommandLoginToken:
		return b.handleLoginToken(req)
	case protocol.CommandLogout:
		return b.handleLogout(req)
	case protocol.CommandConnect:
		return b.handleConnect(req)
	case protocol.CommandDisconnect:
		return b.handleDisconnect(req)
	case protocol.CommandCheckProxy:
		return b.handleCheckProxy(req)
	case protocol.CommandUnbindDevice:
		return b.handleUnbindDevice(req)
	default:
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (b *Backend) handleFetchAccount(req *protocol.Request) *protocol.Response {
	b.mu.Lock()
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	return successResponse(req.ID, snapshot)
}

func (b *Backend) handleLogin(req *protocol.Request) *protocol.Response {
	var params protocol.LoginParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid login params")
	}
	if params.Username == "" || params.Password == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeAuthFailed,
			"username and password are required")
	}

	b.mu.Lock()
	b.snapshot.Username = params.Username
	b.snapshot.AccessToken = "at-" + uuid.New().String()
	b.snapshot.RefreshToken = "rt-" + uuid.New().String()
	b.snapshot.LoginType = account.LoginTypeAccount
	if params.DeviceID != "" {
		b.ensureDeviceLocked(params.DeviceID, params.DeviceName)
	}
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	b.broadcastAccountChanged(snapshot)
	return successResponse(req.ID, snapshot)
}

func (b *Backend) handleLoginToken(req *protocol.Request) *protocol.Response {
	var params protocol.LoginTokenParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid login_token params")
	}
	if params.AccessToken == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeAuthFailed,
			"access token is required")
	}

	b.mu.Lock()
	b.snapshot.AccessToken = params.AccessToken
	b.snapshot.RefreshToken = "rt-" + uuid.New().String()
	b.snapshot.LoginType = account.LoginTypeToken
	if params.DeviceUserID != "" {
		b.ensureDeviceLocked(params.DeviceUserID, "")
	}
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	b.broadcastAccountChanged(snapshot)
	return successResponse(req.ID, snapshot)
}

func (b *Backend) handleLogout(req *protocol.Request) *protocol.Response {
	b.mu.Lock()
	b.snapshot.AccessToken = ""
	b.snapshot.RefreshToken = ""
	b.snapshot.LoginType = account.LoginTypeNone
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	b.broadcastAccountChanged(snapshot)
	return successResponse(req.ID, nil)
}

func (b *Backend) handleConnect(req *protocol.Request) *protocol.Response {
	var params protocol.ConnectParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid connect params")
	}

	b.mu.Lock()
	if b.failConnect {
		b.mu.Unlock()
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeConnectionFailed,
			"proxy engine refused to start")
	}
	b.connected = true
	b.mu.Unlock()

	slog.Debug("Stub connected", "restart", params.Restart)
	return successResponse(req.ID, nil)
}

func (b *Backend) handleDisconnect(req *protocol.Request) *protocol.Response {
	b.mu.Lock()
	if b.failDisconnect {
		b.mu.Unlock()
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeDisconnectFailed,
			"proxy engine refused to stop")
	}
	b.connected = false
	b.mu.Unlock()

	return successResponse(req.ID, nil)
}

func (b *Backend) handleCheckProxy(req *protocol.Request) *protocol.Response {
	b.mu.Lock()
	code := b.proxyStatus
	if !b.connected {
		code = protocol.ProxyNotEnabled
	}
	b.mu.Unlock()

	return successResponse(req.ID, protocol.CheckProxyResult{Code: code})
}

func (b *Backend) handleUnbindDevice(req *protocol.Request) *protocol.Response {
	var params protocol.UnbindDeviceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"invalid unbind_device params")
	}
	if params.DeviceID == "" {
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeInvalidParams,
			"device_id is required")
	}

	b.mu.Lock()
	if !b.snapshot.RemoveDevice(params.DeviceID) {
		b.mu.Unlock()
		return protocol.NewErrorResponse(req.ID, protocol.ErrCodeDeviceNotFound,
			fmt.Sprintf("device %s is not bound to this account", params.DeviceID))
	}
	if params.ActiveDeviceID != "" {
		b.ensureDeviceLocked(params.ActiveDeviceID, "")
	}
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	b.broadcastAccountChanged(snapshot)
	return successResponse(req.ID, nil)
}

// ensureDeviceLocked appends or refreshes a device binding. Callers hold b.mu.
func (b *Backend) ensureDeviceLocked(deviceID, name string) {
	now := time.Now().UTC()
	for i := range b.snapshot.Devices {
		if b.snapshot.Devices[i].ID == deviceID {
			b.snapshot.Devices[i].LastSeen = now
			b.snapshot.Devices[i].Online = true
			if name != "" {
				b.snapshot.Devices[i].Name = name
			}
			return
		}
	}
	if name == "" {
		name = "device-" + deviceID
	}
	b.snapshot.Devices = append(b.snapshot.Devices, account.DeviceBinding{
		ID:       deviceID,
		Name:     name,
		LastSeen: now,
		Online:   true,
	})
}

// SetEntitlement changes the account's service-eligibility state and pushes
// the new snapshot to connected clients. Drives reconciliation scenarios.
func (b *Backend) SetEntitlement(e account.Entitlement) {
	b.mu.Lock()
	b.snapshot.Status = e
	snapshot := *b.snapshot.Clone()
	b.mu.Unlock()

	b.broadcastAccountChanged(snapshot)
}

// SetProxyStatus changes what check_proxy reports while connected.
func (b *Backend) SetProxyStatus(code protocol.ProxyStatus) {
	b.mu.Lock()
	b.proxyStatus = code
	b.mu.Unlock()
}

// SetFailConnect toggles connect failure injection.
func (b *Backend) SetFailConnect(fail bool) {
	b.mu.Lock()
	b.failConnect = fail
	b.mu.Unlock()
}

// SetFailDisconnect toggles disconnect failure injection.
func (b *Backend) SetFailDisconnect(fail bool) {
	b.mu.Lock()
	b.failDisconnect = fail
	b.mu.Unlock()
}

// Connected reports whether the stub considers the proxy session active.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Snapshot returns a copy of the current account state.
func (b *Backend) Snapshot() account.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.snapshot.Clone()
}

func (b *Backend) broadcastAccountChanged(snapshot account.Account) {
	if b.broadcaster == nil {
		return
	}
	event, err := protocol.NewEvent(protocol.EventAccountChanged, snapshot)
	if err != nil {
		slog.Error("Failed to create account change event", "error", err)
		return
	}
	b.broadcaster(event)
}

func successResponse(id string, result interface{}) *protocol.Response {
	resp, err := protocol.NewSuccessResponse(id, result)
	if err != nil {
		return protocol.NewErrorResponse(id, protocol.ErrCodeInternalError, err.Error())
	}
	return resp
}
