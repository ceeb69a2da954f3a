package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/bus"
	"github.com/easyvpn/easyvpn-client/internal/gateway"
)

// Controller owns the connection status and the entitlement snapshot. One
// instance per process; every other component reads through its accessors
// or reacts to its callbacks and bus signals.
//
// Two locks with distinct jobs: opMu serializes the gateway operations
// (connect, disconnect, login, fetch) so no two run concurrently and the
// reconciliation rule observes a settled state; mu guards the status and
// snapshot fields so accessors never block behind a slow backend call.
type Controller struct {
	gw       gateway.Gateway
	bus      *bus.Bus
	identity *account.Identity

	opMu sync.Mutex

	mu       sync.RWMutex
	status   Status
	reason   FailureReason
	account  *account.Account
	toggling bool

	// Callbacks
	onStatusChange  func(old, new Status, reason FailureReason)
	onAccountChange func(acct *account.Account)
}

// NewController creates a session controller in the Disconnected state with
// no entitlement snapshot. identity may be nil when no device binding is
// wanted (tests).
func NewController(gw gateway.Gateway, b *bus.Bus, identity *account.Identity) *Controller {
	return &Controller{
		gw:       gw,
		bus:      b,
		identity: identity,
		status:   StatusDisconnected,
	}
}

// GetStatus returns the current connection status.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// GetReason returns the failure reason attached to a Failed status. It is
// ReasonNone whenever the status is not Failed.
func (c *Controller) GetReason() FailureReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// GetAccount returns a copy of the current entitlement snapshot, or nil
// before the first successful fetch.
func (c *Controller) GetAccount() *account.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account.Clone()
}

// GetEntitlement returns the entitlement of the current snapshot. The zero
// value marks the pre-first-fetch state.
func (c *Controller) GetEntitlement() account.Entitlement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == nil {
		return account.EntitlementNone
	}
	return c.account.Status
}

// LoggedIn reports whether the current snapshot carries a session.
func (c *Controller) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account.LoggedIn()
}

// OnStatusChange registers a callback for status transitions. The callback
// runs on the goroutine that caused the transition and must not call back
// into the controller.
func (c *Controller) OnStatusChange(callback func(old, new Status, reason FailureReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatusChange = callback
}

// OnAccountChange registers a callback invoked with a copy of each newly
// installed entitlement snapshot. Same re-entrancy rule as OnStatusChange.
func (c *Controller) OnAccountChange(callback func(acct *account.Account)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAccountChange = callback
}

// setStatus transitions to a new status, recording the failure reason.
// The state change callback is invoked outside the field lock to prevent
// deadlocks. Transitions to the same status+reason are silent.
func (c *Controller) setStatus(newStatus Status, reason FailureReason) {
	if newStatus != StatusFailed {
		reason = ReasonNone
	}

	c.mu.Lock()
	if c.status == newStatus && c.reason == reason {
		c.mu.Unlock()
		return
	}
	oldStatus := c.status
	c.status = newStatus
	c.reason = reason
	callback := c.onStatusChange
	c.mu.Unlock()

	// Call callback outside of lock to prevent deadlocks
	if callback != nil {
		callback(oldStatus, newStatus, reason)
	}
}

// ToggleConnection flips the connection: connect when disconnected or
// failed, disconnect when connected. A toggle arriving while another is in
// flight is dropped silently; it is never queued, so a double-click cannot
// connect and immediately disconnect again.
func (c *Controller) ToggleConnection(ctx context.Context) {
	if !c.beginToggle() {
		slog.Debug("Toggle already in flight, ignoring")
		return
	}
	defer c.endToggle()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.toggleLocked(ctx, false)
}

// RetryConnection recovers from a Failed status: it clears the failure,
// returns to Disconnected, and immediately attempts a fresh connect with the
// restart flag set so the backend tears down any half-open session. Intended
// to be called from Failed; elsewhere it behaves like a forced reconnect.
func (c *Controller) RetryConnection(ctx context.Context) {
	if !c.beginToggle() {
		slog.Debug("Toggle already in flight, ignoring retry")
		return
	}
	defer c.endToggle()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setStatus(StatusDisconnected, ReasonNone)
	c.toggleLocked(ctx, true)
}

// beginToggle sets the in-flight flag. It returns false when a toggle is
// already running, in which case the caller must drop the request.
func (c *Controller) beginToggle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toggling {
		return false
	}
	c.toggling = true
	return true
}

func (c *Controller) endToggle() {
	c.mu.Lock()
	c.toggling = false
	c.mu.Unlock()
}

// toggleLocked performs one connect or disconnect. Callers hold opMu and
// the toggle flag. The entitlement gate applies to every connect attempt:
// without a permitting entitlement the backend is never invoked.
func (c *Controller) toggleLocked(ctx context.Context, restart bool) {
	c.mu.RLock()
	status := c.status
	entitlement := account.EntitlementNone
	if c.account != nil {
		entitlement = c.account.Status
	}
	c.mu.RUnlock()

	if status.IsConnected() {
		if err := c.gw.Disconnect(ctx); err != nil {
			slog.Error("Disconnect failed", "error", err)
			c.setStatus(StatusFailed, ReasonConnectionFailed)
			return
		}
		c.setStatus(StatusDisconnected, ReasonNone)
		return
	}

	if !entitlement.AllowsConnection() {
		slog.Warn("Connect refused, entitlement does not permit connection",
			"entitlement", string(entitlement))
		c.setStatus(StatusFailed, ReasonEntitlementInvalid)
		return
	}

	if err := c.gw.Connect(ctx, restart); err != nil {
		slog.Error("Connect failed", "error", err, "restart", restart)
		c.setStatus(StatusFailed, ReasonConnectionFailed)
		return
	}
	c.setStatus(StatusConnected, ReasonNone)
}

// Login authenticates with username and password bound to this install's
// device identity. On success the returned snapshot is installed and
// login-success is published; on failure login-error is published and the
// local state is untouched.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	creds := gateway.Credentials{
		Username:   username,
		Password:   password,
		DeviceName: account.Hostname(),
	}
	if c.identity != nil {
		id, err := c.identity.DeviceID()
		if err != nil {
			slog.Warn("Device identity unavailable, logging in without binding", "error", err)
		} else {
			creds.DeviceID = id
		}
	}

	c.opMu.Lock()
	acct, err := c.gw.Login(ctx, creds)
	if err == nil {
		c.installSnapshotLocked(ctx, acct)
	}
	c.opMu.Unlock()

	if err != nil {
		slog.Error("Login failed", "username", username, "error", err)
		c.bus.Publish(bus.LoginError(err))
		return fmt.Errorf("login: %w", err)
	}

	slog.Info("Login succeeded", "username", acct.Username)
	c.bus.Publish(bus.LoginSuccess(acct.Clone()))
	return nil
}

// LoginWithToken authenticates with an access token obtained out of band
// (web login receiver, session restore). Install and publish behavior is
// identical to Login.
func (c *Controller) LoginWithToken(ctx context.Context, accessToken, deviceUserID string) error {
	c.opMu.Lock()
	acct, err := c.gw.LoginWithToken(ctx, accessToken, deviceUserID)
	if err == nil {
		c.installSnapshotLocked(ctx, acct)
	}
	c.opMu.Unlock()

	if err != nil {
		slog.Error("Token login failed", "error", err)
		c.bus.Publish(bus.LoginError(err))
		return fmt.Errorf("token login: %w", err)
	}

	slog.Info("Token login succeeded", "username", acct.Username)
	c.bus.Publish(bus.LoginSuccess(acct.Clone()))
	return nil
}

// Logout ends the session. The entitlement snapshot is refreshed afterward
// whether or not the logout call succeeded, so the local state always
// reflects what the backend now thinks of this device. logout-success is
// published only when the logout itself succeeded.
func (c *Controller) Logout(ctx context.Context) error {
	c.opMu.Lock()
	err := c.gw.Logout(ctx)

	acct, fetchErr := c.gw.FetchAccount(ctx)
	if fetchErr != nil {
		slog.Warn("Account refresh after logout failed", "error", fetchErr)
	} else {
		c.installSnapshotLocked(ctx, acct)
	}
	c.opMu.Unlock()

	if err != nil {
		slog.Error("Logout failed", "error", err)
		return fmt.Errorf("logout: %w", err)
	}

	slog.Info("Logout succeeded")
	c.bus.Publish(bus.LogoutSuccess())
	return nil
}

// UnbindDevice detaches a device from the account, optionally reactivating
// another. On success the binding is removed from the local snapshot and a
// fresh snapshot is fetched; on failure nothing is mutated locally and the
// error is returned to the caller.
func (c *Controller) UnbindDevice(ctx context.Context, deviceID, activeDeviceID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.gw.UnbindDevice(ctx, deviceID, activeDeviceID); err != nil {
		slog.Error("Unbind failed", "device_id", deviceID, "error", err)
		return fmt.Errorf("unbind device: %w", err)
	}

	c.mu.RLock()
	local := c.account.Clone()
	c.mu.RUnlock()
	if local != nil && local.RemoveDevice(deviceID) {
		c.installSnapshotLocked(ctx, local)
	}

	// The backend may have reshuffled active devices; pick up its view.
	acct, err := c.gw.FetchAccount(ctx)
	if err != nil {
		slog.Warn("Account refresh after unbind failed", "error", err)
		return nil
	}
	c.installSnapshotLocked(ctx, acct)
	return nil
}

// RefreshAccount fetches a fresh entitlement snapshot and installs it,
// running reconciliation. On fetch failure the previous snapshot stays in
// place and the error is returned.
func (c *Controller) RefreshAccount(ctx context.Context) (*account.Account, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	acct, err := c.gw.FetchAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	c.installSnapshotLocked(ctx, acct)
	return acct.Clone(), nil
}

// HandleAccountPush installs a snapshot delivered by the backend without a
// request (entitlement changed externally).
func (c *Controller) HandleAccountPush(ctx context.Context, acct *account.Account) {
	if acct == nil {
		return
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.installSnapshotLocked(ctx, acct)
}

// ForceProxyFailure drives the status to Failed(proxy-error). It is a pure
// status overwrite, not a connect/disconnect call, so it ignores the toggle
// flag; it still serializes behind the operation lock so a disconnect that
// raced ahead wins and the overwrite becomes a no-op.
func (c *Controller) ForceProxyFailure() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	connected := c.status.IsConnected()
	c.mu.RUnlock()
	if !connected {
		slog.Debug("Proxy failure reported while not connected, ignoring")
		return
	}

	slog.Warn("Proxy anomaly while connected, marking session failed")
	c.setStatus(StatusFailed, ReasonProxyError)
}

// Close tears down the controller. An active session gets a best-effort
// disconnect bounded by ctx; failures are logged and never block shutdown.
func (c *Controller) Close(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	connected := c.status.IsConnected()
	c.mu.RUnlock()
	if !connected {
		return
	}

	if err := c.gw.Disconnect(ctx); err != nil {
		slog.Warn("Disconnect on shutdown failed", "error", err)
	}
	c.setStatus(StatusDisconnected, ReasonNone)
}
