// Package gateway provides the client for communicating with the privileged
// gateway daemon that performs account, tunnel, and proxy operations on
// behalf of the shell.
package gateway

import (
	"context"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
)

// Credentials carries a password login request. DeviceID and DeviceName
// identify this installation so the backend can bind it to the account.
type Credentials struct {
	Username   string
	Password   string
	DeviceID   string
	DeviceName string
}

// Gateway is the command surface of the backend. The session controller
// depends on this interface; the NDJSON client and the test fakes implement
// it. Every call blocks until the backend answers or ctx is done.
type Gateway interface {
	// FetchAccount returns the current entitlement snapshot.
	FetchAccount(ctx context.Context) (*account.Account, error)

	// Login authenticates with username and password and returns the
	// resulting snapshot. No client-side state changes on failure.
	Login(ctx context.Context, creds Credentials) (*account.Account, error)

	// LoginWithToken authenticates with an access token obtained out of
	// band (web login, session restore).
	LoginWithToken(ctx context.Context, accessToken, deviceUserID string) (*account.Account, error)

	// Logout ends the authenticated session. Callers should refresh the
	// entitlement snapshot afterward regardless of the outcome.
	Logout(ctx context.Context) error

	// Connect activates the VPN proxy session. The restart flag asks the
	// backend to tear down and re-establish rather than reuse.
	Connect(ctx context.Context, restart bool) error

	// Disconnect deactivates the VPN proxy session.
	Disconnect(ctx context.Context) error

	// CheckProxy reports whether the OS proxy configuration still matches
	// the active session. Only protocol.ProxyOK is healthy.
	CheckProxy(ctx context.Context) (protocol.ProxyStatus, error)

	// UnbindDevice detaches a device, optionally reactivating another one.
	// Devices are addressed by the backend-provided identifier.
	UnbindDevice(ctx context.Context, deviceID, activeDeviceID string) error
}
