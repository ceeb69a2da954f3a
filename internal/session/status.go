// Package session owns the connection state machine, the entitlement
// snapshot, and the periodic tasks that keep both in agreement with the
// backend.
package session

// Status represents the user-visible connection state.
type Status string

const (
	// StatusDisconnected indicates no active VPN session. Initial state.
	StatusDisconnected Status = "disconnected"
	// StatusConnected indicates the VPN session is active.
	StatusConnected Status = "connected"
	// StatusFailed indicates the last operation failed. Leaving this state
	// requires an explicit retry or an entitlement recovery.
	StatusFailed Status = "failed"
)

// IsConnected returns true if the status represents an active VPN session.
func (s Status) IsConnected() bool {
	return s == StatusConnected
}

// CanConnect returns true if a new connection can be initiated from this status.
func (s Status) CanConnect() bool {
	return s == StatusDisconnected || s == StatusFailed
}

// FailureReason explains why the status is Failed. It is cleared on any
// transition away from Failed.
type FailureReason string

const (
	// ReasonNone is carried by the non-Failed statuses.
	ReasonNone FailureReason = ""
	// ReasonEntitlementInvalid indicates a connect was refused locally
	// because the account's entitlement does not permit one.
	ReasonEntitlementInvalid FailureReason = "entitlement-invalid"
	// ReasonConnectionFailed indicates a connect or disconnect call failed
	// at the backend.
	ReasonConnectionFailed FailureReason = "connection-failed"
	// ReasonProxyError indicates the proxy health check found the system
	// proxy out of shape while connected.
	ReasonProxyError FailureReason = "proxy-error"
	// ReasonAccountChanged indicates the session was force-disconnected
	// because the entitlement was lost while connected.
	ReasonAccountChanged FailureReason = "account-changed"
)

// Message returns the stable user-facing description for the reason.
func (r FailureReason) Message() string {
	switch r {
	case ReasonEntitlementInvalid:
		return "Your account does not allow a connection"
	case ReasonConnectionFailed:
		return "Connection error"
	case ReasonProxyError:
		return "Proxy configuration error"
	case ReasonAccountChanged:
		return "Your account changed"
	default:
		return ""
	}
}

// EntitlementRelated returns true if the failure was caused by the account's
// entitlement rather than the connection itself. These failures clear
// automatically when the entitlement recovers.
func (r FailureReason) EntitlementRelated() bool {
	return r == ReasonEntitlementInvalid || r == ReasonAccountChanged
}

// AllStatuses returns all possible connection statuses.
func AllStatuses() []Status {
	return []Status{
		StatusDisconnected,
		StatusConnected,
		StatusFailed,
	}
}
