// Package account defines the account entitlement snapshot shared between
// the session controller, the pollers, and the UI surfaces, plus the
// per-install device identity and access-token helpers.
package account

import (
	"time"
)

// Entitlement is the account's service-eligibility state as reported by the
// backend. The zero value marks the state before the first successful fetch.
type Entitlement string

const (
	EntitlementNone       Entitlement = ""
	EntitlementTrial      Entitlement = "Trial"
	EntitlementOnService  Entitlement = "OnService"
	EntitlementTrialEnd   Entitlement = "TrialEnd"
	EntitlementServiceEnd Entitlement = "ServiceEnd"
	EntitlementNoService  Entitlement = "NoService"
)

// AllowsConnection reports whether this entitlement permits an active VPN
// session. Everything outside Trial and OnService, including the zero value,
// does not.
func (e Entitlement) AllowsConnection() bool {
	return e == EntitlementTrial || e == EntitlementOnService
}

// Known reports whether the value is one of the states the backend emits.
func (e Entitlement) Known() bool {
	switch e {
	case EntitlementTrial, EntitlementOnService, EntitlementTrialEnd,
		EntitlementServiceEnd, EntitlementNoService:
		return true
	}
	return false
}

// LoginType records how the current session was established.
type LoginType string

const (
	LoginTypeNone    LoginType = "none"
	LoginTypeAccount LoginType = "account"
	LoginTypeDevice  LoginType = "device"
	LoginTypeToken   LoginType = "token"
)

// DeviceBinding is one device attached to the account. Devices are keyed by
// the backend-provided identifier; the list order is owned by the backend.
type DeviceBinding struct {
	ID       string    `json:"deviceId"`
	Name     string    `json:"deviceName"`
	LastSeen time.Time `json:"lastOnlineTime"`
	Online   bool      `json:"online"`
}

// Account is the entitlement snapshot. It is replaced wholesale on each
// successful fetch; the JSON tags match the backend wire format.
type Account struct {
	AccessToken        string          `json:"accessToken,omitempty"`
	RefreshToken       string          `json:"refreshToken,omitempty"`
	Status             Entitlement     `json:"status"`
	ServiceExpiryDate  *time.Time      `json:"serviceExpiryDate,omitempty"`
	Username           string          `json:"username,omitempty"`
	Devices            []DeviceBinding `json:"devices,omitempty"`
	LoginType          LoginType       `json:"loginType,omitempty"`
	MaxDevicesAllowed  int             `json:"maxDevicesAllowed,omitempty"`
	CurrentPackageType string          `json:"currentPackageType,omitempty"`
	RemainingDays      int             `json:"remainingDays,omitempty"`
}

// LoggedIn reports whether the snapshot carries a usable session. A non-empty
// access token is the sole marker; entitlement status is orthogonal.
func (a *Account) LoggedIn() bool {
	return a != nil && a.AccessToken != ""
}

// FindDevice returns the binding with the given backend identifier.
func (a *Account) FindDevice(deviceID string) (DeviceBinding, bool) {
	if a == nil {
		return DeviceBinding{}, false
	}
	for _, d := range a.Devices {
		if d.ID == deviceID {
			return d, true
		}
	}
	return DeviceBinding{}, false
}

// RemoveDevice deletes the binding with the given identifier, preserving the
// order of the remaining entries. It reports whether a binding was removed.
func (a *Account) RemoveDevice(deviceID string) bool {
	if a == nil {
		return false
	}
	for i, d := range a.Devices {
		if d.ID == deviceID {
			a.Devices = append(a.Devices[:i:i], a.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Snapshots handed out by the controller are
// copies so callers can never mutate shared state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.ServiceExpiryDate != nil {
		expiry := *a.ServiceExpiryDate
		clone.ServiceExpiryDate = &expiry
	}
	if a.Devices != nil {
		clone.Devices = make([]DeviceBinding, len(a.Devices))
		copy(clone.Devices, a.Devices)
	}
	return &clone
}
