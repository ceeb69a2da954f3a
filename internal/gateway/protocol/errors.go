package protocol

// Error codes for protocol responses.
const (
	// ErrCodeInvalidRequest indicates the request was malformed.
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeInvalidCommand indicates an unknown command was sent.
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	// ErrCodeInvalidParams indicates the command parameters were invalid.
	ErrCodeInvalidParams = "INVALID_PARAMS"
	// ErrCodeAuthFailed indicates a login or token refresh was rejected.
	ErrCodeAuthFailed = "AUTH_FAILED"
	// ErrCodeConnectionFailed indicates the proxy session could not start.
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	// ErrCodeDisconnectFailed indicates the proxy session could not stop.
	ErrCodeDisconnectFailed = "DISCONNECT_FAILED"
	// ErrCodeProxyCheckFailed indicates the proxy health check itself failed.
	ErrCodeProxyCheckFailed = "PROXY_CHECK_FAILED"
	// ErrCodeDeviceNotFound indicates the named device is not bound to the
	// account.
	ErrCodeDeviceNotFound = "DEVICE_NOT_FOUND"
	// ErrCodeInternalError indicates an unexpected internal error.
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ProxyStatus is the result code of a proxy health check. Only ProxyOK means
// the OS proxy configuration still matches the active session.
type ProxyStatus string

const (
	// ProxyOK is the canonical healthy sentinel.
	ProxyOK ProxyStatus = "Ok"
	// ProxyProcessNotRunning means the proxy engine process has exited.
	ProxyProcessNotRunning ProxyStatus = "ProcessNotRunning"
	// ProxyNotEnabled means the OS proxy switch was turned off.
	ProxyNotEnabled ProxyStatus = "ProxyNotEnabled"
	// ProxyServerIncorrect means the OS proxy points at the wrong listener.
	ProxyServerIncorrect ProxyStatus = "ProxyServerIncorrect"
	// ProxyCheckError means the check itself could not be performed.
	ProxyCheckError ProxyStatus = "CheckError"
)

// Healthy reports whether the status is the canonical "Ok" sentinel.
func (s ProxyStatus) Healthy() bool {
	return s == ProxyOK
}

// Message returns the user-facing description for the status.
func (s ProxyStatus) Message() string {
	switch s {
	case ProxyOK:
		return "system proxy is running normally"
	case ProxyProcessNotRunning:
		return "proxy engine is not running, restart the application"
	case ProxyNotEnabled:
		return "system proxy is not enabled, reconnect to restore it"
	case ProxyServerIncorrect:
		return "system proxy configuration is incorrect, reconnect to restore it"
	case ProxyCheckError:
		return "proxy health check failed, check your network connection"
	default:
		return "unknown proxy status"
	}
}
