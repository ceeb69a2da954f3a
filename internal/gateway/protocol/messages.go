// Package protocol defines the message types for communication between the
// client shell and the privileged gateway daemon.
//
// The protocol uses newline-delimited JSON (NDJSON) over a UNIX socket. Each
// message is a single JSON object terminated by a newline character. Requests
// carry client-generated UUIDs; responses correlate by id; events are
// unsolicited broadcasts.
package protocol

import (
	"encoding/json"
)

// MessageType identifies the type of message.
type MessageType string

const (
	// MessageTypeRequest is sent from client to gateway.
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse is sent from gateway to client in reply to a request.
	MessageTypeResponse MessageType = "response"
	// MessageTypeEvent is broadcast from gateway to all connected clients.
	MessageTypeEvent MessageType = "event"
)

// Command identifies the operation to perform.
type Command string

const (
	// CommandFetchAccount returns the current account entitlement snapshot.
	CommandFetchAccount Command = "fetch_account"
	// CommandLogin authenticates with username and password.
	CommandLogin Command = "login"
	// CommandLoginToken authenticates with an access token obtained out of
	// band (web login flow, session restore).
	CommandLoginToken Command = "login_token"
	// CommandLogout ends the authenticated session.
	CommandLogout Command = "logout"
	// CommandConnect activates the VPN proxy session.
	CommandConnect Command = "connect"
	// CommandDisconnect deactivates the VPN proxy session.
	CommandDisconnect Command = "disconnect"
	// CommandCheckProxy verifies the OS proxy configuration still matches
	// the active session.
	CommandCheckProxy Command = "check_proxy"
	// CommandUnbindDevice detaches a device from the account.
	CommandUnbindDevice Command = "unbind_device"
)

// EventName identifies the type of event.
type EventName string

const (
	// EventAccountChanged carries a fresh account snapshot pushed by the
	// gateway when entitlement changes outside a client request.
	EventAccountChanged EventName = "account_changed"
	// EventError indicates a gateway-side error worth surfacing.
	EventError EventName = "error"
)

// Request represents a command sent from client to gateway.
type Request struct {
	// ID is a unique identifier for correlating responses.
	ID string `json:"id"`
	// Type is always "request".
	Type MessageType `json:"type"`
	// Command is the operation to perform.
	Command Command `json:"command"`
	// Params contains command-specific parameters.
	Params json.RawMessage `json:"params"`
}

// Response represents a reply from gateway to client.
type Response struct {
	// ID matches the request ID.
	ID string `json:"id"`
	// Type is always "response".
	Type MessageType `json:"type"`
	// Success indicates whether the command succeeded.
	Success bool `json:"success"`
	// Result contains command-specific result data (if Success is true).
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details (if Success is false).
	Error *ErrorInfo `json:"error,omitempty"`
}

// Event represents an asynchronous notification from gateway to clients.
type Event struct {
	// Type is always "event".
	Type MessageType `json:"type"`
	// Name identifies the event type.
	Name EventName `json:"name"`
	// Data contains event-specific information.
	Data json.RawMessage `json:"data"`
}

// ErrorInfo contains details about an error.
type ErrorInfo struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// LoginParams contains parameters for the login command.
type LoginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// DeviceID identifies this installation so the backend can bind it.
	DeviceID string `json:"device_id,omitempty"`
	// DeviceName is the display name shown in the device list.
	DeviceName string `json:"device_name,omitempty"`
}

// LoginTokenParams contains parameters for the login_token command.
type LoginTokenParams struct {
	AccessToken string `json:"access_token"`
	// DeviceUserID optionally names the device slot to occupy.
	DeviceUserID string `json:"device_user_id,omitempty"`
}

// ConnectParams contains parameters for the connect command.
type ConnectParams struct {
	// Restart asks the gateway to tear down and re-establish the proxy
	// session instead of reusing the current one.
	Restart bool `json:"restart"`
}

// UnbindDeviceParams contains parameters for the unbind_device command.
// Devices are addressed by the backend-provided identifier.
type UnbindDeviceParams struct {
	DeviceID string `json:"device_id"`
	// ActiveDeviceID optionally names the device to reactivate after the
	// unbind completes.
	ActiveDeviceID string `json:"active_device_id,omitempty"`
}

// LogoutParams contains parameters for the logout command.
// Currently empty but defined for forward compatibility.
type LogoutParams struct{}

// CheckProxyResult contains the result of a proxy health check.
type CheckProxyResult struct {
	Code ProxyStatus `json:"code"`
}

// ErrorData contains data for error events.
type ErrorData struct {
	// Message is the error description.
	Message string `json:"message"`
}

// NewRequest creates a new request with the given command and parameters.
func NewRequest(id string, cmd Command, params interface{}) (*Request, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		ID:      id,
		Type:    MessageTypeRequest,
		Command: cmd,
		Params:  paramsJSON,
	}, nil
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result interface{}) (*Response, error) {
	var resultJSON json.RawMessage
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: true,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code string, message string) *Response {
	return &Response{
		ID:      id,
		Type:    MessageTypeResponse,
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates a new event with the given name and data.
func NewEvent(name EventName, data interface{}) (*Event, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type: MessageTypeEvent,
		Name: name,
		Data: dataJSON,
	}, nil
}
