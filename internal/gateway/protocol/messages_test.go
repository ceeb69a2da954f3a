package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRequest tests the NewRequest constructor function.
func TestNewRequest(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		cmd    Command
		params interface{}
	}{
		{
			name:   "connect request with restart flag",
			id:     "req-001",
			cmd:    CommandConnect,
			params: ConnectParams{Restart: true},
		},
		{
			name:   "login request",
			id:     "req-002",
			cmd:    CommandLogin,
			params: LoginParams{Username: "alice", Password: "secret", DeviceID: "dev-1"},
		},
		{
			name:   "logout request with empty params",
			id:     "req-003",
			cmd:    CommandLogout,
			params: LogoutParams{},
		},
		{
			name:   "fetch request with nil params",
			id:     "req-004",
			cmd:    CommandFetchAccount,
			params: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.id, tt.cmd, tt.params)
			require.NoError(t, err)
			require.NotNil(t, req)

			assert.Equal(t, tt.id, req.ID)
			assert.Equal(t, MessageTypeRequest, req.Type)
			assert.Equal(t, tt.cmd, req.Command)
			assert.NotNil(t, req.Params)
		})
	}
}

func TestNewRequest_ParamsRoundTrip(t *testing.T) {
	params := UnbindDeviceParams{
		DeviceID:       "dev-7",
		ActiveDeviceID: "dev-1",
	}

	req, err := NewRequest("test-id", CommandUnbindDevice, params)
	require.NoError(t, err)

	var decoded UnbindDeviceParams
	require.NoError(t, json.Unmarshal(req.Params, &decoded))
	assert.Equal(t, params, decoded)
}

// TestNewSuccessResponse tests the NewSuccessResponse constructor function.
func TestNewSuccessResponse(t *testing.T) {
	resp, err := NewSuccessResponse("resp-001", CheckProxyResult{Code: ProxyOK})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "resp-001", resp.ID)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)

	var decoded CheckProxyResult
	require.NoError(t, json.Unmarshal(resp.Result, &decoded))
	assert.Equal(t, ProxyOK, decoded.Code)
}

func TestNewSuccessResponse_NilResult(t *testing.T) {
	resp, err := NewSuccessResponse("resp-002", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Result)
}

// TestNewErrorResponse tests the NewErrorResponse constructor function.
func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("err-001", ErrCodeConnectionFailed, "proxy engine refused")
	require.NotNil(t, resp)

	assert.Equal(t, "err-001", resp.ID)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Result)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConnectionFailed, resp.Error.Code)
	assert.Equal(t, "proxy engine refused", resp.Error.Message)
}

// TestNewEvent tests the NewEvent constructor function.
func TestNewEvent(t *testing.T) {
	evt, err := NewEvent(EventError, ErrorData{Message: "session dropped"})
	require.NoError(t, err)
	require.NotNil(t, evt)

	assert.Equal(t, MessageTypeEvent, evt.Type)
	assert.Equal(t, EventError, evt.Name)

	var decoded ErrorData
	require.NoError(t, json.Unmarshal(evt.Data, &decoded))
	assert.Equal(t, "session dropped", decoded.Message)
}

func TestResponse_WireRoundTrip(t *testing.T) {
	original := NewErrorResponse("resp-456", ErrCodeDeviceNotFound, "no such device")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.False(t, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, ErrCodeDeviceNotFound, decoded.Error.Code)
}

// TestCommands verifies the command constants are correct.
func TestCommands(t *testing.T) {
	assert.Equal(t, Command("fetch_account"), CommandFetchAccount)
	assert.Equal(t, Command("login"), CommandLogin)
	assert.Equal(t, Command("login_token"), CommandLoginToken)
	assert.Equal(t, Command("logout"), CommandLogout)
	assert.Equal(t, Command("connect"), CommandConnect)
	assert.Equal(t, Command("disconnect"), CommandDisconnect)
	assert.Equal(t, Command("check_proxy"), CommandCheckProxy)
	assert.Equal(t, Command("unbind_device"), CommandUnbindDevice)
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, EventName("account_changed"), EventAccountChanged)
	assert.Equal(t, EventName("error"), EventError)
}

func TestProxyStatus_Healthy(t *testing.T) {
	assert.True(t, ProxyOK.Healthy())

	for _, code := range []ProxyStatus{
		ProxyProcessNotRunning, ProxyNotEnabled,
		ProxyServerIncorrect, ProxyCheckError,
	} {
		assert.False(t, code.Healthy(), "code %q", code)
	}
}

func TestProxyStatus_Message(t *testing.T) {
	for _, code := range []ProxyStatus{
		ProxyOK, ProxyProcessNotRunning, ProxyNotEnabled,
		ProxyServerIncorrect, ProxyCheckError,
	} {
		assert.NotEmpty(t, code.Message(), "code %q", code)
		assert.NotEqual(t, "unknown proxy status", code.Message(), "code %q", code)
	}

	assert.Equal(t, "unknown proxy status", ProxyStatus("Bogus").Message())
}
