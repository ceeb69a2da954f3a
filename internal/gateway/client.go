package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
	"github.com/easyvpn/easyvpn-client/internal/gateway/server"
)

// DefaultTimeout bounds calls made without a caller-supplied context.
const DefaultTimeout = 30 * time.Second

// ErrGatewayNotAvailable is returned when the gateway daemon is not running.
var ErrGatewayNotAvailable = errors.New("gateway daemon not available")

// Client talks to the gateway daemon over NDJSON on a UNIX socket. Requests
// carry UUIDs; a background read loop routes responses to waiting callers and
// fans unsolicited events out to the registered callbacks.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader

	mu               sync.RWMutex
	onAccountChanged func(*account.Account)
	onError          func(error)

	// writeMu serializes NDJSON writes to prevent interleaved JSON lines
	writeMu sync.Mutex

	// Pending requests waiting for responses
	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewClient connects to the gateway daemon at the default socket path.
func NewClient() (*Client, error) {
	return NewClientWithPath(server.DefaultSocketPath)
}

// NewClientWithPath connects to the gateway daemon at the given path.
func NewClientWithPath(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayNotAvailable, err)
	}

	client := &Client{
		socketPath: socketPath,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		pending:    make(map[string]chan *protocol.Response),
		closeChan:  make(chan struct{}),
	}

	go client.readLoop()

	return client, nil
}

// IsAvailableAt checks whether a gateway daemon accepts connections at the
// given socket path.
func IsAvailableAt(socketPath string) bool {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return false
	}
	_ = conn.Close() // connectivity probe only
	return true
}

// Close closes the connection to the gateway daemon.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if c.conn != nil {
			closeErr = c.conn.Close()
		}
	})
	return closeErr
}

// OnAccountChanged registers a callback for entitlement snapshots pushed by
// the gateway outside a client request.
func (c *Client) OnAccountChanged(callback func(*account.Account)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAccountChanged = callback
}

// OnError registers a callback for gateway-side error events.
func (c *Client) OnError(callback func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// FetchAccount returns the current entitlement snapshot.
func (c *Client) FetchAccount(ctx context.Context) (*account.Account, error) {
	resp, err := c.sendRequest(ctx, protocol.CommandFetchAccount, nil)
	if err != nil {
		return nil, err
	}
	return decodeAccount(resp.Result)
}

// Login authenticates with username and password.
func (c *Client) Login(ctx context.Context, creds Credentials) (*account.Account, error) {
	params := protocol.LoginParams{
		Username:   creds.Username,
		Password:   creds.Password,
		DeviceID:   creds.DeviceID,
		DeviceName: creds.DeviceName,
	}

	resp, err := c.sendRequest(ctx, protocol.CommandLogin, params)
	if err != nil {
		return nil, err
	}
	return decodeAccount(resp.Result)
}

// LoginWithToken authenticates with an access token.
func (c *Client) LoginWithToken(ctx context.Context, accessToken, deviceUserID string) (*account.Account, error) {
	params := protocol.LoginTokenParams{
		AccessToken:  accessToken,
		DeviceUserID: deviceUserID,
	}

	resp, err := c.sendRequest(ctx, protocol.CommandLoginToken, params)
	if err != nil {
		return nil, err
	}
	return decodeAccount(resp.Result)
}

// Logout ends the authenticated session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.sendRequest(ctx, protocol.CommandLogout, protocol.LogoutParams{})
	return err
}

// Connect activates the VPN proxy session.
func (c *Client) Connect(ctx context.Context, restart bool) error {
	_, err := c.sendRequest(ctx, protocol.CommandConnect, protocol.ConnectParams{Restart: restart})
	return err
}

// Disconnect deactivates the VPN proxy session.
// If ctx is nil, a default timeout context will be used.
func (c *Client) Disconnect(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
	}

	_, err := c.sendRequest(ctx, protocol.CommandDisconnect, nil)
	return err
}

// CheckProxy reports the proxy health status code.
func (c *Client) CheckProxy(ctx context.Context) (protocol.ProxyStatus, error) {
	resp, err := c.sendRequest(ctx, protocol.CommandCheckProxy, nil)
	if err != nil {
		return "", err
	}

	var result protocol.CheckProxyResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("failed to parse proxy status: %w", err)
	}
	return result.Code, nil
}

// UnbindDevice detaches a device from the account.
func (c *Client) UnbindDevice(ctx context.Context, deviceID, activeDeviceID string) error {
	params := protocol.UnbindDeviceParams{
		DeviceID:       deviceID,
		ActiveDeviceID: activeDeviceID,
	}

	_, err := c.sendRequest(ctx, protocol.CommandUnbindDevice, params)
	return err
}

func decodeAccount(raw json.RawMessage) (*account.Account, error) {
	var snapshot account.Account
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse account snapshot: %w", err)
	}
	return &snapshot, nil
}

func (c *Client) sendRequest(ctx context.Context, cmd protocol.Command, params interface{}) (*protocol.Response, error) {
	id := uuid.New().String()

	req, err := protocol.NewRequest(id, cmd, params)
	if err != nil {
		return nil, err
	}

	// Register the response channel before the write so a fast answer
	// cannot be dropped.
	respChan := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	data, err := json.Marshal(req)
	if err != nil {
		c.writeMu.Unlock()
		return nil, err
	}
	data = append(data, '\n')

	_, writeErr := c.conn.Write(data)
	c.writeMu.Unlock()

	if writeErr != nil {
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		if !resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, errors.New("request failed with unknown error")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeChan:
		return nil, errors.New("client closed")
	}
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				slog.Error("Read error from gateway", "error", err)
			}
			return
		}

		c.handleMessage(line)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type protocol.MessageType `json:"type"`
		ID   string               `json:"id,omitempty"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Invalid message from gateway", "error", err)
		return
	}

	switch msg.Type {
	case protocol.MessageTypeResponse:
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("Invalid response from gateway", "error", err)
			return
		}
		c.handleResponse(&resp)

	case protocol.MessageTypeEvent:
		var event protocol.Event
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Warn("Invalid event from gateway", "error", err)
			return
		}
		c.handleEvent(&event)

	default:
		// Unknown message types are logged for forward compatibility
		truncated := string(data)
		if len(truncated) > 200 {
			truncated = truncated[:200] + "..."
		}
		slog.Warn("Unknown message type from gateway",
			"type", msg.Type,
			"data", truncated)
	}
}

func (c *Client) handleResponse(resp *protocol.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Client) handleEvent(event *protocol.Event) {
	switch event.Name {
	case protocol.EventAccountChanged:
		var snapshot account.Account
		if err := json.Unmarshal(event.Data, &snapshot); err != nil {
			slog.Warn("Invalid account change event", "error", err)
			return
		}
		c.mu.RLock()
		callback := c.onAccountChanged
		c.mu.RUnlock()

		if callback != nil {
			callback(&snapshot)
		}

	case protocol.EventError:
		var data protocol.ErrorData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			slog.Warn("Invalid error event", "error", err)
			return
		}
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(errors.New(data.Message))
		}
	}
}

// Ensure Client implements the Gateway interface.
var _ Gateway = (*Client)(nil)
