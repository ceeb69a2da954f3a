package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/bus"
	"github.com/easyvpn/easyvpn-client/internal/config"
	"github.com/easyvpn/easyvpn-client/internal/gateway"
	"github.com/easyvpn/easyvpn-client/internal/keyring"
	"github.com/easyvpn/easyvpn-client/internal/session"
	"github.com/easyvpn/easyvpn-client/internal/weblogin"
)

// teardownTimeout bounds the best-effort disconnect and the web login
// shutdown; teardown failures are logged and never block process exit.
const teardownTimeout = 10 * time.Second

// App wires the session controller, the periodic tasks, and the login
// surfaces together and owns their lifecycle.
type App struct {
	configManager *config.Manager
	keyringStore  keyring.Store
	identity      *account.Identity

	gatewayClient *gateway.Client
	bus           *bus.Bus
	controller    *session.Controller
	poller        *session.Poller
	monitor       *session.Monitor
	webLogin      *weblogin.Server

	subscriptions []*bus.Subscription

	// Application-level context for gateway operations
	ctx       context.Context
	ctxCancel context.CancelFunc

	quit     chan struct{}
	quitOnce sync.Once
}

// newApp loads the configuration, connects to the gateway daemon, and builds
// the component graph. Nothing starts running until Run.
func newApp(socketOverride string) (*App, error) {
	configManager, err := config.NewManager()
	if err != nil {
		return nil, err
	}

	cfg := configManager.GetConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	socketPath := cfg.GatewaySocketPath
	if socketOverride != "" {
		socketPath = socketOverride
	}

	gatewayClient, err := gateway.NewClientWithPath(socketPath)
	if err != nil {
		return nil, err
	}

	keyringStore := keyring.NewSystemKeyring()
	identity := account.NewIdentity(configManager.GetConfigDir())

	b := bus.New(nil)
	controller := session.NewController(gatewayClient, b, identity)

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		configManager: configManager,
		keyringStore:  keyringStore,
		identity:      identity,
		gatewayClient: gatewayClient,
		bus:           b,
		controller:    controller,
		poller:        session.NewPoller(controller, b, cfg.AccountPollInterval()),
		monitor:       session.NewMonitor(controller, gatewayClient, cfg.ProxyCheckInterval()),
		ctx:           ctx,
		ctxCancel:     cancel,
		quit:          make(chan struct{}),
	}

	if cfg.WebLoginEnabled {
		app.webLogin = weblogin.NewServer(controller, cfg.WebLoginPort)
	}

	return app, nil
}

// Run starts the shell and blocks until a shutdown signal or the quit command.
func (a *App) Run() error {
	a.registerCallbacks()

	// The web login receiver binds first: a port conflict usually means
	// another instance is already running.
	if a.webLogin != nil {
		if err := a.webLogin.Start(); err != nil {
			return fmt.Errorf("web login receiver: %w", err)
		}
		slog.Info("Web login receiver listening", "addr", a.webLogin.Addr())
	}

	// Restore the previous session before the poller's startup refresh so
	// the first snapshot already reflects the restored login.
	a.restoreSession()

	a.poller.Start()
	a.monitor.Start()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go a.commandLoop()

	// Wait for shutdown
	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-a.quit:
	}

	a.shutdown()
	return nil
}

// registerCallbacks attaches the shell to the controller, the gateway event
// stream, and the bus before anything starts producing.
func (a *App) registerCallbacks() {
	// Status transitions are the shell's primary output.
	a.controller.OnStatusChange(func(oldStatus, newStatus session.Status, reason session.FailureReason) {
		if reason != session.ReasonNone {
			slog.Info("Connection status changed",
				"from", oldStatus, "to", newStatus,
				"reason", reason, "message", reason.Message())
			return
		}
		slog.Info("Connection status changed", "from", oldStatus, "to", newStatus)
	})

	a.controller.OnAccountChange(func(acct *account.Account) {
		slog.Debug("Account snapshot installed",
			"username", acct.Username,
			"entitlement", acct.Status,
			"logged_in", acct.LoggedIn(),
			"devices", len(acct.Devices))
	})

	// HandleAccountPush can issue a disconnect through the same client; it
	// must not run on the client's event read loop.
	a.gatewayClient.OnAccountChanged(func(acct *account.Account) {
		go a.controller.HandleAccountPush(a.ctx, acct)
	})

	a.gatewayClient.OnError(func(err error) {
		slog.Warn("Gateway reported an error", "error", err)
	})

	// Session tokens enter the keyring on login and leave it on logout.
	a.subscriptions = append(a.subscriptions,
		a.bus.Subscribe(bus.KindLoginSuccess, func(event bus.Event) {
			a.saveSession(event.Account)
		}),
		a.bus.Subscribe(bus.KindLogoutSuccess, func(bus.Event) {
			a.clearSession()
		}),
		a.bus.Subscribe(bus.KindNavigate, func(event bus.Event) {
			slog.Info("Navigation requested", "page", event.Page)
		}),
		a.bus.Subscribe(bus.KindGoBack, func(bus.Event) {
			slog.Info("Back navigation requested")
		}),
	)
}

// restoreSession logs back in with the stored access token when
// remember-session is enabled. Failures are logged only; the poller's
// startup refresh still fetches whatever session the gateway holds.
func (a *App) restoreSession() {
	if !a.configManager.GetConfig().RememberSession {
		return
	}

	accessToken, _, err := a.keyringStore.Tokens()
	if err != nil {
		if !errors.Is(err, keyring.ErrKeyringCredentialNotFound) {
			slog.Warn("Failed to read stored session", "error", err)
		}
		return
	}

	claims, err := account.ParseToken(accessToken)
	if err != nil {
		slog.Warn("Stored session token is not decodable, clearing it", "error", err)
		a.clearSession()
		return
	}
	if claims.Expired(time.Now()) {
		slog.Info("Stored session token is expired, clearing it")
		a.clearSession()
		return
	}

	if err := a.controller.LoginWithToken(a.ctx, accessToken, ""); err != nil {
		slog.Warn("Session restore failed", "error", err)
		return
	}
	slog.Info("Session restored", "username", claims.Username)
}

func (a *App) saveSession(acct *account.Account) {
	if !a.configManager.GetConfig().RememberSession {
		return
	}
	if !acct.LoggedIn() {
		return
	}
	if err := a.keyringStore.SaveTokens(acct.AccessToken, acct.RefreshToken); err != nil {
		slog.Warn("Failed to store session tokens", "error", err)
	}
}

func (a *App) clearSession() {
	if err := a.keyringStore.Clear(); err != nil {
		slog.Warn("Failed to clear stored session tokens", "error", err)
	}
}

// commandLoop reads commands from stdin. When stdin closes the shell keeps
// running (service mode); quit and signals are the only exits.
func (a *App) commandLoop() {
	fmt.Println(`easyvpn-client ready, type "help" for commands`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if a.dispatch(fields[0], fields[1:]) {
			return
		}
	}
}

// dispatch runs a single command and reports whether the shell should quit.
func (a *App) dispatch(cmd string, args []string) bool {
	switch cmd {
	case "status":
		a.printStatus()
	case "toggle":
		a.controller.ToggleConnection(a.ctx)
		a.printStatus()
	case "retry":
		a.controller.RetryConnection(a.ctx)
		a.printStatus()
	case "login":
		if len(args) < 2 {
			fmt.Println("usage: login <username> <password>")
			return false
		}
		if err := a.controller.Login(a.ctx, args[0], args[1]); err != nil {
			fmt.Println("login failed:", err)
			return false
		}
		fmt.Println("logged in")
	case "logout":
		if err := a.controller.Logout(a.ctx); err != nil {
			fmt.Println("logout failed:", err)
			return false
		}
		fmt.Println("logged out")
	case "refresh":
		if _, err := a.controller.RefreshAccount(a.ctx); err != nil {
			fmt.Println("refresh failed:", err)
			return false
		}
		a.printAccount()
	case "account":
		a.printAccount()
	case "devices":
		a.printDevices()
	case "unbind":
		if len(args) < 1 {
			fmt.Println("usage: unbind <device-id> [active-device-id]")
			return false
		}
		activeID := ""
		if len(args) > 1 {
			activeID = args[1]
		}
		if err := a.controller.UnbindDevice(a.ctx, args[0], activeID); err != nil {
			fmt.Println("unbind failed:", err)
			return false
		}
		fmt.Println("device unbound")
	case "navigate":
		if len(args) < 1 {
			fmt.Println("usage: navigate <page>")
			return false
		}
		a.bus.Publish(bus.Navigate(args[0]))
	case "back":
		a.bus.Publish(bus.GoBack())
	case "help":
		printHelp()
	case "quit", "exit":
		a.requestQuit()
		return true
	default:
		fmt.Printf("unknown command %q, try help\n", cmd)
	}
	return false
}

func (a *App) printStatus() {
	status := a.controller.GetStatus()
	if status == session.StatusFailed {
		fmt.Printf("status: %s (%s)\n", status, a.controller.GetReason().Message())
		return
	}
	fmt.Printf("status: %s\n", status)
}

func (a *App) printAccount() {
	acct := a.controller.GetAccount()
	if acct == nil {
		fmt.Println("no account snapshot yet")
		return
	}
	fmt.Printf("username: %s\n", acct.Username)
	fmt.Printf("entitlement: %s\n", acct.Status)
	fmt.Printf("logged in: %v\n", acct.LoggedIn())
	if acct.ServiceExpiryDate != nil {
		fmt.Printf("service expires: %s\n", acct.ServiceExpiryDate.Format(time.RFC3339))
	}
	if acct.RemainingDays > 0 {
		fmt.Printf("remaining days: %d\n", acct.RemainingDays)
	}
}

func (a *App) printDevices() {
	acct := a.controller.GetAccount()
	if acct == nil || len(acct.Devices) == 0 {
		fmt.Println("no devices bound")
		return
	}
	for _, d := range acct.Devices {
		marker := " "
		if d.Online {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  last seen %s\n", marker, d.ID, d.Name, d.LastSeen.Format(time.RFC3339))
	}
}

func printHelp() {
	fmt.Println(`commands:
  status                     show connection status
  toggle                     connect or disconnect
  retry                      retry after a failure
  login <username> <password>
  logout
  refresh                    fetch a fresh account snapshot
  account                    show the account snapshot
  devices                    list bound devices
  unbind <device-id> [active-device-id]
  navigate <page>            publish a navigation signal
  back                       publish a back signal
  help
  quit`)
}

func (a *App) requestQuit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

// shutdown tears the components down in dependency order: login surfaces
// first, then the periodic tasks (loops joined before any teardown call),
// then the controller's best-effort disconnect, then the gateway connection.
func (a *App) shutdown() {
	slog.Info("Application shutting down")

	if a.webLogin != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		if err := a.webLogin.Stop(stopCtx); err != nil {
			slog.Warn("Failed to stop web login receiver", "error", err)
		}
		cancel()
	}

	a.poller.Stop()
	a.monitor.Stop()

	for _, sub := range a.subscriptions {
		sub.Cancel()
	}

	// Cancel the application context so in-flight gateway operations abort
	// instead of holding up the disconnect.
	a.ctxCancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	a.controller.Close(closeCtx)
	cancel()

	if err := a.gatewayClient.Close(); err != nil {
		slog.Warn("Failed to close gateway connection", "error", err)
	}

	slog.Info("Shutdown complete")
}
