// Package main provides the entry point for the easyvpn-gateway daemon.
//
// The daemon serves the gateway wire protocol on a UNIX socket from a
// scripted in-memory backend. It exists for local development and client
// integration testing: the account it reports, the proxy health it answers,
// and the failures it injects are all set from the command line.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/easyvpn/easyvpn-client/internal/account"
	"github.com/easyvpn/easyvpn-client/internal/gateway/protocol"
	"github.com/easyvpn/easyvpn-client/internal/gateway/server"
	"github.com/easyvpn/easyvpn-client/internal/gateway/stub"
	"github.com/easyvpn/easyvpn-client/internal/logging"
)

var (
	version = "dev"
)

func main() {
	// Parse command line flags
	socketPath := flag.String("socket", server.DefaultSocketPath, "Path to the UNIX socket")
	socketGroup := flag.String("group", server.DefaultSocketGroup, "Group granted access to the socket")
	username := flag.String("username", stub.DefaultOptions().Username, "Username the stub account reports")
	entitlement := flag.String("entitlement", string(stub.DefaultOptions().Entitlement), "Initial entitlement status (Trial, OnService, TrialEnd, ServiceEnd, NoService)")
	proxyStatus := flag.String("proxy-status", string(protocol.ProxyOK), "Proxy status reported while connected (Ok, ProcessNotRunning, ProxyNotEnabled, ProxyServerIncorrect, CheckError)")
	failConnect := flag.Bool("fail-connect", false, "Reject connect requests")
	failDisconnect := flag.Bool("fail-disconnect", false, "Reject disconnect requests")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("easyvpn-gateway %s\n", version)
		os.Exit(0)
	}

	// Configure structured logging
	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logging.SetupJSON(level)

	slog.Info("Starting easyvpn-gateway", "version", version, "socket", *socketPath)

	opts := stub.Options{
		Username:       *username,
		Entitlement:    account.Entitlement(*entitlement),
		ProxyStatus:    protocol.ProxyStatus(*proxyStatus),
		FailConnect:    *failConnect,
		FailDisconnect: *failDisconnect,
	}
	if !opts.Entitlement.Known() {
		slog.Error("Unknown entitlement status", "entitlement", *entitlement)
		os.Exit(1)
	}
	if !validProxyStatus(opts.ProxyStatus) {
		slog.Error("Unknown proxy status", "proxy-status", *proxyStatus)
		os.Exit(1)
	}

	// Create thread-safe broadcaster to avoid race condition during initialization
	broadcaster := &safeBroadcaster{}

	// Create backend and server
	backend := stub.NewBackend(opts, broadcaster.Broadcast)
	srv := server.NewServerWithGroup(*socketPath, *socketGroup, backend.HandleRequest)

	// Now that server is created, set it in the broadcaster
	broadcaster.SetServer(srv)

	// Start server
	if err := srv.Start(); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	slog.Info("Received shutdown signal", "signal", sig)

	// Graceful shutdown
	if err := srv.Stop(); err != nil {
		slog.Warn("Failed to stop server cleanly", "error", err)
	}

	slog.Info("Shutdown complete")
}

func validProxyStatus(s protocol.ProxyStatus) bool {
	switch s {
	case protocol.ProxyOK, protocol.ProxyProcessNotRunning, protocol.ProxyNotEnabled,
		protocol.ProxyServerIncorrect, protocol.ProxyCheckError:
		return true
	}
	return false
}

// safeBroadcaster provides thread-safe event broadcasting to clients.
// This avoids a race condition during initialization where the server
// might not be set yet when events are broadcast.
type safeBroadcaster struct {
	mu  sync.RWMutex
	srv *server.Server
}

// SetServer sets the server for broadcasting.
func (b *safeBroadcaster) SetServer(srv *server.Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srv = srv
}

// Broadcast sends an event to all connected clients.
func (b *safeBroadcaster) Broadcast(event *protocol.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.srv != nil {
		b.srv.Broadcast(event)
	}
}
