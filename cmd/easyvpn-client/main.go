// Package main provides the entry point for the easyvpn-client shell.
// easyvpn-client is a headless VPN client: it tracks connection status and
// account entitlement against the gateway daemon, receives browser-initiated
// logins on a local port, and takes commands on stdin.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/easyvpn/easyvpn-client/internal/logging"
)

var (
	version = "dev"
)

func main() {
	// Parse command line flags
	socketPath := flag.String("socket", "", "Gateway socket path (overrides the configured value)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("easyvpn-client %s\n", version)
		os.Exit(0)
	}

	// Initialize structured logging
	logging.SetupFromEnv()

	app, err := newApp(*socketPath)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}
