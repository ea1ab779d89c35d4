/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
flyedge - Edge MQTT Broker - Main Entry Point.

USAGE:
======

	flyedge [options]

OPTIONS:
========

	-config string    Path to configuration file (TOML or JSON)
	-version          Show version information
	-help             Show help message

ENVIRONMENT VARIABLES:
======================

	FLYEDGE_BIND_ADDR      MQTT listen address (default: :1883)
	FLYEDGE_NODE_ID        Unique node identifier
	FLYEDGE_LOG_LEVEL      Log level: debug, info, warn, error

STARTUP SEQUENCE:
=================
1. Parse command line flags and config file
2. Initialize logging
3. Load users and build the broker
4. Bind the MQTT listener
5. Start the reactor, WebSocket gateway, metrics and mDNS advertiser
6. Wait for shutdown signal
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"flyedge/internal/auth"
	"flyedge/internal/banner"
	"flyedge/internal/broker"
	"flyedge/internal/config"
	"flyedge/internal/discovery"
	"flyedge/internal/health"
	"flyedge/internal/logging"
	"flyedge/internal/metrics"
	"flyedge/internal/reactor"
	"flyedge/internal/server/ws"
)

// Memory usage above this share of the runtime's reserved memory marks the
// node degraded.
const memoryThreshold = 90.0

func printHelp() {
	banner.PrintTo(os.Stdout, "flyedge", "Edge MQTT Broker")
	fmt.Println("\033[1;36mUsage:\033[0m")
	fmt.Println("  flyedge [options]")
	fmt.Println()
	fmt.Println("\033[1;36mOptions:\033[0m")
	fmt.Println("  -config string    Path to configuration file (TOML or JSON)")
	fmt.Println("  -log-level string Override the configured log level")
	fmt.Println("  -human-readable   Use human-readable log format instead of JSON")
	fmt.Println("  -quiet            Skip banner and config display, output logs only")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -help, -h         Show this help message")
	fmt.Println()
	fmt.Println("\033[1;36mEnvironment Variables:\033[0m")
	fmt.Println("  FLYEDGE_BIND_ADDR            MQTT listen address (default: :1883)")
	fmt.Println("  FLYEDGE_NODE_ID              Unique node identifier")
	fmt.Println("  FLYEDGE_LOG_LEVEL            Log level: debug, info, warn, error")
	fmt.Println("  FLYEDGE_LOG_JSON             Enable JSON log output")
	fmt.Println("  FLYEDGE_MAX_FRAME_SIZE       Largest accepted MQTT frame in bytes")
	fmt.Println("  FLYEDGE_AUTH_ENABLED         Require credentials (true/false)")
	fmt.Println("  FLYEDGE_AUTH_USER_FILE       Path to the user database")
	fmt.Println("  FLYEDGE_WEBSOCKET_ENABLED    Serve MQTT over WebSocket (true/false)")
	fmt.Println("  FLYEDGE_DISCOVERY_ENABLED    Advertise via mDNS (true/false)")
	fmt.Println("  FLYEDGE_METRICS_ENABLED      Serve Prometheus metrics (true/false)")
	fmt.Println()
	fmt.Println("\033[1;36mExamples:\033[0m")
	fmt.Println("  # Start with default settings")
	fmt.Println("  flyedge")
	fmt.Println()
	fmt.Println("  # Start with custom config file")
	fmt.Println("  flyedge -config /etc/flyedge/flyedge.toml")
	fmt.Println()
}

func main() {
	// Custom flag handling for help
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" || arg == "-help" || arg == "help" {
			printHelp()
			return
		}
	}

	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	humanReadable := flag.Bool("human-readable", false, "Use human-readable log format instead of JSON")
	quietMode := flag.Bool("quiet", false, "Skip banner and config display, output logs only")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		banner.PrintVersionTo(os.Stdout, "flyedge")
		return
	}

	// Load configuration first (before banner, so we can display it)
	cfgMgr := config.Global()
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if err := cfgMgr.LoadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	cfgMgr.LoadFromEnv()
	cfg := cfgMgr.Get()

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *humanReadable {
		cfg.LogJSON = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if !*quietMode {
		banner.PrintServerWithConfigTo(os.Stdout, cfg)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")

	logger.Info("Starting flyedge", "version", banner.Version, "node_id", cfg.NodeID)

	if err := run(cfg, logger); err != nil {
		logger.Error("flyedge stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Users
	var authz *auth.Authorizer
	if cfg.IsAuthEnabled() {
		store := auth.NewUserStore(cfg.Auth.UserFile)
		if err := store.Load(); err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		authz = auth.NewAuthorizer(store, true, cfg.Auth.AllowAnonymous)
		logger.Info("Authentication enabled", "users", len(store.ListUsers()),
			"allow_anonymous", cfg.Auth.AllowAnonymous)
	}

	b := broker.New(
		broker.WithAuthorizer(authz),
		broker.WithMetrics(m),
		broker.WithLogger(logging.NewLogger("broker")),
	)
	r := reactor.New(cfg, b, reactor.WithMetrics(m))
	if err := r.Listen(); err != nil {
		return err
	}
	// Run clears the address when it stops, so take it while listening.
	addr := r.Addr().String()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })

	var gateway *ws.Gateway
	if cfg.WebSocket.Enabled {
		gateway = ws.NewGateway(&cfg.WebSocket, r.Addr, logging.NewLogger("ws"))
		g.Go(func() error { return gateway.Run(ctx) })
	}

	// Observability
	var checker *health.Checker
	if cfg.Observability.Health.Enabled {
		checker = health.NewChecker(banner.Version)
		checker.RegisterCheck("listener", health.ListenerCheck(r.Listening))
		checker.RegisterCheck("connections", health.ConnectionsCheck(0, r.Clients))
		checker.RegisterCheck("memory", health.MemoryCheck(memoryThreshold, memoryUsage))
		if gateway != nil {
			checker.RegisterCheck("websocket", health.ConnectionsCheck(0, gateway.Active))
		}
	}
	if cfg.Observability.Metrics.Enabled || checker != nil {
		opsCfg := cfg.Observability.Metrics
		opsCfg.Enabled = true
		var gatherer prometheus.Gatherer
		if cfg.Observability.Metrics.Enabled {
			gatherer = reg
		}
		ops := metrics.NewServer(&opsCfg, gatherer, checker)
		g.Go(func() error { return ops.Run(ctx) })
	}

	if cfg.Discovery.Enabled {
		svc := discovery.NewService(discoveryConfig(cfg), logging.NewLogger("discovery"))
		g.Go(func() error { return svc.Run(ctx) })
	}

	if checker != nil {
		checker.SetReady(true)
		if !checker.IsHealthy() {
			logger.Warn("Started with failing health checks", "status", checker.RunChecks().Status)
		}
	}
	logger.Info("flyedge ready", "addr", addr)

	err := g.Wait()
	if checker != nil {
		checker.SetReady(false)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// discoveryConfig derives the mDNS advertisement from cfg.
func discoveryConfig(cfg *config.Config) discovery.Config {
	dc := discovery.Config{
		Instance: cfg.DiscoveryInstance(),
		NodeID:   cfg.NodeID,
		Port:     cfg.Port(),
		Version:  banner.Version,
	}
	if host, _, err := net.SplitHostPort(cfg.GetAdvertiseAddr()); err == nil {
		if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
			dc.IPs = []net.IP{ip}
		}
	}
	if cfg.WebSocket.Enabled {
		if _, port, err := net.SplitHostPort(cfg.WebSocket.Addr); err == nil {
			dc.WebSocket = ":" + port + cfg.WebSocket.Path
		}
	}
	return dc
}

func memoryUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.Sys) * 100
}
