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
Package config provides configuration management for flyedge.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (FLYEDGE_* prefix)
3. Configuration file (JSON or TOML, chosen by file extension)
4. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- Network: bind_addr, advertise_addr, node_id
- Reactor: read buffer, frame limit, event batch, poll timeout, keepalive
- Security: auth user file, anonymous access
- Logging: log_level, log_json
- Edges: websocket gateway, mDNS discovery
- Observability: metrics, health

EXAMPLE CONFIGURATION FILE:
===========================

	bind_addr = ":1883"
	log_level = "info"

	[reactor]
	read_buffer_size = 4096
	max_frame_size = 262144

	[websocket]
	enabled = true
	addr = ":8083"

ENVIRONMENT VARIABLES:
======================
All settings can be configured via environment variables with FLYEDGE_ prefix.
Example: FLYEDGE_BIND_ADDR=":1883" FLYEDGE_LOG_LEVEL="debug"
*/
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names
const (
	EnvBindAddr      = "FLYEDGE_BIND_ADDR"
	EnvAdvertiseAddr = "FLYEDGE_ADVERTISE_ADDR"
	EnvNodeID        = "FLYEDGE_NODE_ID"
	EnvLogLevel      = "FLYEDGE_LOG_LEVEL"
	EnvLogJSON       = "FLYEDGE_LOG_JSON"

	// Reactor configuration
	EnvReadBufferSize = "FLYEDGE_READ_BUFFER_SIZE"
	EnvMaxFrameSize   = "FLYEDGE_MAX_FRAME_SIZE"
	EnvMaxEvents      = "FLYEDGE_MAX_EVENTS"
	EnvPollTimeoutMs  = "FLYEDGE_POLL_TIMEOUT_MS"
	EnvConnectTimeout = "FLYEDGE_CONNECT_TIMEOUT"
	EnvKeepAliveGrace = "FLYEDGE_KEEPALIVE_GRACE"
	EnvMaxQueuedBytes = "FLYEDGE_MAX_QUEUED_BYTES"

	// Authentication configuration
	EnvAuthEnabled        = "FLYEDGE_AUTH_ENABLED"
	EnvAuthUserFile       = "FLYEDGE_AUTH_USER_FILE"
	EnvAuthAllowAnonymous = "FLYEDGE_AUTH_ALLOW_ANONYMOUS"

	// Edges
	EnvWebSocketEnabled  = "FLYEDGE_WEBSOCKET_ENABLED"
	EnvWebSocketAddr     = "FLYEDGE_WEBSOCKET_ADDR"
	EnvWebSocketPath     = "FLYEDGE_WEBSOCKET_PATH"
	EnvWebSocketTLSCert  = "FLYEDGE_WEBSOCKET_TLS_CERT_FILE"
	EnvWebSocketTLSKey   = "FLYEDGE_WEBSOCKET_TLS_KEY_FILE"
	EnvWebSocketTLSCA    = "FLYEDGE_WEBSOCKET_TLS_CA_FILE"
	EnvDiscoveryEnabled  = "FLYEDGE_DISCOVERY_ENABLED"
	EnvDiscoveryInstance = "FLYEDGE_DISCOVERY_INSTANCE"

	// Observability configuration
	EnvMetricsEnabled = "FLYEDGE_METRICS_ENABLED"
	EnvMetricsAddr    = "FLYEDGE_METRICS_ADDR"
	EnvHealthEnabled  = "FLYEDGE_HEALTH_ENABLED"
)

// Protocol limits the reactor settings are validated against.
const (
	minReadBufferSize = 2
	maxFrameSizeLimit = 268435455 + 5
)

// Default paths
var DefaultConfigPaths = []string{
	"/etc/flyedge/flyedge.toml",
	"$HOME/.config/flyedge/flyedge.toml",
	"./flyedge.toml",
}

// ReactorConfig tunes the connection reactor.
type ReactorConfig struct {
	ReadBufferSize    int     `toml:"read_buffer_size" json:"read_buffer_size"`       // Initial per-connection read buffer
	MaxFrameSize      int     `toml:"max_frame_size" json:"max_frame_size"`           // Largest accepted frame, header included
	MaxEvents         int     `toml:"max_events" json:"max_events"`                   // Readiness events per poll
	PollTimeoutMs     int     `toml:"poll_timeout_ms" json:"poll_timeout_ms"`         // Poll timeout; bounds keepalive sweep latency
	ConnectTimeoutSec int     `toml:"connect_timeout_sec" json:"connect_timeout_sec"` // Time allowed between accept and CONNECT
	KeepAliveGrace    float64 `toml:"keepalive_grace" json:"keepalive_grace"`         // Multiplier applied to the client keepalive
	MaxQueuedBytes    int     `toml:"max_queued_bytes" json:"max_queued_bytes"`       // Outbound bytes buffered per connection
}

// PollTimeout returns the poll timeout as a duration.
func (r ReactorConfig) PollTimeout() time.Duration {
	return time.Duration(r.PollTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the CONNECT deadline as a duration.
func (r ReactorConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutSec) * time.Second
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled        bool   `toml:"enabled" json:"enabled"`                 // Require credentials on CONNECT
	AllowAnonymous bool   `toml:"allow_anonymous" json:"allow_anonymous"` // Accept CONNECT without a username
	UserFile       string `toml:"user_file" json:"user_file"`             // Path to user database file
}

// TLSConfig holds certificate paths for a TLS listener.
type TLSConfig struct {
	CertFile string `toml:"cert_file" json:"cert_file"` // PEM server certificate
	KeyFile  string `toml:"key_file" json:"key_file"`   // PEM private key
	CAFile   string `toml:"ca_file" json:"ca_file"`     // Require client certificates signed by this CA
}

// Enabled reports whether a certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != ""
}

// WebSocketConfig holds the MQTT-over-WebSocket gateway configuration.
type WebSocketConfig struct {
	Enabled        bool      `toml:"enabled" json:"enabled"`
	Addr           string    `toml:"addr" json:"addr"`
	Path           string    `toml:"path" json:"path"`
	AllowedOrigins []string  `toml:"allowed_origins" json:"allowed_origins"` // Empty allows any origin
	TLS            TLSConfig `toml:"tls" json:"tls"`                         // Serve wss:// when a certificate is set
}

// DiscoveryConfig holds configuration for mDNS service discovery.
type DiscoveryConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`   // Enable mDNS service discovery
	Instance string `toml:"instance" json:"instance"` // Advertised instance name (defaults to node_id)
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"` // Enable Prometheus metrics
	Addr    string `toml:"addr" json:"addr"`       // Metrics HTTP server address
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"` // Serve /healthz and /readyz on the metrics address
}

// ObservabilityConfig holds all observability-related configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	Health  HealthConfig  `toml:"health" json:"health"`
}

// Config holds the configuration for flyedge.
type Config struct {
	// Network
	BindAddr      string `toml:"bind_addr" json:"bind_addr"`           // Address to listen for MQTT clients
	AdvertiseAddr string `toml:"advertise_addr" json:"advertise_addr"` // Advertised address (auto-detected if empty)
	NodeID        string `toml:"node_id" json:"node_id"`               // Unique node identifier

	// Logging
	LogLevel string `toml:"log_level" json:"log_level"`
	LogJSON  bool   `toml:"log_json" json:"log_json"`

	Reactor       ReactorConfig       `toml:"reactor" json:"reactor"`
	Auth          AuthConfig          `toml:"auth" json:"auth"`
	WebSocket     WebSocketConfig     `toml:"websocket" json:"websocket"`
	Discovery     DiscoveryConfig     `toml:"discovery" json:"discovery"`
	Observability ObservabilityConfig `toml:"observability" json:"observability"`

	// Metadata
	ConfigFile string `toml:"-" json:"-"`
}

// DefaultConfig returns defaults.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		BindAddr: ":1883",
		NodeID:   hostname,
		LogLevel: "info",
		Reactor: ReactorConfig{
			ReadBufferSize:    4096,
			MaxFrameSize:      256 * 1024,
			MaxEvents:         128,
			PollTimeoutMs:     1000,
			ConnectTimeoutSec: 10,
			KeepAliveGrace:    1.5,
			MaxQueuedBytes:    8 * 1024 * 1024,
		},
		Auth: AuthConfig{
			AllowAnonymous: true,
		},
		WebSocket: WebSocketConfig{
			Addr: ":8083",
			Path: "/mqtt",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Addr: ":9095",
			},
			Health: HealthConfig{
				Enabled: true,
			},
		},
	}
}

// Manager manages configuration.
type Manager struct {
	mu     sync.RWMutex
	config *Config
}

var globalManager = &Manager{
	config: DefaultConfig(),
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	cfg.WebSocket.AllowedOrigins = append([]string(nil), m.config.WebSocket.AllowedOrigins...)
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a TOML or JSON file. Files ending in
// .toml are decoded as TOML, anything else as JSON.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".conf":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first existing file from DefaultConfigPaths,
// or the empty string when none exists.
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		p = os.ExpandEnv(p)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables.
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvBindAddr); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv(EnvAdvertiseAddr); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = parseBool(v)
	}

	envInt(EnvReadBufferSize, &cfg.Reactor.ReadBufferSize)
	envInt(EnvMaxFrameSize, &cfg.Reactor.MaxFrameSize)
	envInt(EnvMaxEvents, &cfg.Reactor.MaxEvents)
	envInt(EnvPollTimeoutMs, &cfg.Reactor.PollTimeoutMs)
	envInt(EnvConnectTimeout, &cfg.Reactor.ConnectTimeoutSec)
	envInt(EnvMaxQueuedBytes, &cfg.Reactor.MaxQueuedBytes)
	if v := os.Getenv(EnvKeepAliveGrace); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Reactor.KeepAliveGrace = f
		}
	}

	if v := os.Getenv(EnvAuthEnabled); v != "" {
		cfg.Auth.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvAuthUserFile); v != "" {
		cfg.Auth.UserFile = v
	}
	if v := os.Getenv(EnvAuthAllowAnonymous); v != "" {
		cfg.Auth.AllowAnonymous = parseBool(v)
	}

	if v := os.Getenv(EnvWebSocketEnabled); v != "" {
		cfg.WebSocket.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvWebSocketAddr); v != "" {
		cfg.WebSocket.Addr = v
	}
	if v := os.Getenv(EnvWebSocketPath); v != "" {
		cfg.WebSocket.Path = v
	}
	if v := os.Getenv(EnvWebSocketTLSCert); v != "" {
		cfg.WebSocket.TLS.CertFile = v
	}
	if v := os.Getenv(EnvWebSocketTLSKey); v != "" {
		cfg.WebSocket.TLS.KeyFile = v
	}
	if v := os.Getenv(EnvWebSocketTLSCA); v != "" {
		cfg.WebSocket.TLS.CAFile = v
	}
	if v := os.Getenv(EnvDiscoveryEnabled); v != "" {
		cfg.Discovery.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvDiscoveryInstance); v != "" {
		cfg.Discovery.Instance = v
	}

	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Observability.Metrics.Addr = v
	}
	if v := os.Getenv(EnvHealthEnabled); v != "" {
		cfg.Observability.Health.Enabled = parseBool(v)
	}

	m.Set(cfg)
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr is required")
	}

	r := c.Reactor
	if r.ReadBufferSize < minReadBufferSize {
		return fmt.Errorf("reactor.read_buffer_size must be at least %d", minReadBufferSize)
	}
	if r.MaxFrameSize < r.ReadBufferSize {
		return fmt.Errorf("reactor.max_frame_size (%d) must not be smaller than read_buffer_size (%d)",
			r.MaxFrameSize, r.ReadBufferSize)
	}
	if r.MaxFrameSize > maxFrameSizeLimit {
		return fmt.Errorf("reactor.max_frame_size must not exceed %d", maxFrameSizeLimit)
	}
	if r.MaxEvents < 1 {
		return fmt.Errorf("reactor.max_events must be positive")
	}
	if r.PollTimeoutMs <= 0 {
		return fmt.Errorf("reactor.poll_timeout_ms must be positive")
	}
	if r.ConnectTimeoutSec < 0 {
		return fmt.Errorf("reactor.connect_timeout_sec must be non-negative")
	}
	if r.KeepAliveGrace < 1 {
		return fmt.Errorf("reactor.keepalive_grace must be at least 1.0")
	}
	if r.MaxQueuedBytes <= 0 {
		return fmt.Errorf("reactor.max_queued_bytes must be positive")
	}

	if c.Auth.Enabled && c.Auth.UserFile == "" {
		return fmt.Errorf("auth.user_file is required when auth is enabled")
	}

	if c.WebSocket.Enabled {
		if c.WebSocket.Addr == "" {
			return fmt.Errorf("websocket.addr is required when the gateway is enabled")
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path must start with '/'")
		}
		if tls := c.WebSocket.TLS; (tls.CertFile == "") != (tls.KeyFile == "") {
			return fmt.Errorf("websocket.tls needs both cert_file and key_file")
		}
		if tls := c.WebSocket.TLS; tls.CAFile != "" && !tls.Enabled() {
			return fmt.Errorf("websocket.tls.ca_file requires a server certificate")
		}
	}

	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Addr == "" {
		return fmt.Errorf("observability.metrics.addr is required when metrics are enabled")
	}

	return nil
}

// IsAuthEnabled returns true if CONNECT credentials are checked.
func (c *Config) IsAuthEnabled() bool {
	return c.Auth.Enabled
}

// DiscoveryInstance returns the mDNS instance name.
func (c *Config) DiscoveryInstance() string {
	if c.Discovery.Instance != "" {
		return c.Discovery.Instance
	}
	if c.NodeID != "" {
		return c.NodeID
	}
	return "flyedge"
}

// GetAdvertiseAddr returns the advertise address for client connections.
// If not explicitly set, it returns the bind address.
// If bind address is 0.0.0.0 or ::, it attempts to detect the local IP.
func (c *Config) GetAdvertiseAddr() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return resolveAdvertiseAddr(c.BindAddr)
}

// Port returns the numeric port of BindAddr, or 0 when it has none.
func (c *Config) Port() int {
	_, port, err := splitHostPort(c.BindAddr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// resolveAdvertiseAddr resolves an address to an advertisable address.
func resolveAdvertiseAddr(addr string) string {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return addr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		if localIP := detectLocalIP(); localIP != "" {
			return net.JoinHostPort(localIP, port)
		}
	}

	return addr
}

// splitHostPort splits an address into host and port.
// Handles addresses like ":1883", "0.0.0.0:1883", "[::]:1883"
func splitHostPort(addr string) (host, port string, err error) {
	if strings.HasPrefix(addr, "[") {
		end := strings.Index(addr, "]")
		if end == -1 {
			return "", "", fmt.Errorf("invalid address: %s", addr)
		}
		host = addr[1:end]
		if len(addr) > end+1 && addr[end+1] == ':' {
			port = addr[end+2:]
		}
		return host, port, nil
	}

	lastColon := strings.LastIndex(addr, ":")
	if lastColon == -1 {
		return addr, "", nil
	}
	if lastColon == 0 {
		return "", addr[1:], nil
	}
	return addr[:lastColon], addr[lastColon+1:], nil
}

// detectLocalIP returns the first non-loopback IPv4 address of an up interface.
func detectLocalIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}

	return ""
}
