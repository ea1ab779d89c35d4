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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BindAddr != ":1883" {
		t.Errorf("Expected BindAddr :1883, got %s", cfg.BindAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.Reactor.ReadBufferSize != 4096 {
		t.Errorf("Expected ReadBufferSize 4096, got %d", cfg.Reactor.ReadBufferSize)
	}
	if cfg.Reactor.MaxFrameSize != 256*1024 {
		t.Errorf("Expected MaxFrameSize 256KiB, got %d", cfg.Reactor.MaxFrameSize)
	}
	if cfg.Reactor.PollTimeout() != time.Second {
		t.Errorf("Expected poll timeout 1s, got %v", cfg.Reactor.PollTimeout())
	}
	if cfg.Reactor.ConnectTimeout() != 10*time.Second {
		t.Errorf("Expected connect timeout 10s, got %v", cfg.Reactor.ConnectTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing bind_addr",
			modify:  func(c *Config) { c.BindAddr = "" },
			wantErr: true,
		},
		{
			name:    "read buffer too small",
			modify:  func(c *Config) { c.Reactor.ReadBufferSize = 1 },
			wantErr: true,
		},
		{
			name:    "minimum read buffer",
			modify:  func(c *Config) { c.Reactor.ReadBufferSize = 2 },
			wantErr: false,
		},
		{
			name: "frame limit below read buffer",
			modify: func(c *Config) {
				c.Reactor.ReadBufferSize = 8192
				c.Reactor.MaxFrameSize = 4096
			},
			wantErr: true,
		},
		{
			name:    "frame limit above protocol maximum",
			modify:  func(c *Config) { c.Reactor.MaxFrameSize = 268435455 + 6 },
			wantErr: true,
		},
		{
			name:    "frame limit at protocol maximum",
			modify:  func(c *Config) { c.Reactor.MaxFrameSize = 268435455 + 5 },
			wantErr: false,
		},
		{
			name:    "zero max events",
			modify:  func(c *Config) { c.Reactor.MaxEvents = 0 },
			wantErr: true,
		},
		{
			name:    "keepalive grace below one",
			modify:  func(c *Config) { c.Reactor.KeepAliveGrace = 0.5 },
			wantErr: true,
		},
		{
			name:    "auth enabled without user file",
			modify:  func(c *Config) { c.Auth.Enabled = true },
			wantErr: true,
		},
		{
			name: "websocket path without slash",
			modify: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.Path = "mqtt"
			},
			wantErr: true,
		},
		{
			name: "websocket tls cert without key",
			modify: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.TLS.CertFile = "server.crt"
			},
			wantErr: true,
		},
		{
			name: "websocket tls client ca without cert",
			modify: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.TLS.CAFile = "ca.crt"
			},
			wantErr: true,
		},
		{
			name: "websocket tls complete",
			modify: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.TLS = TLSConfig{CertFile: "server.crt", KeyFile: "server.key", CAFile: "ca.crt"}
			},
			wantErr: false,
		},
		{
			name: "metrics enabled without addr",
			modify: func(c *Config) {
				c.Observability.Metrics.Enabled = true
				c.Observability.Metrics.Addr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.json")

	configJSON := `{
		"bind_addr": ":8080",
		"log_level": "debug",
		"reactor": {"max_events": 64}
	}`

	if err := os.WriteFile(configFile, []byte(configJSON), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := &Manager{config: DefaultConfig()}
	if err := mgr.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.BindAddr != ":8080" {
		t.Errorf("Expected BindAddr :8080, got %s", cfg.BindAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel debug, got %s", cfg.LogLevel)
	}
	if cfg.Reactor.MaxEvents != 64 {
		t.Errorf("Expected MaxEvents 64, got %d", cfg.Reactor.MaxEvents)
	}
	if cfg.Reactor.ReadBufferSize != 4096 {
		t.Errorf("Unset fields should keep defaults, got ReadBufferSize %d", cfg.Reactor.ReadBufferSize)
	}
	if cfg.ConfigFile != configFile {
		t.Errorf("Expected ConfigFile %s, got %s", configFile, cfg.ConfigFile)
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "flyedge.toml")

	configTOML := `
bind_addr = ":2883"

[reactor]
read_buffer_size = 1024
keepalive_grace = 2.0

[websocket]
enabled = true
allowed_origins = ["https://example.com"]
`
	if err := os.WriteFile(configFile, []byte(configTOML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := &Manager{config: DefaultConfig()}
	if err := mgr.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.BindAddr != ":2883" {
		t.Errorf("Expected BindAddr :2883, got %s", cfg.BindAddr)
	}
	if cfg.Reactor.ReadBufferSize != 1024 {
		t.Errorf("Expected ReadBufferSize 1024, got %d", cfg.Reactor.ReadBufferSize)
	}
	if cfg.Reactor.KeepAliveGrace != 2.0 {
		t.Errorf("Expected KeepAliveGrace 2.0, got %v", cfg.Reactor.KeepAliveGrace)
	}
	if !cfg.WebSocket.Enabled || len(cfg.WebSocket.AllowedOrigins) != 1 {
		t.Errorf("Expected websocket section to load, got %+v", cfg.WebSocket)
	}
	if cfg.WebSocket.Path != "/mqtt" {
		t.Errorf("Expected default websocket path, got %s", cfg.WebSocket.Path)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	mgr := &Manager{config: DefaultConfig()}

	if err := mgr.LoadFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("bind_addr = "), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if err := mgr.LoadFromFile(bad); err == nil {
		t.Error("Expected parse error for malformed TOML")
	}
	if mgr.Get().BindAddr != ":1883" {
		t.Error("Failed load must not replace the current config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvBindAddr, ":7777")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvMaxFrameSize, "65536")
	t.Setenv(EnvKeepAliveGrace, "2.5")
	t.Setenv(EnvWebSocketEnabled, "true")
	t.Setenv(EnvWebSocketTLSCert, "/etc/flyedge/ws.crt")
	t.Setenv(EnvMetricsEnabled, "1")
	t.Setenv(EnvMaxEvents, "not-a-number")

	mgr := &Manager{config: DefaultConfig()}
	mgr.LoadFromEnv()

	cfg := mgr.Get()
	if cfg.BindAddr != ":7777" {
		t.Errorf("Expected BindAddr :7777, got %s", cfg.BindAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected LogLevel warn, got %s", cfg.LogLevel)
	}
	if cfg.Reactor.MaxFrameSize != 65536 {
		t.Errorf("Expected MaxFrameSize 65536, got %d", cfg.Reactor.MaxFrameSize)
	}
	if cfg.WebSocket.TLS.CertFile != "/etc/flyedge/ws.crt" || !cfg.WebSocket.TLS.Enabled() {
		t.Errorf("Expected websocket TLS cert from env, got %+v", cfg.WebSocket.TLS)
	}
	if cfg.Reactor.KeepAliveGrace != 2.5 {
		t.Errorf("Expected KeepAliveGrace 2.5, got %v", cfg.Reactor.KeepAliveGrace)
	}
	if !cfg.WebSocket.Enabled || !cfg.Observability.Metrics.Enabled {
		t.Error("Expected websocket and metrics to be enabled")
	}
	if cfg.Reactor.MaxEvents != 128 {
		t.Errorf("Unparseable value should be ignored, got MaxEvents %d", cfg.Reactor.MaxEvents)
	}
}

func TestManagerGetSet(t *testing.T) {
	mgr := &Manager{config: DefaultConfig()}

	cfg := mgr.Get()
	cfg.BindAddr = ":1234"
	mgr.Set(cfg)

	newCfg := mgr.Get()
	if newCfg.BindAddr != ":1234" {
		t.Errorf("Expected BindAddr :1234, got %s", newCfg.BindAddr)
	}
}

func TestGlobalManager(t *testing.T) {
	mgr := Global()
	if mgr == nil {
		t.Fatal("Expected non-nil global manager")
	}
}

func TestPortAndInstance(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port() != 1883 {
		t.Errorf("Expected port 1883, got %d", cfg.Port())
	}
	cfg.BindAddr = "[::1]:2883"
	if cfg.Port() != 2883 {
		t.Errorf("Expected port 2883, got %d", cfg.Port())
	}

	cfg.NodeID = "edge-1"
	if cfg.DiscoveryInstance() != "edge-1" {
		t.Errorf("Expected instance edge-1, got %s", cfg.DiscoveryInstance())
	}
	cfg.Discovery.Instance = "lobby"
	if cfg.DiscoveryInstance() != "lobby" {
		t.Errorf("Expected instance lobby, got %s", cfg.DiscoveryInstance())
	}
}

func TestGetAdvertiseAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdvertiseAddr = "10.0.0.5:1883"
	if cfg.GetAdvertiseAddr() != "10.0.0.5:1883" {
		t.Errorf("Explicit advertise addr should win, got %s", cfg.GetAdvertiseAddr())
	}

	cfg.AdvertiseAddr = ""
	cfg.BindAddr = "192.168.1.4:1883"
	if cfg.GetAdvertiseAddr() != "192.168.1.4:1883" {
		t.Errorf("Specific bind addr should be advertised as-is, got %s", cfg.GetAdvertiseAddr())
	}
}
