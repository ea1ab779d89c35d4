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

// Package discovery advertises the broker on the local network with mDNS
// and finds other brokers that do the same.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"flyedge/internal/logging"
)

// ServiceName is the DNS-SD service type for MQTT over TCP.
const ServiceName = "_mqtt._tcp"

// DefaultTimeout is how long Discover listens for answers.
const DefaultTimeout = 3 * time.Second

// TXT record keys.
const (
	txtNodeID    = "node_id"
	txtVersion   = "version"
	txtProtocol  = "protocol"
	txtWebSocket = "ws"
)

// ErrNoPort is returned when the advertised port is not set.
var ErrNoPort = errors.New("discovery: port is required")

// Config describes what the broker advertises.
type Config struct {
	Instance  string   // Service instance name
	NodeID    string   // Broker node identifier
	Port      int      // MQTT TCP port
	Version   string   // Broker version
	WebSocket string   // Optional "host:port/path" of the WebSocket gateway
	IPs       []net.IP // Addresses to advertise; empty lets mdns resolve the host name
}

// Node is a broker found on the network.
type Node struct {
	Instance  string `json:"instance"`
	NodeID    string `json:"node_id,omitempty"`
	Host      string `json:"host"`
	Addr      string `json:"addr"`
	Version   string `json:"version,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	WebSocket string `json:"websocket,omitempty"`
}

// Service advertises one broker instance.
type Service struct {
	config Config
	logger *logging.Logger
	server *mdns.Server
}

// NewService creates an advertiser for cfg.
func NewService(cfg Config, logger *logging.Logger) *Service {
	return &Service{config: cfg, logger: logger}
}

// txtRecords builds the TXT fields for cfg.
func txtRecords(cfg Config) []string {
	txt := []string{txtProtocol + "=mqtt311"}
	if cfg.NodeID != "" {
		txt = append(txt, txtNodeID+"="+cfg.NodeID)
	}
	if cfg.Version != "" {
		txt = append(txt, txtVersion+"="+cfg.Version)
	}
	if cfg.WebSocket != "" {
		txt = append(txt, txtWebSocket+"="+cfg.WebSocket)
	}
	return txt
}

// zone builds the mDNS zone for the configured instance.
func (s *Service) zone() (*mdns.MDNSService, error) {
	if s.config.Port <= 0 {
		return nil, ErrNoPort
	}
	instance := s.config.Instance
	if instance == "" {
		instance = s.config.NodeID
	}
	return mdns.NewMDNSService(instance, ServiceName, "", "", s.config.Port, s.config.IPs, txtRecords(s.config))
}

// Start begins answering mDNS queries.
func (s *Service) Start() error {
	zone, err := s.zone()
	if err != nil {
		return fmt.Errorf("failed to build mDNS zone: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}
	s.server = server
	s.logger.Info("Advertising via mDNS",
		"service", ServiceName,
		"instance", zone.Instance,
		"port", s.config.Port,
	)
	return nil
}

// Stop withdraws the advertisement.
func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown()
	s.server = nil
	return err
}

// Run advertises until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Discover browses for brokers until timeout elapses or ctx is cancelled.
// Results are sorted by instance name and deduplicated by address.
func Discover(ctx context.Context, timeout time.Duration) ([]*Node, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	entries := make(chan *mdns.ServiceEntry, 32)

	params := mdns.DefaultParams(ServiceName)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.QueryContext(ctx, params)
		close(entries)
	}()

	seen := make(map[string]*Node)
	for entry := range entries {
		if n := parseEntry(entry); n != nil {
			seen[n.Addr] = n
		}
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("mDNS query: %w", err)
	}

	nodes := make([]*Node, 0, len(seen))
	for _, n := range seen {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Instance != nodes[j].Instance {
			return nodes[i].Instance < nodes[j].Instance
		}
		return nodes[i].Addr < nodes[j].Addr
	})
	return nodes, nil
}

// parseEntry converts an mDNS answer into a Node. It returns nil for
// entries of other services or without a usable address.
func parseEntry(e *mdns.ServiceEntry) *Node {
	if e == nil || !strings.Contains(e.Name, ServiceName) {
		return nil
	}
	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip == nil || e.Port <= 0 {
		return nil
	}

	n := &Node{
		Instance: instanceName(e.Name),
		Host:     strings.TrimSuffix(e.Host, "."),
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
	}
	for _, field := range e.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case txtNodeID:
			n.NodeID = value
		case txtVersion:
			n.Version = value
		case txtProtocol:
			n.Protocol = value
		case txtWebSocket:
			n.WebSocket = value
		}
	}
	return n
}

// instanceName strips the service and domain from a full entry name such
// as "edge-1._mqtt._tcp.local.".
func instanceName(full string) string {
	if i := strings.Index(full, "."+ServiceName); i >= 0 {
		return strings.ReplaceAll(full[:i], "\\ ", " ")
	}
	return strings.TrimSuffix(full, ".")
}
