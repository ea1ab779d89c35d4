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
Package banner provides the startup banner display for flyedge.

OVERVIEW:
=========
Displays an ASCII art banner with version information when the broker or
one of the CLIs starts. Uses ANSI escape codes for colors.

USAGE:
======

	banner.PrintTo(writer)                  // Banner with version
	banner.PrintServerWithConfigTo(w, cfg)  // Broker banner with configuration

The banner text is embedded at compile time from banner.txt.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"runtime"
	"strings"

	"flyedge/internal/config"
)

//go:embed banner.txt
var bannerText string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information
const (
	Version   = "0.4.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

// PrintTo writes the banner with a title line under it.
func PrintTo(w io.Writer, title, subtitle string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+line)
	}
	fmt.Fprintln(w, AnsiReset)
	fmt.Fprintln(w, AnsiGreen+AnsiBold+"  "+title+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	if subtitle != "" {
		fmt.Fprintln(w, AnsiDim+"  "+subtitle+AnsiReset)
	}
	fmt.Fprintln(w)
}

// PrintVersionTo writes the version and copyright lines.
func PrintVersionTo(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiCyan+AnsiBold+"  "+title+AnsiReset+" "+AnsiDim+"v"+Version+AnsiReset)
	fmt.Fprintf(w, "%s  %s %s/%s%s\n", AnsiDim, runtime.Version(), runtime.GOOS, runtime.GOARCH, AnsiReset)
	fmt.Fprintln(w)
	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w, AnsiDim+"  "+License+AnsiReset)
	fmt.Fprintln(w)
}

// PrintServerWithConfigTo writes the broker banner with a configuration
// overview to w.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	PrintTo(w, "flyedge", "Edge MQTT Broker")

	printConfigSource(w, cfg)
	printCompactConfig(w, cfg)

	fmt.Fprintln(w, AnsiDim+"  "+Copyright+AnsiReset)
	fmt.Fprintln(w)

	printLogSeparator(w)
}

func printLogSeparator(w io.Writer) {
	const lineWidth = 78
	arrow := "v"
	text := " LOGS START HERE "
	padding := (lineWidth - len(text) - 4) / 2
	if padding < 0 {
		padding = 0
	}
	line := strings.Repeat("-", padding)
	fmt.Fprintf(w, "  %s%s %s%s%s %s%s\n",
		AnsiYellow, arrow+arrow+line,
		AnsiBold, text, AnsiReset+AnsiYellow,
		line+arrow+arrow, AnsiReset)
	fmt.Fprintln(w)
}

func printConfigSource(w io.Writer, cfg *config.Config) {
	fmt.Fprint(w, "  "+AnsiDim+"Config: "+AnsiReset)
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, AnsiYellow+cfg.ConfigFile+AnsiReset)
	} else {
		fmt.Fprintln(w, AnsiDim+"defaults + environment"+AnsiReset)
	}
	fmt.Fprintln(w)
}

func printCompactConfig(w io.Writer, cfg *config.Config) {
	const lineWidth = 78
	rc := cfg.Reactor

	printSectionHeader(w, "Server", lineWidth)
	printRow3(w,
		fmtKV("Listen", AnsiGreen+cfg.BindAddr+AnsiReset),
		fmtKV("Node", cfg.NodeID),
		fmtKV("Log", cfg.LogLevel))
	fmt.Fprintln(w)

	printSectionHeader(w, "Reactor", lineWidth)
	printRow3(w,
		fmtKV("Read buffer", formatBytes(int64(rc.ReadBufferSize))),
		fmtKV("Max frame", formatBytes(int64(rc.MaxFrameSize))),
		fmtKV("Queue", formatBytes(int64(rc.MaxQueuedBytes))))
	printRow3(w,
		fmtKV("Events", fmt.Sprintf("%d", rc.MaxEvents)),
		fmtKV("Poll", rc.PollTimeout().String()),
		fmtKV("Keepalive", fmt.Sprintf("x%.1f", rc.KeepAliveGrace)))
	fmt.Fprintln(w)

	printSectionHeader(w, "Security", lineWidth)
	printSecurityInfo(w, cfg)
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints", lineWidth)
	printEndpointsInfo(w, cfg)
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string, width int) {
	titleLen := len(title) + 4
	leftPad := 2
	rightPad := width - leftPad - titleLen
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s%s%s ]%s%s\n",
		AnsiDim+strings.Repeat("-", leftPad),
		AnsiReset+AnsiCyan+AnsiBold, title, AnsiReset+AnsiDim,
		strings.Repeat("-", rightPad),
		AnsiReset)
}

func fmtKV(key, value string) string {
	return fmt.Sprintf("%s%s:%s %s", AnsiDim, key, AnsiReset, value)
}

func fmtEnabled(name string, enabled bool) string {
	if enabled {
		return AnsiGreen + name + AnsiReset
	}
	return AnsiDim + name + AnsiReset
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "unlimited"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func printSecurityInfo(w io.Writer, cfg *config.Config) {
	if !cfg.Auth.Enabled {
		printRow3(w, fmtKV("Auth", AnsiYellow+"off"+AnsiReset), fmtTLS(cfg), "")
		return
	}
	anon := fmtKV("Anonymous", "denied")
	if cfg.Auth.AllowAnonymous {
		anon = fmtKV("Anonymous", AnsiYellow+"allowed"+AnsiReset)
	}
	printRow3(w, fmtEnabled("Auth", true), anon, fmtKV("Users", cfg.Auth.UserFile))
	printRow3(w, fmtTLS(cfg), "", "")
}

func fmtTLS(cfg *config.Config) string {
	t := cfg.WebSocket.TLS
	switch {
	case !cfg.WebSocket.Enabled || !t.Enabled():
		return fmtKV("TLS", AnsiDim+"off"+AnsiReset)
	case t.CAFile != "":
		return fmtKV("TLS", AnsiGreen+"wss+mTLS"+AnsiReset)
	default:
		return fmtKV("TLS", AnsiGreen+"wss"+AnsiReset)
	}
}

func printEndpointsInfo(w io.Writer, cfg *config.Config) {
	ws := fmtEnabled("WebSocket", false)
	if cfg.WebSocket.Enabled {
		scheme := "ws://"
		if cfg.WebSocket.TLS.Enabled() {
			scheme = "wss://"
		}
		ws = fmtKV("WebSocket", AnsiGreen+scheme+cfg.WebSocket.Addr+cfg.WebSocket.Path+AnsiReset)
	}
	metrics := fmtEnabled("Metrics", false)
	if cfg.Observability.Metrics.Enabled {
		metrics = fmtKV("Metrics", AnsiGreen+cfg.Observability.Metrics.Addr+AnsiReset)
	}
	mdns := fmtEnabled("mDNS", false)
	if cfg.Discovery.Enabled {
		mdns = fmtKV("mDNS", AnsiGreen+cfg.DiscoveryInstance()+AnsiReset)
	}
	printRow3(w, ws, metrics, mdns)
}
