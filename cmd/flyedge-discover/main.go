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
flyedge-discover - flyedge Broker Discovery Tool

This tool finds flyedge brokers on the local network using mDNS (Bonjour/Avahi).

Usage:

	flyedge-discover                    # Discover brokers (3 second timeout)
	flyedge-discover --timeout 10       # Custom timeout in seconds
	flyedge-discover --json             # Output as JSON
	flyedge-discover --quiet            # Only output addresses (for scripting)
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"flyedge/internal/banner"
	"flyedge/internal/discovery"
	"flyedge/pkg/cli"
)

func main() {
	timeout := flag.Int("timeout", int(discovery.DefaultTimeout/time.Second), "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output broker addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	version := flag.Bool("version", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output broker addresses (for scripting)")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(version, "v", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *version {
		banner.PrintVersionTo(os.Stdout, "flyedge-discover")
		os.Exit(0)
	}

	// The mdns package logs IPv6 socket errors that are not fatal.
	log.SetOutput(io.Discard)

	p := cli.NewPrinter(os.Stdout, os.Stderr)
	human := !*quiet && !*jsonOutput
	if human {
		banner.PrintTo(os.Stdout, "flyedge discover", "Network Broker Discovery Tool")
		p.Info("Scanning for flyedge brokers on the network (timeout: %ds)...", *timeout)
		fmt.Println()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nodes, err := discovery.Discover(ctx, time.Duration(*timeout)*time.Second)
	if err != nil {
		if !*quiet {
			p.Error("Discovery failed: %v", err)
		}
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		if err := outputJSON(os.Stdout, nodes); err != nil {
			p.Error("Failed to encode nodes: %v", err)
			os.Exit(1)
		}
	case *quiet:
		outputQuiet(os.Stdout, nodes)
	case len(nodes) == 0:
		printTroubleshooting(p)
	default:
		outputHuman(p, nodes)
	}
}

func printUsage() {
	banner.PrintTo(os.Stdout, "flyedge discover", "Network Broker Discovery Tool")

	fmt.Println(cli.Bold + "Usage:" + cli.Reset + " flyedge-discover [options]")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "OPTIONS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Green + "--timeout" + cli.Reset + " <seconds>   Discovery timeout (default: 3)")
	fmt.Println("    " + cli.Green + "--json" + cli.Reset + "               Output results as JSON")
	fmt.Println("    " + cli.Green + "--quiet" + cli.Reset + ", " + cli.Green + "-q" + cli.Reset + "          Only output addresses (for scripting)")
	fmt.Println("    " + cli.Green + "--version" + cli.Reset + ", " + cli.Green + "-v" + cli.Reset + "        Show version information")
	fmt.Println("    " + cli.Green + "--help" + cli.Reset + ", " + cli.Green + "-h" + cli.Reset + "           Show this help message")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "EXAMPLES" + cli.Reset)
	fmt.Println()
	cli.Example("Discover brokers with default timeout", "flyedge-discover")
	cli.Example("Point a client at the first broker found", "flyedge-cli -addr $(flyedge-discover -q | cut -d, -f1) sub '#'")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "NETWORK REQUIREMENTS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " mDNS uses UDP port 5353 (multicast)")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Brokers must be on the same network segment")
	fmt.Println()
}

func printTroubleshooting(p *cli.Printer) {
	p.Warning("No flyedge brokers found on the network.")
	fmt.Println()
	p.Header("TROUBLESHOOTING")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Brokers are not running with discovery enabled")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " mDNS is blocked by a firewall (UDP port 5353)")
	fmt.Println("    " + cli.Yellow + "•" + cli.Reset + " Brokers are on a different network segment")
	fmt.Println()
	p.Example("Increase timeout", "flyedge-discover --timeout 10")
}

func outputJSON(w io.Writer, nodes []*discovery.Node) error {
	if nodes == nil {
		nodes = []*discovery.Node{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(nodes)
}

func outputQuiet(w io.Writer, nodes []*discovery.Node) {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.Addr
	}
	fmt.Fprintln(w, strings.Join(addrs, ","))
}

func outputHuman(p *cli.Printer, nodes []*discovery.Node) {
	p.Success("Found %d flyedge broker(s)", len(nodes))
	p.Table(nodeHeader, nodeRows(nodes))
}

var nodeHeader = []string{"INSTANCE", "ADDRESS", "NODE", "VERSION", "WEBSOCKET"}

func nodeRows(nodes []*discovery.Node) [][]string {
	rows := make([][]string, len(nodes))
	for i, n := range nodes {
		rows[i] = []string{n.Instance, n.Addr, dash(n.NodeID), dash(n.Version), dash(n.WebSocket)}
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
