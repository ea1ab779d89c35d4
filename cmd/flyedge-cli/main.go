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
flyedge CLI - Command Line Interface.

COMMANDS:
=========

	publish, pub     Publish a message to a topic
	subscribe, sub   Print messages matching topic filters
	ping             Measure broker round trip
	health           Check broker health endpoints
	users            Manage the user database file
	acl              Manage topic ACLs in the user database file
	cert             Generate a self-signed certificate for the wss gateway

EXAMPLES:
=========

	# Publish a retained message
	flyedge-cli pub status/edge-1 online --retain

	# Follow every sensor reading
	flyedge-cli sub 'sensors/#'

	# Add a publisher account
	flyedge-cli users add alice s3cret --roles publisher --file /etc/flyedge/users.json

	# Let only sensors publish under sensors/
	flyedge-cli acl set 'sensors/#' --roles sensor --file /etc/flyedge/users.json
*/
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"flyedge/internal/auth"
	"flyedge/internal/banner"
	"flyedge/internal/crypto"
	"flyedge/internal/protocol"
	"flyedge/pkg/cli"
	"flyedge/pkg/client"
)

const (
	defaultAddr       = "localhost:1883"
	defaultHealthAddr = "localhost:9095"
)

// optionsWithValue lists every option that consumes the next argument.
var optionsWithValue = map[string]bool{
	"-a": true, "--addr": true,
	"-u": true, "--username": true,
	"-P": true, "--password": true,
	"-i": true, "--client-id": true,
	"-q": true, "--qos": true,
	"-n": true, "--count": true,
	"-k": true, "--keepalive": true,
	"--health-addr": true,
	"--file":        true,
	"--roles":       true,
	"--host":        true,
	"--days":        true,
	"--users":       true,
	"--perms":       true,
	"--ca-file":     true,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		banner.PrintVersionTo(os.Stdout, "flyedge-cli")
	case "publish", "pub":
		cmdPublish(args)
	case "subscribe", "sub":
		cmdSubscribe(args)
	case "ping":
		cmdPing(args)
	case "health":
		cmdHealth(args)
	case "users":
		cmdUsers(args)
	case "acl":
		cmdACL(args)
	case "cert":
		cmdCert(args)
	default:
		cli.ErrorWithHint("Unknown command: "+cmd, "run 'flyedge-cli help' for the command list")
		os.Exit(1)
	}
}

func printUsage() {
	banner.PrintTo(os.Stdout, "flyedge-cli", "Command Line Interface")

	fmt.Println(cli.Bold + "Usage:" + cli.Reset + " flyedge-cli <command> [arguments] [options]")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "COMMANDS" + cli.Reset)
	fmt.Println()
	fmt.Println("    " + cli.Green + "pub" + cli.Reset + " <topic> <message|->       Publish a message (- reads stdin)")
	fmt.Println("    " + cli.Green + "sub" + cli.Reset + " <filter>...               Print messages matching the filters")
	fmt.Println("    " + cli.Green + "ping" + cli.Reset + "                          Measure broker round trip")
	fmt.Println("    " + cli.Green + "health" + cli.Reset + " [live|ready]           Query the health endpoints")
	fmt.Println("    " + cli.Green + "users" + cli.Reset + " <add|list|delete|passwd|enable|disable>")
	fmt.Println("    " + cli.Green + "acl" + cli.Reset + " <list|set|delete|default>   Manage topic ACLs in the user database")
	fmt.Println("    " + cli.Green + "cert" + cli.Reset + " <dir> [--host h] [--days n]  Write a self-signed wss certificate")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "OPTIONS" + cli.Reset)
	fmt.Println()
	fmt.Println("    -a, --addr <host:port|url>   Broker address or ws(s):// gateway URL (default: localhost:1883, env FLYEDGE_ADDR)")
	fmt.Println("    -u, --username <name>        Username (env FLYEDGE_USERNAME)")
	fmt.Println("    -P, --password <secret>      Password (env FLYEDGE_PASSWORD)")
	fmt.Println("    -i, --client-id <id>         Client identifier (default: broker assigned)")
	fmt.Println("    -q, --qos <0|1>              QoS for pub and sub (default: 0)")
	fmt.Println("    -r, --retain                 Publish with the retain flag")
	fmt.Println("    -n, --count <n>              Exit sub after n messages")
	fmt.Println("    -k, --keepalive <seconds>    Keepalive interval (default: 30)")
	fmt.Println("    --tls                        Use TLS (implied by wss:// addresses)")
	fmt.Println("    --ca-file <path>             CA certificate to trust (env FLYEDGE_CA_FILE)")
	fmt.Println("    --insecure                   Skip server certificate verification")
	fmt.Println("    --health-addr <host:port>    Health endpoint (default: localhost:9095)")
	fmt.Println("    --file <path>                User database for the users command")
	fmt.Println("    --roles <a,b>                Roles for users add (default: publisher,subscriber)")
	fmt.Println()
	fmt.Println(cli.Bold + cli.Cyan + "EXAMPLES" + cli.Reset)
	fmt.Println()
	cli.Example("Publish a retained status", "flyedge-cli pub status/edge-1 online -r")
	cli.Example("Follow all sensors", "flyedge-cli sub 'sensors/#' -q 1")
	cli.Example("Subscribe through the wss gateway", "flyedge-cli sub 'sensors/#' -a wss://edge-1:8083/mqtt --ca-file certs/flyedge.crt")
	cli.Example("Create a user", "flyedge-cli users add alice s3cret --file users.json")
	fmt.Println()
}

// getOption returns the value of the first matching option, then env, then def.
func getOption(args []string, env, def string, names ...string) string {
	for i, arg := range args {
		for _, name := range names {
			if arg == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(name, "--") && strings.HasPrefix(arg, name+"=") {
				return strings.TrimPrefix(arg, name+"=")
			}
		}
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return def
}

func getIntOption(args []string, def int, names ...string) int {
	v := getOption(args, "", "", names...)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		cli.Error("Invalid value for %s: %q", names[len(names)-1], v)
		os.Exit(1)
	}
	return n
}

func hasFlag(args []string, names ...string) bool {
	for _, arg := range args {
		for _, name := range names {
			if arg == name {
				return true
			}
		}
	}
	return false
}

// positionals returns the arguments that are neither options nor option values.
func positionals(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-":
			out = append(out, arg)
		case optionsWithValue[arg]:
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			out = append(out, arg)
		}
	}
	return out
}

func connect(args []string) *client.Client {
	addr := getOption(args, "FLYEDGE_ADDR", defaultAddr, "-a", "--addr")
	opts := client.ClientOptions{
		ClientID:  getOption(args, "", "", "-i", "--client-id"),
		Username:  getOption(args, "FLYEDGE_USERNAME", "", "-u", "--username"),
		Password:  getOption(args, "FLYEDGE_PASSWORD", "", "-P", "--password"),
		KeepAlive: getIntOption(args, 30, "-k", "--keepalive"),
	}
	tlsConfig, err := clientTLS(args, addr)
	if err != nil {
		cli.ErrorWithHint(fmt.Sprintf("Invalid TLS options: %v", err), "check --ca-file")
		os.Exit(1)
	}
	opts.TLSConfig = tlsConfig

	c, err := client.NewClientWithOptions(addr, opts)
	if err != nil {
		var refused *client.ConnackError
		if errors.As(err, &refused) {
			cli.ErrorWithHint(fmt.Sprintf("Broker at %s refused the connection: %s", addr, refused.Code),
				"check --username and --password")
		} else {
			cli.ErrorWithHint(fmt.Sprintf("Failed to connect to %s: %v", addr, err),
				"is flyedge running? Try flyedge-discover to find brokers")
		}
		os.Exit(1)
	}
	return c
}

// clientTLS returns the TLS settings for addr, or nil for a plain connection.
// wss:// addresses always use TLS.
func clientTLS(args []string, addr string) (*tls.Config, error) {
	caFile := getOption(args, "FLYEDGE_CA_FILE", "", "--ca-file")
	insecure := hasFlag(args, "--insecure")
	if caFile == "" && !insecure && !hasFlag(args, "--tls") && !strings.HasPrefix(addr, "wss://") {
		return nil, nil
	}
	return crypto.NewClientTLSConfig(caFile, insecure)
}

func getQoS(args []string) byte {
	qos := getIntOption(args, 0, "-q", "--qos")
	if qos < 0 || qos > 1 {
		cli.Error("QoS must be 0 or 1")
		os.Exit(1)
	}
	return byte(qos)
}

func cmdPublish(args []string) {
	pos := positionals(args)
	if len(pos) < 2 {
		cli.Error("Usage: flyedge-cli pub <topic> <message|-> [--qos N] [--retain]")
		os.Exit(1)
	}
	topic := pos[0]
	payload := []byte(pos[1])
	if pos[1] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			cli.Error("Failed to read stdin: %v", err)
			os.Exit(1)
		}
		payload = data
	}
	qos := getQoS(args)
	retain := hasFlag(args, "-r", "--retain")

	c := connect(args)
	defer c.Disconnect()

	if err := c.Publish(topic, payload, qos, retain); err != nil {
		cli.Error("Failed to publish: %v", err)
		os.Exit(1)
	}

	detail := fmt.Sprintf("%d bytes, qos %d", len(payload), qos)
	if retain {
		detail += ", retained"
	}
	cli.Success("Published to %s (%s)", topic, detail)
}

func cmdSubscribe(args []string) {
	filters := positionals(args)
	if len(filters) == 0 {
		cli.Error("Usage: flyedge-cli sub <filter>... [--qos N] [--count N]")
		os.Exit(1)
	}
	qos := getQoS(args)
	count := getIntOption(args, 0, "-n", "--count")
	p := cli.NewPrinter(os.Stdout, os.Stderr)

	c := connect(args)
	defer c.Disconnect()

	subs := make([]client.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = client.Subscription{Filter: f, QoS: qos}
	}
	codes, err := c.Subscribe(subs...)
	if err != nil {
		cli.Error("Failed to subscribe: %v", err)
		os.Exit(1)
	}
	for i, code := range codes {
		if code == protocol.SubackFailure {
			p.Warning("Subscription to %s was rejected", filters[i])
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	received := 0
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				cli.Error("Connection closed: %v", c.Err())
				os.Exit(1)
			}
			p.Message(msg.Topic, msg.Payload, msg.Retain)
			received++
			if count > 0 && received >= count {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func cmdPing(args []string) {
	n := getIntOption(args, 3, "-n", "--count")
	c := connect(args)
	defer c.Disconnect()

	for i := 0; i < n; i++ {
		start := time.Now()
		if err := c.Ping(); err != nil {
			cli.Error("Ping failed: %v", err)
			os.Exit(1)
		}
		cli.Success("PINGRESP in %s", time.Since(start).Round(time.Microsecond))
	}
}

func cmdHealth(args []string) {
	path := "/healthz"
	if pos := positionals(args); len(pos) > 0 {
		switch pos[0] {
		case "live", "liveness", "status":
		case "ready", "readiness":
			path = "/readyz"
		default:
			cli.Error("Unknown health subcommand: %s", pos[0])
			os.Exit(1)
		}
	}
	addr := getOption(args, "FLYEDGE_HEALTH_ADDR", defaultHealthAddr, "--health-addr")

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get("http://" + addr + path)
	if err != nil {
		cli.Error("Health check failed: %v", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	cli.Header("Health Status:")
	fmt.Println(strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func cmdUsers(args []string) {
	pos := positionals(args)
	if len(pos) == 0 {
		cli.Error("Usage: flyedge-cli users <add|list|delete|passwd|enable|disable> --file <path>")
		os.Exit(1)
	}
	store, file := openUserStore(args)

	sub, rest := pos[0], pos[1:]
	var err error
	switch sub {
	case "list":
		listUsers(store)
		return
	case "add":
		if len(rest) < 2 {
			cli.Error("Usage: flyedge-cli users add <username> <password> [--roles a,b]")
			os.Exit(1)
		}
		roles := strings.Split(getOption(args, "", "publisher,subscriber", "--roles"), ",")
		err = store.CreateUser(rest[0], rest[1], roles)
	case "delete":
		err = requireName(rest, func(name string) error { return store.DeleteUser(name) })
	case "passwd":
		if len(rest) < 2 {
			cli.Error("Usage: flyedge-cli users passwd <username> <password>")
			os.Exit(1)
		}
		err = store.UpdatePassword(rest[0], rest[1])
	case "enable", "disable":
		enabled := sub == "enable"
		err = requireName(rest, func(name string) error { return store.SetUserEnabled(name, enabled) })
	default:
		cli.Error("Unknown users subcommand: %s", sub)
		os.Exit(1)
	}
	saveUserStore(store, file, "users "+sub, err)
}

// openUserStore loads the user database named by --file or the environment.
func openUserStore(args []string) (*auth.UserStore, string) {
	file := getOption(args, "FLYEDGE_AUTH_USER_FILE", "", "--file")
	if file == "" {
		cli.ErrorWithHint("No user file given", "pass --file or set FLYEDGE_AUTH_USER_FILE")
		os.Exit(1)
	}
	store := auth.NewUserStore(file)
	if err := store.Load(); err != nil {
		cli.Error("Failed to load %s: %v", file, err)
		os.Exit(1)
	}
	return store, file
}

// saveUserStore reports err, or writes store back to file.
func saveUserStore(store *auth.UserStore, file, what string, err error) {
	if err != nil {
		cli.Error("%v", err)
		os.Exit(1)
	}
	if err := store.Save(); err != nil {
		cli.Error("Failed to save %s: %v", file, err)
		os.Exit(1)
	}
	cli.Success("%s applied to %s", what, file)
}

func cmdACL(args []string) {
	pos := positionals(args)
	if len(pos) == 0 {
		cli.Error("Usage: flyedge-cli acl <list|set|delete|default> --file <path>")
		os.Exit(1)
	}
	store, file := openUserStore(args)

	sub, rest := pos[0], pos[1:]
	var err error
	switch sub {
	case "list":
		listACLs(store)
		return
	case "set":
		if len(rest) < 1 {
			cli.Error("Usage: flyedge-cli acl set <filter> [--public] [--users a,b] [--roles a,b] [--perms publish,subscribe]")
			os.Exit(1)
		}
		var acl *auth.TopicACL
		if acl, err = parseACL(rest[0], args); err == nil {
			err = store.SetTopicACL(acl)
		}
	case "delete":
		if len(rest) < 1 {
			cli.Error("Usage: flyedge-cli acl delete <filter>")
			os.Exit(1)
		}
		err = store.DeleteTopicACL(rest[0])
	case "default":
		if len(rest) < 1 || (rest[0] != "public" && rest[0] != "private") {
			cli.Error("Usage: flyedge-cli acl default <public|private>")
			os.Exit(1)
		}
		store.SetDefaultPublic(rest[0] == "public")
	default:
		cli.Error("Unknown acl subcommand: %s", sub)
		os.Exit(1)
	}
	saveUserStore(store, file, "acl "+sub, err)
}

// parseACL builds the ACL for filter from the acl set options.
func parseACL(filter string, args []string) (*auth.TopicACL, error) {
	acl := &auth.TopicACL{
		Filter:       filter,
		Public:       hasFlag(args, "--public"),
		AllowedUsers: splitList(getOption(args, "", "", "--users")),
		AllowedRoles: splitList(getOption(args, "", "", "--roles")),
	}
	for _, p := range splitList(getOption(args, "", "", "--perms")) {
		perm := auth.Permission(p)
		if perm != auth.PermissionPublish && perm != auth.PermissionSubscribe {
			return nil, fmt.Errorf("unknown permission %q (want publish or subscribe)", p)
		}
		acl.Permissions = append(acl.Permissions, perm)
	}
	return acl, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func listACLs(store *auth.UserStore) {
	def := "private"
	if store.DefaultPublic() {
		def = "public"
	}
	cli.KeyValue("Unmatched topics", def)
	acls := store.TopicACLs()
	if len(acls) == 0 {
		cli.Info("No topic ACLs defined")
		return
	}
	rows := make([][]string, 0, len(acls))
	for _, acl := range acls {
		perms := make([]string, 0, len(acl.Permissions))
		for _, p := range acl.Permissions {
			perms = append(perms, string(p))
		}
		rows = append(rows, []string{
			acl.Filter,
			strconv.FormatBool(acl.Public),
			dashIfEmpty(strings.Join(acl.AllowedUsers, ",")),
			dashIfEmpty(strings.Join(acl.AllowedRoles, ",")),
			dashIfEmpty(strings.Join(perms, ",")),
		})
	}
	cli.Table([]string{"FILTER", "PUBLIC", "USERS", "ROLES", "PERMISSIONS"}, rows)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func requireName(rest []string, fn func(string) error) error {
	if len(rest) < 1 {
		return fmt.Errorf("username required")
	}
	return fn(rest[0])
}

func listUsers(store *auth.UserStore) {
	names := store.ListUsers()
	if len(names) == 0 {
		cli.Info("No users defined")
		return
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		u, ok := store.GetUser(name)
		if !ok {
			continue
		}
		state := "enabled"
		if !u.Enabled {
			state = "disabled"
		}
		rows = append(rows, []string{u.Username, strings.Join(u.Roles, ","), state})
	}
	cli.Table([]string{"USERNAME", "ROLES", "STATE"}, rows)
}

func cmdCert(args []string) {
	pos := positionals(args)
	if len(pos) < 1 {
		cli.Error("Usage: flyedge-cli cert <dir> [--host h1,h2] [--days N]")
		os.Exit(1)
	}
	hosts := strings.Split(getOption(args, "", "localhost,127.0.0.1", "--host"), ",")
	days := getIntOption(args, 365, "--days")

	certFile, keyFile, err := crypto.GenerateSelfSigned(pos[0], time.Duration(days)*24*time.Hour, hosts...)
	if err != nil {
		cli.Error("Failed to generate certificate: %v", err)
		os.Exit(1)
	}
	cli.Success("Wrote %s and %s", certFile, keyFile)
	cli.KeyValue("websocket.tls.cert_file", certFile)
	cli.KeyValue("websocket.tls.key_file", keyFile)
}
