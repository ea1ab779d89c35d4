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

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"flyedge/internal/discovery"
	"flyedge/pkg/cli"
)

var testNodes = []*discovery.Node{
	{Instance: "edge-a", NodeID: "a", Addr: "10.0.0.1:1883", Version: "0.4.0"},
	{Instance: "edge-b", Addr: "10.0.0.2:1883", WebSocket: ":8083/mqtt"},
}

func TestOutputQuiet(t *testing.T) {
	var buf bytes.Buffer
	outputQuiet(&buf, testNodes)
	if got := strings.TrimSpace(buf.String()); got != "10.0.0.1:1883,10.0.0.2:1883" {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := outputJSON(&buf, testNodes); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	var decoded []discovery.Node
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[1].WebSocket != ":8083/mqtt" {
		t.Errorf("Unexpected nodes %+v", decoded)
	}

	buf.Reset()
	if err := outputJSON(&buf, nil); err != nil {
		t.Fatalf("outputJSON: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("Expected empty array, got %q", buf.String())
	}
}

func TestOutputHuman(t *testing.T) {
	var out, errOut bytes.Buffer
	outputHuman(cli.NewPrinter(&out, &errOut), testNodes)

	output := out.String()
	if !strings.Contains(output, "Found 2 flyedge broker(s)") {
		t.Errorf("Missing summary in %q", output)
	}
	if !strings.Contains(output, "edge-b") || !strings.Contains(output, ":8083/mqtt") {
		t.Errorf("Missing node row in %q", output)
	}
}

func TestNodeRowsFillsBlanks(t *testing.T) {
	rows := nodeRows(testNodes)
	if rows[1][2] != "-" || rows[1][3] != "-" {
		t.Errorf("Expected dashes for missing fields, got %v", rows[1])
	}
	if len(rows[0]) != len(nodeHeader) {
		t.Errorf("Row width %d does not match header %d", len(rows[0]), len(nodeHeader))
	}
}
