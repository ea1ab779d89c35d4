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

package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewChecker(t *testing.T) {
	checker := NewChecker("1.0.0")
	if checker == nil {
		t.Fatal("Expected non-nil checker")
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("test", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	response := checker.RunChecks()
	if len(response.Checks) != 1 {
		t.Errorf("Expected 1 check, got %d", len(response.Checks))
	}
	if response.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %s", response.Version)
	}
}

func TestRunChecksWithUnhealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("healthy", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("unhealthy", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "listener down"}
	})
	checker.RegisterCheck("degraded", func() CheckResult {
		return CheckResult{Status: StatusDegraded}
	})

	response := checker.RunChecks()
	if response.Status != StatusUnhealthy {
		t.Errorf("Expected status unhealthy, got %s", response.Status)
	}
}

func TestRunChecksWithDegraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("healthy", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("degraded", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "many clients"}
	})

	response := checker.RunChecks()
	if response.Status != StatusDegraded {
		t.Errorf("Expected status degraded, got %s", response.Status)
	}
}

func TestIsHealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.RegisterCheck("check", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	if !checker.IsHealthy() {
		t.Error("Expected IsHealthy to return true")
	}

	checker.RegisterCheck("bad", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})

	if checker.IsHealthy() {
		t.Error("Expected IsHealthy to return false")
	}
}

func TestListenerCheck(t *testing.T) {
	check := ListenerCheck(func() error { return nil })
	if result := check(); result.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}

	check = ListenerCheck(func() error { return errors.New("listener closed") })
	result := check()
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", result.Status)
	}
	if result.Message != "listener closed" {
		t.Errorf("Expected error message, got %q", result.Message)
	}
}

func TestConnectionsCheck(t *testing.T) {
	check := ConnectionsCheck(100, func() int64 { return 5 })
	if result := check(); result.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}

	check = ConnectionsCheck(100, func() int64 { return 101 })
	if result := check(); result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}

	check = ConnectionsCheck(0, func() int64 { return 1 << 20 })
	if result := check(); result.Status != StatusHealthy {
		t.Errorf("Zero limit disables the check, got %s", result.Status)
	}
}

func TestMemoryCheck(t *testing.T) {
	check := MemoryCheck(80.0, func() float64 { return 50.0 })
	if result := check(); result.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", result.Status)
	}

	check = MemoryCheck(80.0, func() float64 { return 90.0 })
	if result := check(); result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.RegisterCheck("listener", ListenerCheck(func() error { return nil }))

	rec := httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("Expected healthy body, got %s", resp.Status)
	}

	checker.RegisterCheck("listener", ListenerCheck(func() error { return errors.New("closed") }))
	rec = httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	checker := NewChecker("1.0.0")

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before ready, got %d", rec.Code)
	}

	checker.SetReady(true)
	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 once ready, got %d", rec.Code)
	}
}
