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
Package health provides health checking for flyedge.

CHECKS:
=======
Each check is a named function returning a CheckResult. The overall status
is the worst individual status: any unhealthy check makes the node
unhealthy, otherwise any degraded check makes it degraded.

ENDPOINTS:
==========
- /healthz: liveness. 200 unless a check reports unhealthy.
- /readyz: readiness. 200 once the node is marked ready and healthy.

Both endpoints return the JSON Response body.
*/
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the health of a single check or of the node.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// CheckFunc performs a single health check.
type CheckFunc func() CheckResult

// Response is the aggregated health report.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker runs registered checks.
type Checker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	version   string
	startTime time.Time
	ready     atomic.Bool
}

// NewChecker creates a checker reporting the given version.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces a named check.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	c.checks[name] = fn
	c.mu.Unlock()
}

// SetReady marks the node ready or not ready to take traffic.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// RunChecks executes every registered check.
func (c *Checker) RunChecks() Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := checks[name]()
		result.Duration = time.Since(start)
		resp.Checks[name] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}

	return resp
}

// IsHealthy reports whether every check passes.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status == StatusHealthy
}

// LivenessHandler serves /healthz.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.RunChecks()
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// ReadinessHandler serves /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.RunChecks()
		code := http.StatusOK
		if !c.ready.Load() || resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenerCheck reports unhealthy while listening returns an error.
func ListenerCheck(listening func() error) CheckFunc {
	return func() CheckResult {
		if err := listening(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// ConnectionsCheck reports degraded once active connections exceed limit.
func ConnectionsCheck(limit int64, active func() int64) CheckFunc {
	return func() CheckResult {
		n := active()
		if limit > 0 && n > limit {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d active connections exceeds %d", n, limit),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d active connections", n)}
	}
}

// MemoryCheck reports degraded when usage (percent) exceeds threshold.
func MemoryCheck(threshold float64, usage func() float64) CheckFunc {
	return func() CheckResult {
		u := usage()
		if u > threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("memory usage %.1f%% above %.1f%%", u, threshold),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
