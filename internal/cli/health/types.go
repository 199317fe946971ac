// Package health decodes the status endpoint's health responses on the
// CLI side.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response is the body of GET /health.
type Response struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		Service   string `json:"service"`
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
		UptimeSec int64  `json:"uptime_sec"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Readiness is the body of GET /health/ready.
type Readiness struct {
	Status string `json:"status"`
	Data   struct {
		EngineLatency string `json:"engine_latency"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the daemon answered "healthy".
func (r *Response) Healthy() bool { return r.Status == "healthy" }

// Fetch GETs path from the status endpoint at base and decodes the JSON
// body into v. Non-2xx bodies are still decoded so callers can show the
// error field.
func Fetch(ctx context.Context, base, path string, v any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("obexd is not reachable at %s: %w", base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}
