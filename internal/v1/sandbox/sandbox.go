// Package sandbox models the broker's external code-execution contract.
// The broker never runs untrusted code itself; it emits a
// code_execution_requested event and waits for an out-of-band
// code_execution_completed callback. Grounded on the pack's pluggable
// executor interface shape (a narrow Execute contract with a disabled
// default), deliberately not vendoring a container SDK: the sandbox is an
// external collaborator by spec mandate, so an HTTP boundary is the only
// shape consistent with "the broker never interprets or runs code."
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var ErrDisabled = errors.New("sandbox: code execution disabled")

// Request is what the broker sends toward the sandbox collaborator.
type Request struct {
	ExecID   string `json:"exec_id"`
	Language string `json:"language"`
	Code     string `json:"code"`
	Timeout  int    `json:"timeout"`
}

// Sandbox is the broker's sole interaction surface with the external code
// execution collaborator.
type Sandbox interface {
	// Submit asks the sandbox to run req; the terminal result arrives later
	// via a separate callback (Complete), not as this call's return value.
	Submit(ctx context.Context, req Request) error
	// Healthy reports whether the sandbox endpoint is currently reachable,
	// for the admin readiness check.
	Healthy(ctx context.Context) bool
}

// refusingSandbox is the default: CODE_EXEC_ENABLED=false means every
// submission is refused without contacting anything external.
type refusingSandbox struct{}

func NewRefusingSandbox() Sandbox { return refusingSandbox{} }

func (refusingSandbox) Submit(ctx context.Context, req Request) error { return ErrDisabled }
func (refusingSandbox) Healthy(ctx context.Context) bool              { return false }

// httpSandbox POSTs code_execution_requested to SANDBOX_ENDPOINT and is
// guarded by a circuit breaker: an unreachable sandbox must fail fast and
// surface sandbox_unavailable rather than hang the room's fan-out lane.
type httpSandbox struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

func NewHTTPSandbox(endpoint string) Sandbox {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sandbox-http",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 2
		},
	})
	return &httpSandbox{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		cb:       cb,
	}
}

func (h *httpSandbox) Submit(ctx context.Context, req Request) error {
	body, err := json.Marshal(map[string]any{
		"kind":    "code_execution_requested",
		"payload": req,
	})
	if err != nil {
		return err
	}

	_, err = h.cb.Execute(func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := h.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("sandbox: unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sandbox_unavailable: %w", err)
	}
	return nil
}

func (h *httpSandbox) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Result is what an external sandbox reports back via the
// code_execution_completed callback.
type Result struct {
	ExecID    string `json:"exec_id"`
	Status    string `json:"status"`
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ElapsedMs int64  `json:"elapsed_ms"`
}
