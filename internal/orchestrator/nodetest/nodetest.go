// Package nodetest provides an in-process fake orchestrator fleet for tests.
package nodetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Counters are the pending operations reported for one chain.
type Counters struct {
	WrapsToSign   int `json:"wrapsToSign"`
	UnwrapsToSign int `json:"unwrapsToSign"`
}

// Behavior describes how a fake node answers.
type Behavior struct {
	PillarName    string
	Producer      string
	State         int
	OmitState     bool
	Networks      map[string]Counters
	IdentityError string
	StatusError   string
	// StatusCode answers every request with this HTTP status when non-zero.
	StatusCode int
	// FailFirst answers the first N requests with 503.
	FailFirst int
	Delay     time.Duration
	Malformed bool
}

// Online returns a healthy node reporting name in the live state.
func Online(name string) Behavior {
	return Behavior{
		PillarName: name,
		Producer:   "z1qproducer" + strings.ToLower(name),
		State:      0,
	}
}

// WithState returns a healthy node reporting name in the given state.
func WithState(name string, state int) Behavior {
	b := Online(name)
	b.State = state
	return b
}

// Fleet is a single HTTP server that impersonates many nodes. A node's
// endpoint is the server URL followed by its address as the path.
type Fleet struct {
	Server *httptest.Server

	mu    sync.Mutex
	nodes map[string]Behavior
	calls map[string][]string
}

// NewFleet starts a fake fleet that is closed when the test ends.
func NewFleet(t testing.TB) *Fleet {
	t.Helper()
	f := &Fleet{
		nodes: make(map[string]Behavior),
		calls: make(map[string][]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// Set installs or replaces the behavior for address.
func (f *Fleet) Set(address string, b Behavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[address] = b
}

// Resolve maps a node address to its fake endpoint.
func (f *Fleet) Resolve(address string) string {
	return f.Server.URL + "/" + address
}

// Calls returns the RPC methods received by address, in order.
func (f *Fleet) Calls(address string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[address]...)
}

func (f *Fleet) handle(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimPrefix(r.URL.Path, "/")

	var req struct {
		Method string `json:"method"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	behavior, ok := f.nodes[address]
	f.calls[address] = append(f.calls[address], req.Method)
	attempt := len(f.calls[address])
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if behavior.Delay > 0 {
		timer := time.NewTimer(behavior.Delay)
		select {
		case <-r.Context().Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if attempt <= behavior.FailFirst {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if behavior.StatusCode != 0 {
		w.WriteHeader(behavior.StatusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if behavior.Malformed {
		_, _ = w.Write([]byte(`{"result": {not-json`))
		return
	}

	var payload map[string]any
	switch req.Method {
	case "getIdentity":
		payload = map[string]any{
			"result": map[string]any{
				"pillarName": behavior.PillarName,
				"producer":   behavior.Producer,
			},
		}
		if behavior.IdentityError != "" {
			payload = map[string]any{"result": nil, "error": behavior.IdentityError}
		}
	case "getStatus":
		result := map[string]any{"networks": behavior.Networks}
		if !behavior.OmitState {
			result["state"] = behavior.State
		}
		payload = map[string]any{"result": result}
		if behavior.StatusError != "" {
			payload = map[string]any{"result": nil, "error": behavior.StatusError}
		}
	default:
		payload = map[string]any{"error": "unknown method " + req.Method}
	}

	_ = json.NewEncoder(w).Encode(payload)
}
