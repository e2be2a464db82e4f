package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
)

func TestWebhookNotifierTemplateRendering(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, `{"count":{{ len .Nodes }},"bridge":{{ if .Bridge }}true{{ else }}false{{ end }}}`)
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}

	if err := notifier.Notify(context.Background(), makeReport(1)); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if !strings.Contains(body, `"count":1`) {
		t.Fatalf("expected count in payload, got %s", body)
	}
	if !strings.Contains(body, `"bridge":false`) {
		t.Fatalf("expected bridge flag in payload, got %s", body)
	}
}

func TestWebhookNotifierDefaultTemplateIsJSON(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	report := makeReport(2)
	report.ObservedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := notifier.Notify(context.Background(), report); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	var decoded struct {
		ObservedAt string            `json:"observedAt"`
		Nodes      []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("expected valid JSON, got %s: %v", body, err)
	}
	if decoded.ObservedAt != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected observedAt %q", decoded.ObservedAt)
	}
	if len(decoded.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(decoded.Nodes))
	}
}

func TestWebhookNotifierRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	notifier.poster.timing.backoffInitial = time.Millisecond
	notifier.poster.timing.backoffMax = 2 * time.Millisecond
	notifier.poster.timing.backoffMaxElapsed = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := notifier.Notify(ctx, makeReport(1)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifierSkipsEmptyReport(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(zerolog.Nop(), server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier error: %v", err)
	}
	if err := notifier.Notify(context.Background(), transition.Report{}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no delivery, got %d", got)
	}
}

func TestWebhookNotifierInvalidTemplate(t *testing.T) {
	_, err := NewWebhookNotifier(zerolog.Nop(), "http://example.com", "{{")
	if err == nil {
		t.Fatalf("expected template error")
	}
}

func TestWebhookNotifierEmptyURL(t *testing.T) {
	notifier, err := NewWebhookNotifier(zerolog.Nop(), "", "")
	if err != nil || notifier != nil {
		t.Fatalf("expected nil notifier without error, got %v, %v", notifier, err)
	}
	if err := notifier.Notify(context.Background(), makeReport(1)); err != nil {
		t.Fatalf("nil notifier must be a no-op, got %v", err)
	}
}

func makeReport(count int) transition.Report {
	nodes := make([]transition.NodeTransition, count)
	for i := range nodes {
		nodes[i] = transition.NodeTransition{
			Address:        "10.0.0." + strconv.Itoa(i+1),
			DisplayName:    "Pillar" + strconv.Itoa(i+1),
			PreviousStatus: orchestrator.StatusOnline,
			CurrentStatus:  orchestrator.StatusOffline,
			CurrentState:   "Unknown",
			Detail:         "network error: getIdentity: connection refused",
		}
	}
	return transition.Report{ObservedAt: time.Now().UTC(), Nodes: nodes}
}
