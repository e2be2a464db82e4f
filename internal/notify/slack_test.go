package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

func newTestSlack(t *testing.T, url string, opts ...SlackOption) *SlackNotifier {
	t.Helper()
	notifier, ok := NewSlackNotifier(zerolog.New(io.Discard), url, opts...).(*SlackNotifier)
	if !ok {
		t.Fatalf("expected SlackNotifier")
	}
	return notifier
}

func TestBuildSlackMessagesSingle(t *testing.T) {
	notifier := newTestSlack(t, "http://example.com")

	messages := notifier.buildMessages(makeReport(2))
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if !strings.Contains(msg.Text, "2 node transition") {
		t.Fatalf("expected summary to include transition count, got %q", msg.Text)
	}
	if msg.Blocks == nil {
		t.Fatalf("expected blocks to be set")
	}
	if len(msg.Blocks.BlockSet) != slackReservedBlocks+2 {
		t.Fatalf("expected %d blocks, got %d", slackReservedBlocks+2, len(msg.Blocks.BlockSet))
	}
}

func TestBuildSlackMessagesBridgeOnly(t *testing.T) {
	notifier := newTestSlack(t, "http://example.com")
	report := transition.Report{
		ObservedAt: time.Now().UTC(),
		Bridge: &transition.BridgeTransition{
			PreviousState: fleet.BridgeOnline,
			CurrentState:  fleet.BridgeOffline,
			OnlineCount:   12,
			TotalCount:    20,
			Threshold:     16,
		},
	}

	messages := notifier.buildMessages(report)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Text != "Bridge OFFLINE" {
		t.Fatalf("unexpected summary %q", messages[0].Text)
	}
	contextBlock, ok := messages[0].Blocks.BlockSet[1].(*slack.ContextBlock)
	if !ok {
		t.Fatalf("expected context block, got %T", messages[0].Blocks.BlockSet[1])
	}
	found := false
	for _, element := range contextBlock.ContextElements.Elements {
		if text, ok := element.(*slack.TextBlockObject); ok && strings.Contains(text.Text, "12/20 online, threshold 16") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bridge counts in context block")
	}
}

func TestBuildSlackMessagesChunking(t *testing.T) {
	notifier := newTestSlack(t, "http://example.com")
	total := slackMaxNodes*2 + 3

	messages := notifier.buildMessages(makeReport(total))
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	for i, msg := range messages {
		if msg.Blocks == nil {
			t.Fatalf("message %d missing blocks", i)
		}
		if len(msg.Blocks.BlockSet) > slackMaxBlocks {
			t.Fatalf("message %d exceeds block limit: %d", i, len(msg.Blocks.BlockSet))
		}
		if !strings.Contains(msg.Text, fmt.Sprintf("part %d/3", i+1)) {
			t.Fatalf("message %d missing part marker: %q", i, msg.Text)
		}
		if !strings.Contains(msg.Text, fmt.Sprintf("%d node transition", total)) {
			t.Fatalf("message %d missing total count: %q", i, msg.Text)
		}
	}
}

func TestSlackNodeBlockExplorerLink(t *testing.T) {
	notifier := newTestSlack(t, "http://example.com", WithSlackExplorer("https://zenonhub.io/"))

	block, ok := notifier.nodeBlock(transition.NodeTransition{
		Address:       "10.0.0.1",
		DisplayName:   "Anvil Pillar",
		CurrentStatus: "offline",
	}).(*slack.SectionBlock)
	if !ok {
		t.Fatalf("expected section block")
	}
	if !strings.Contains(block.Text.Text, "<https://zenonhub.io/pillar/anvilpillar|Anvil Pillar>") {
		t.Fatalf("expected explorer link, got %q", block.Text.Text)
	}
	if !strings.Contains(block.Text.Text, "`UNKNOWN` → `offline`") {
		t.Fatalf("expected status change, got %q", block.Text.Text)
	}
}

func TestSlackNotifierRetriesOnServerError(t *testing.T) {
	t.Parallel()

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

	notifier := newTestSlack(t, server.URL,
		WithSlackTiming(time.Millisecond, 1, 5*time.Millisecond, 10*time.Millisecond, 100*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := notifier.Notify(ctx, makeReport(1)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSlackNotifierRetryAfterError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	notifier := newTestSlack(t, server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	err := notifier.poster.send(context.Background(), []byte(`{}`))
	var retryAfterErr *retryAfterError
	if !errors.As(err, &retryAfterErr) {
		t.Fatalf("expected retry-after error, got %v", err)
	}
	if retryAfterErr.Duration != time.Second {
		t.Fatalf("expected 1s retry-after, got %s", retryAfterErr.Duration)
	}
}

func TestSlackNotifierRateLimitBlocks(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := newTestSlack(t, server.URL,
		WithSlackTiming(500*time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	if err := notifier.Notify(context.Background(), makeReport(1)); err != nil {
		t.Fatalf("expected first notify to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeReport(1)); err == nil {
		t.Fatalf("expected rate limit error, got nil")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected rate limit to block second call, got %d", got)
	}
}

func TestSlackNotifierClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer server.Close()

	notifier := newTestSlack(t, server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	err := notifier.Notify(context.Background(), makeReport(1))
	if err == nil {
		t.Fatalf("expected error for 400 response, got nil")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected status and body in error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestSlackNotifierContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := newTestSlack(t, server.URL,
		WithSlackTiming(time.Millisecond, 1, 100*time.Millisecond, 200*time.Millisecond, time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := notifier.Notify(ctx, makeReport(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled error, got %v", err)
	}
}

func TestNewSlackNotifierWithoutWebhookIsNoop(t *testing.T) {
	notifier := NewSlackNotifier(zerolog.Nop(), "")
	if _, ok := notifier.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", notifier)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if wait, ok := parseRetryAfter("3"); !ok || wait != 3*time.Second {
		t.Fatalf("expected 3s, got %s %v", wait, ok)
	}
	if _, ok := parseRetryAfter("0"); ok {
		t.Fatalf("expected non-positive seconds to be rejected")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatalf("expected garbage to be rejected")
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if wait, ok := parseRetryAfter(future); !ok || wait <= 0 {
		t.Fatalf("expected positive wait for HTTP date, got %s %v", wait, ok)
	}
}
