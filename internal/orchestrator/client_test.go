package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hypercore-one/bridge-health/internal/orchestrator/nodetest"
	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, fleet *nodetest.Fleet, entries []registry.Entry, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithEndpointResolver(fleet.Resolve),
		WithCallPause(0),
		WithRetries(0),
		WithRetryWait(time.Millisecond, 2*time.Millisecond),
		WithTimeout(time.Second),
	}
	return NewClient(zerolog.Nop(), registry.New(entries), append(base, opts...)...)
}

func TestQuery_OnlineNode(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	node := nodetest.Online("Anvil")
	node.Networks = map[string]nodetest.Counters{
		"BNB Chain": {WrapsToSign: 2, UnwrapsToSign: 1},
		"Ethereum":  {WrapsToSign: 5},
		"Polygon":   {WrapsToSign: 9, UnwrapsToSign: 9},
	}
	fleet.Set("10.0.0.1", node)

	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})
	result := client.Query(context.Background(), "10.0.0.1")

	assert.True(t, result.Responded)
	assert.True(t, result.Reachable)
	assert.Equal(t, StatusOnline, result.Status)
	assert.Equal(t, StateLive, result.OperationalState)
	require.NotNil(t, result.StateCode)
	assert.Equal(t, 0, *result.StateCode)
	assert.Equal(t, "0 (LiveState)", result.StateLabel)
	assert.Equal(t, "Anvil", result.DisplayName)
	assert.Equal(t, "Anvil", result.ReportedIdentityName)
	assert.Equal(t, "z1qproduceranvil", result.ProducerAddress)
	assert.False(t, result.IdentityMismatch)
	assert.Empty(t, result.ErrorDetail)
	assert.False(t, result.ObservedAt.IsZero())

	assert.Equal(t, NetworkCounters{Wraps: 2, Unwraps: 1}, result.NetworkCounters["bnb"])
	assert.Equal(t, NetworkCounters{Wraps: 5}, result.NetworkCounters["eth"])
	assert.Equal(t, NetworkCounters{}, result.NetworkCounters["supernova"])
	assert.Len(t, result.NetworkCounters, len(TrackedChains))

	assert.Equal(t, []string{"getIdentity", "getStatus"}, fleet.Calls("10.0.0.1"))
}

func TestQuery_StateClassification(t *testing.T) {
	cases := []struct {
		code   int
		state  OperationalState
		online bool
	}{
		{code: 0, state: StateLive, online: true},
		{code: 1, state: StateKeyGen, online: true},
		{code: 2, state: StateHalted, online: false},
		{code: 3, state: StateEmergency, online: false},
		{code: 4, state: StateReSign, online: false},
		{code: 7, state: StateUnknown, online: false},
	}

	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			fleet := nodetest.NewFleet(t)
			fleet.Set("10.0.0.1", nodetest.WithState("Anvil", tc.code))
			client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

			result := client.Query(context.Background(), "10.0.0.1")
			assert.True(t, result.Responded)
			assert.Equal(t, tc.state, result.OperationalState)
			assert.Equal(t, tc.online, result.Reachable)
			if tc.online {
				assert.Empty(t, result.ErrorDetail)
			} else {
				assert.Equal(t, "node state "+result.StateLabel, result.ErrorDetail)
				assert.Empty(t, CategoryOf(result.ErrorDetail))
			}
		})
	}
}

func TestQuery_MissingStateIsUnknownButResponded(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	node := nodetest.Online("Anvil")
	node.OmitState = true
	fleet.Set("10.0.0.1", node)
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

	result := client.Query(context.Background(), "10.0.0.1")
	assert.True(t, result.Responded)
	assert.False(t, result.Reachable)
	assert.Nil(t, result.StateCode)
	assert.Equal(t, StateUnknown, result.OperationalState)
	assert.Equal(t, "node state Unknown", result.ErrorDetail)
}

func TestQuery_HaltedMismatchJoinsDetails(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.WithState("Anvil2", 2))
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

	result := client.Query(context.Background(), "10.0.0.1")
	assert.False(t, result.Reachable)
	assert.True(t, result.IdentityMismatch)
	assert.Equal(t, `name mismatch: node reported "Anvil2", registry expects "Anvil"; node state 2 (HaltedState)`, result.ErrorDetail)
}

func TestQuery_IdentityMismatch(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.Online("Anvil2"))
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

	result := client.Query(context.Background(), "10.0.0.1")
	assert.True(t, result.IdentityMismatch)
	assert.Contains(t, result.ErrorDetail, "Anvil2")
	assert.Contains(t, result.ErrorDetail, "Anvil")
	assert.Equal(t, "Anvil", result.DisplayName)
	assert.Equal(t, "Anvil2", result.ReportedIdentityName)
	assert.True(t, result.Reachable, "mismatch must not affect online classification")
}

func TestQuery_UnregisteredAddressUsesSyntheticName(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.9", nodetest.Online("Stray"))
	client := newTestClient(t, fleet, nil)

	result := client.Query(context.Background(), "10.0.0.9")
	assert.Equal(t, "Unknown-10.0.0.9", result.DisplayName)
	assert.True(t, result.IdentityMismatch)
	assert.True(t, result.Reachable)
}

func TestQuery_Failures(t *testing.T) {
	cases := []struct {
		name     string
		behavior nodetest.Behavior
		want     string
	}{
		{
			name:     "identity rpc error",
			behavior: nodetest.Behavior{PillarName: "Anvil", IdentityError: "node syncing"},
			want:     "rpc error: getIdentity: node syncing",
		},
		{
			name:     "status rpc error",
			behavior: nodetest.Behavior{PillarName: "Anvil", Producer: "z1q", StatusError: "halted"},
			want:     "rpc error: getStatus: halted",
		},
		{
			name:     "malformed body",
			behavior: nodetest.Behavior{Malformed: true},
			want:     "invalid response format",
		},
		{
			name:     "client error",
			behavior: nodetest.Behavior{StatusCode: 403},
			want:     "network error",
		},
		{
			name:     "server error",
			behavior: nodetest.Behavior{StatusCode: 502},
			want:     "network error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fleet := nodetest.NewFleet(t)
			fleet.Set("10.0.0.1", tc.behavior)
			client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

			result := client.Query(context.Background(), "10.0.0.1")
			assertFailure(t, result)
			assert.Contains(t, result.ErrorDetail, tc.want)
			assert.Equal(t, "Anvil", result.DisplayName)
		})
	}
}

func TestQuery_EmptyProducerIsUnknown(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.Behavior{PillarName: "Anvil"})
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}})

	result := client.Query(context.Background(), "10.0.0.1")
	assert.True(t, result.Responded)
	assert.Equal(t, UnknownProducer, result.ProducerAddress)
}

func TestQuery_Timeout(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	node := nodetest.Online("Anvil")
	node.Delay = 500 * time.Millisecond
	fleet.Set("10.0.0.1", node)
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}},
		WithTimeout(50*time.Millisecond))

	result := client.Query(context.Background(), "10.0.0.1")
	assertFailure(t, result)
	assert.True(t, strings.HasPrefix(result.ErrorDetail, "network error"), result.ErrorDetail)
}

func TestQuery_ConnectionRefused(t *testing.T) {
	client := NewClient(zerolog.Nop(), registry.New(nil),
		WithEndpointResolver(func(string) string { return "http://127.0.0.1:1" }),
		WithRetries(0),
		WithCallPause(0),
	)

	result := client.Query(context.Background(), "10.0.0.1")
	assertFailure(t, result)
	assert.Equal(t, "Unknown-10.0.0.1", result.DisplayName)
}

func TestQuery_RetriesTransientFailures(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	node := nodetest.Online("Anvil")
	node.FailFirst = 2
	fleet.Set("10.0.0.1", node)
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}},
		WithRetries(3))

	result := client.Query(context.Background(), "10.0.0.1")
	assert.True(t, result.Responded)
	assert.True(t, result.Reachable)
	assert.Len(t, fleet.Calls("10.0.0.1"), 4)
}

func TestQuery_DoesNotRetryClientErrors(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.Behavior{StatusCode: 404})
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}},
		WithRetries(3))

	result := client.Query(context.Background(), "10.0.0.1")
	assertFailure(t, result)
	assert.Len(t, fleet.Calls("10.0.0.1"), 1)
}

func TestQuery_RetriesTooManyRequests(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.Behavior{StatusCode: 429})
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}},
		WithRetries(2))

	result := client.Query(context.Background(), "10.0.0.1")
	assertFailure(t, result)
	assert.Len(t, fleet.Calls("10.0.0.1"), 3)
}

func TestQuery_CallPause(t *testing.T) {
	fleet := nodetest.NewFleet(t)
	fleet.Set("10.0.0.1", nodetest.Online("Anvil"))
	client := newTestClient(t, fleet, []registry.Entry{{Address: "10.0.0.1", Name: "Anvil"}},
		WithCallPause(60*time.Millisecond))

	start := time.Now()
	result := client.Query(context.Background(), "10.0.0.1")
	assert.True(t, result.Responded)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDefaultEndpoint(t *testing.T) {
	client := NewClient(zerolog.Nop(), registry.New(nil), WithPort(35997))
	assert.Equal(t, "http://10.1.2.3:35997", client.endpoint("10.1.2.3"))
	assert.NoError(t, client.Close())
}

func TestRPCErrorText(t *testing.T) {
	cases := map[string]string{
		``:                                     "",
		`null`:                                 "",
		`""`:                                   "",
		`false`:                                "",
		`0`:                                    "",
		`{}`:                                   "",
		`"boom"`:                               "boom",
		`{"code":-32000,"message":"no peers"}`: "no peers (code -32000)",
		`{"message":"bad"}`:                    "bad",
	}
	for raw, want := range cases {
		assert.Equal(t, want, rpcErrorText([]byte(raw)), "rpcErrorText(%s)", raw)
	}
}

func TestStateLabel(t *testing.T) {
	code := 3
	assert.Equal(t, "3 (EmergencyState)", StateLabel(&code))
	unknown := 12
	assert.Equal(t, "12 (Unknown)", StateLabel(&unknown))
	assert.Equal(t, "Unknown", StateLabel(nil))
}

func assertFailure(t *testing.T, result NodeResult) {
	t.Helper()
	assert.False(t, result.Responded)
	assert.False(t, result.Reachable)
	assert.Equal(t, StatusOffline, result.Status)
	assert.Nil(t, result.StateCode)
	assert.Equal(t, StateUnknown, result.OperationalState)
	assert.Equal(t, UnknownProducer, result.ProducerAddress)
	assert.Equal(t, ZeroCounters(), result.NetworkCounters)
	assert.NotEmpty(t, result.ErrorDetail)
}

func TestCategoryOf(t *testing.T) {
	cases := map[string]ErrorCategory{
		"network error: getStatus: unexpected status: 502 Bad Gateway": CategoryNetwork,
		"invalid response format: getIdentity: missing result":          CategoryMalformed,
		"rpc error: getStatus: boom":                                    CategoryRemote,
		"unexpected error: runtime error":                               CategoryUnexpected,
		"name mismatch: node reported \"a\", registry expects \"b\"":    "",
		"": "",
	}
	for detail, want := range cases {
		assert.Equal(t, want, CategoryOf(detail), detail)
	}
}
