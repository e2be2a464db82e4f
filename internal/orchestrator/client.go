package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/rs/zerolog"
)

const (
	DefaultPort      = 55000
	DefaultTimeout   = 5 * time.Second
	DefaultRetries   = 3
	DefaultCallPause = 100 * time.Millisecond

	defaultRetryWaitMin = 300 * time.Millisecond
	defaultRetryWaitMax = 3 * time.Second
)

// Client runs the identity/status protocol against single nodes. It is safe
// for concurrent use; the underlying connection pool is shared.
type Client struct {
	logger    zerolog.Logger
	registry  *registry.Registry
	transport *retryablehttp.Client
	endpoint  func(address string) string
	callPause time.Duration
	now       func() time.Time

	port         int
	timeout      time.Duration
	retries      int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option customizes client behavior.
type Option func(*Client)

// WithPort sets the RPC port used to build node URLs.
func WithPort(port int) Option {
	return func(c *Client) {
		c.port = port
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(retries int) Option {
	return func(c *Client) {
		c.retries = retries
	}
}

// WithRetryWait bounds the exponential backoff between retries.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.retryWaitMin = minWait
		c.retryWaitMax = maxWait
	}
}

// WithCallPause sets the pause between the identity and status calls.
// Zero disables it.
func WithCallPause(pause time.Duration) Option {
	return func(c *Client) {
		c.callPause = pause
	}
}

// WithEndpointResolver overrides how a node address maps to its RPC URL.
func WithEndpointResolver(resolve func(address string) string) Option {
	return func(c *Client) {
		c.endpoint = resolve
	}
}

// WithClock overrides the time source used for observation timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient constructs a Client that cross-checks identities against reg.
func NewClient(logger zerolog.Logger, reg *registry.Registry, opts ...Option) *Client {
	c := &Client{
		logger:       logger,
		registry:     reg,
		callPause:    DefaultCallPause,
		now:          func() time.Time { return time.Now().UTC() },
		port:         DefaultPort,
		timeout:      DefaultTimeout,
		retries:      DefaultRetries,
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == nil {
		port := strconv.Itoa(c.port)
		c.endpoint = func(address string) string {
			return "http://" + net.JoinHostPort(address, port)
		}
	}
	c.transport = newTransport(c.timeout, c.retries, c.retryWaitMin, c.retryWaitMax)
	return c
}

// Registry returns the registry used for identity cross-checks.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Query polls one node. It never fails: every error is folded into an
// unreachable result.
func (c *Client) Query(ctx context.Context, address string) NodeResult {
	observedAt := c.now()
	displayName := c.registry.DisplayName(address)

	identity, status, err := c.fetch(ctx, address)
	if err != nil {
		c.logger.Error().Err(err).Str("node", address).Str("pillar", displayName).Msg("node query failed")
		return NewFailureResult(address, displayName, err.Error(), observedAt)
	}

	return c.normalize(address, displayName, identity, status, observedAt)
}

// Close releases idle connections held by the transport. The client remains
// usable afterwards.
func (c *Client) Close() error {
	if c == nil || c.transport == nil || c.transport.HTTPClient == nil {
		return nil
	}
	c.transport.HTTPClient.CloseIdleConnections()
	return nil
}

type identityResult struct {
	PillarName *string `json:"pillarName"`
	Producer   *string `json:"producer"`
}

type networkResult struct {
	WrapsToSign   int `json:"wrapsToSign"`
	UnwrapsToSign int `json:"unwrapsToSign"`
}

type statusResult struct {
	State    *int                     `json:"state"`
	Networks map[string]networkResult `json:"networks"`
}

func (c *Client) fetch(ctx context.Context, address string) (identityResult, statusResult, error) {
	var identity identityResult
	var status statusResult

	raw, err := c.call(ctx, address, methodGetIdentity)
	if err != nil {
		return identity, status, err
	}
	if err := json.Unmarshal(raw, &identity); err != nil {
		return identity, status, newQueryError(CategoryMalformed, methodGetIdentity, err)
	}
	if identity.PillarName == nil {
		return identity, status, newQueryError(CategoryMalformed, methodGetIdentity, errors.New("missing pillarName"))
	}
	if identity.Producer == nil {
		return identity, status, newQueryError(CategoryMalformed, methodGetIdentity, errors.New("missing producer"))
	}

	if c.callPause > 0 {
		if err := pause(ctx, c.callPause); err != nil {
			return identity, status, newQueryError(CategoryNetwork, methodGetStatus, err)
		}
	}

	raw, err = c.call(ctx, address, methodGetStatus)
	if err != nil {
		return identity, status, err
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return identity, status, newQueryError(CategoryMalformed, methodGetStatus, err)
	}
	return identity, status, nil
}

func (c *Client) normalize(address, displayName string, identity identityResult, status statusResult, observedAt time.Time) NodeResult {
	reported := *identity.PillarName
	online := IsOnlineCode(status.State)

	result := NodeResult{
		Address:              address,
		DisplayName:          displayName,
		ReportedIdentityName: reported,
		ProducerAddress:      *identity.Producer,
		Status:               StatusOffline,
		Reachable:            online,
		Responded:            true,
		OperationalState:     StateFromCode(status.State),
		StateCode:            status.State,
		StateLabel:           StateLabel(status.State),
		NetworkCounters:      extractCounters(status.Networks),
		ObservedAt:           observedAt,
	}
	if online {
		result.Status = StatusOnline
	}
	if result.ProducerAddress == "" {
		result.ProducerAddress = UnknownProducer
	}

	var details []string
	if reported != displayName {
		result.IdentityMismatch = true
		details = append(details, fmt.Sprintf("name mismatch: node reported %q, registry expects %q", reported, displayName))
		c.logger.Warn().
			Str("node", address).
			Str("reported", reported).
			Str("expected", displayName).
			Msg("pillar name mismatch")
	}
	// Answering nodes outside live or keygen are unreachable and need a detail.
	if !online {
		details = append(details, "node state "+result.StateLabel)
	}
	result.ErrorDetail = strings.Join(details, "; ")

	return result
}

func extractCounters(networks map[string]networkResult) map[string]NetworkCounters {
	counters := ZeroCounters()
	for _, chain := range TrackedChains {
		network, ok := networks[chain.RemoteName]
		if !ok {
			continue
		}
		counters[chain.Key] = NetworkCounters{
			Wraps:   network.WrapsToSign,
			Unwraps: network.UnwrapsToSign,
		}
	}
	return counters
}

func pause(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
