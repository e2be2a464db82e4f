package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const errorBodyLimit = 1024

type timingConfig struct {
	timeout           time.Duration
	rateInterval      time.Duration
	rateBurst         int
	backoffInitial    time.Duration
	backoffMax        time.Duration
	backoffMaxElapsed time.Duration
}

var defaultTiming = timingConfig{
	timeout:           10 * time.Second,
	rateInterval:      time.Second,
	rateBurst:         1,
	backoffInitial:    time.Second,
	backoffMax:        10 * time.Second,
	backoffMaxElapsed: 30 * time.Second,
}

// poster sends JSON payloads to one webhook URL. The inner retryablehttp
// client never retries; deliver owns the backoff so Retry-After is honoured.
type poster struct {
	logger      zerolog.Logger
	target      string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig
	limiter     *rate.Limiter
}

func newPoster(logger zerolog.Logger, target, url string, timing timingConfig) *poster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	var limiter *rate.Limiter
	if timing.rateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(timing.rateInterval), timing.rateBurst)
	}

	return &poster{
		logger:      logger.With().Str("notifier", target).Logger(),
		target:      target,
		url:         url,
		contentType: "application/json",
		client:      client,
		timing:      timing,
		limiter:     limiter,
	}
}

// throttle blocks until another report may be sent.
func (p *poster) throttle(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// deliver posts payload, retrying transient failures with exponential backoff.
func (p *poster) deliver(ctx context.Context, payload []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.timing.backoffInitial
	policy.MaxInterval = p.timing.backoffMax
	policy.MaxElapsedTime = p.timing.backoffMaxElapsed
	policy.Reset()

	for {
		err := p.send(ctx, payload)
		if err == nil {
			return nil
		}

		var wait time.Duration
		var throttled *retryAfterError
		var transient *transientError
		switch {
		case errors.As(err, &throttled):
			wait = throttled.Duration
		case errors.As(err, &transient):
			wait = policy.NextBackOff()
			if wait == backoff.Stop {
				return err
			}
		default:
			return err
		}

		p.logger.Debug().Err(err).Dur("wait", wait).Msg("retrying notification")
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
}

// send makes a single delivery attempt and classifies the outcome.
func (p *poster) send(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.target, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return &transientError{err: fmt.Errorf("%s request failed: %w", p.target, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return classifyResponse(p.target, resp, strings.TrimSpace(string(body)))
}

func classifyResponse(target string, resp *http.Response, body string) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		limited := fmt.Errorf("%s rate limited: %s", target, resp.Status)
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, err: limited}
		}
		return &transientError{err: limited}
	case code >= http.StatusInternalServerError:
		return &transientError{err: fmt.Errorf("%s server error: %s", target, resp.Status)}
	case body != "":
		return fmt.Errorf("%s request failed: %s (%s)", target, resp.Status, body)
	default:
		return fmt.Errorf("%s request failed: %s", target, resp.Status)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

type retryAfterError struct {
	Duration time.Duration
	err      error
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited; retry after %s", e.Duration)
}

func (e *retryAfterError) Unwrap() error { return e.err }
