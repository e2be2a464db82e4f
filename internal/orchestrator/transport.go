package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	methodGetIdentity = "getIdentity"
	methodGetStatus   = "getStatus"

	maxResponseBytes int64 = 1 << 20
)

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func newTransport(timeout time.Duration, retries int, waitMin, waitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = waitMin
	client.RetryWaitMax = waitMax
	client.Backoff = retryablehttp.DefaultBackoff
	client.CheckRetry = retryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}
	return client
}

// retryPolicy retries connection failures, 429 and 5xx. Other client errors
// are returned immediately.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

// call issues one RPC method and returns the raw result payload.
func (c *Client) call(ctx context.Context, address, method string) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: []any{}})
	if err != nil {
		return nil, newQueryError(CategoryUnexpected, method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(address), bytes.NewReader(payload))
	if err != nil {
		return nil, newQueryError(CategoryNetwork, method, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.transport.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, newQueryError(CategoryNetwork, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, newQueryError(CategoryNetwork, method, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, newQueryError(CategoryNetwork, method, fmt.Errorf("read response: %w", err))
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, newQueryError(CategoryMalformed, method, fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, newQueryError(CategoryMalformed, method, err)
	}
	if msg := rpcErrorText(decoded.Error); msg != "" {
		return nil, newQueryError(CategoryRemote, method, errors.New(msg))
	}
	if isNull(decoded.Result) {
		return nil, newQueryError(CategoryMalformed, method, errors.New("missing result"))
	}
	return decoded.Result, nil
}

// rpcErrorText returns the message carried in an error field, or "" when the
// field is absent or empty.
func rpcErrorText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return strings.TrimSpace(string(raw))
	}

	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		if v {
			return "true"
		}
		return ""
	case float64:
		if v == 0 {
			return ""
		}
		return fmt.Sprintf("code %v", v)
	case map[string]any:
		if len(v) == 0 {
			return ""
		}
		if msg, ok := v["message"].(string); ok && msg != "" {
			if code, ok := v["code"].(float64); ok {
				return fmt.Sprintf("%s (code %v)", msg, code)
			}
			return msg
		}
		return string(raw)
	case []any:
		if len(v) == 0 {
			return ""
		}
		return string(raw)
	default:
		return string(raw)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
