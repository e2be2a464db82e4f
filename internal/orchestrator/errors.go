package orchestrator

import (
	"fmt"
	"strings"
)

// ErrorCategory distinguishes why a node query failed.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryMalformed  ErrorCategory = "malformed"
	CategoryRemote     ErrorCategory = "remote"
	CategoryUnexpected ErrorCategory = "unexpected"
)

// QueryError is a failed call against a single node.
type QueryError struct {
	Category ErrorCategory
	Method   string
	Err      error
}

func (e *QueryError) Error() string {
	var prefix string
	switch e.Category {
	case CategoryNetwork:
		prefix = "network error"
	case CategoryMalformed:
		prefix = "invalid response format"
	case CategoryRemote:
		prefix = "rpc error"
	default:
		prefix = "unexpected error"
	}
	if e.Method == "" {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Method, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func newQueryError(category ErrorCategory, method string, err error) *QueryError {
	return &QueryError{Category: category, Method: method, Err: err}
}

// CategoryOf recovers the failure category from a result's error detail.
// It returns "" for details that do not carry a query error prefix, such as
// identity mismatches on otherwise successful queries.
func CategoryOf(detail string) ErrorCategory {
	switch {
	case strings.HasPrefix(detail, "network error"):
		return CategoryNetwork
	case strings.HasPrefix(detail, "invalid response format"):
		return CategoryMalformed
	case strings.HasPrefix(detail, "rpc error"):
		return CategoryRemote
	case strings.HasPrefix(detail, "unexpected error"):
		return CategoryUnexpected
	default:
		return ""
	}
}
