package cloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrTransient marks network, timeout and throttling failures that may
	// succeed when retried.
	ErrTransient = errors.New("transient api error")
	// ErrMissingCapability is returned by providers asked for data from a
	// service that is not configured.
	ErrMissingCapability = errors.New("missing capability")
	// ErrResourceNotFound is returned when the provider does not know the id.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrConfiguration marks credential and permission problems.
	ErrConfiguration = errors.New("configuration error")
)

// APIError describes a failed provider call.
type APIError struct {
	Kind      error
	Action    string
	Code      string
	Message   string
	RequestID string
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Action)
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request %s)", e.RequestID)
	}
	if e.Message == "" && e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the classification and the underlying cause.
func (e *APIError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyCode maps a provider error code onto the error taxonomy. Unknown
// codes are left unclassified and never retried.
func classifyCode(code string) error {
	switch {
	case code == "":
		return nil
	case strings.HasPrefix(code, "ClientError.NetworkError"),
		strings.HasPrefix(code, "ClientError.HttpStatusCodeError"),
		strings.HasPrefix(code, "InternalError"),
		strings.HasPrefix(code, "RequestLimitExceeded"),
		strings.HasPrefix(code, "ResourceUnavailable"):
		return ErrTransient
	case strings.HasPrefix(code, "AuthFailure"),
		strings.HasPrefix(code, "UnauthorizedOperation"),
		strings.HasPrefix(code, "OperationDenied"):
		return ErrConfiguration
	case strings.HasPrefix(code, "ResourceNotFound"),
		strings.HasSuffix(code, ".NotFound"),
		strings.HasSuffix(code, "NotExist"):
		return ErrResourceNotFound
	default:
		return nil
	}
}
