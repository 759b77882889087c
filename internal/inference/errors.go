package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	ErrEmptyResponse     = errors.New("inference response was empty")
	ErrMalformedResponse = errors.New("inference response was malformed")
)

// StatusError is a non-2xx reply from the inference service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference endpoint status %d", e.Code)
	}
	return fmt.Sprintf("inference endpoint status %d: %s", e.Code, e.Body)
}

// FailureKind labels a failed call for operators. Callers still treat every
// kind as the same failure.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureConnectionRefused FailureKind = "connection_refused"
	FailureTimeout           FailureKind = "timeout"
	FailureConnectionReset   FailureKind = "connection_reset"
	FailureHTTPStatus        FailureKind = "http_status"
	FailureMalformed         FailureKind = "malformed"
	FailureOther             FailureKind = "other"
)

// Classify maps an error onto a FailureKind. Typed errors are checked first;
// wrapped transport errors that lost their type fall back to message patterns.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureConnectionRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return FailureConnectionReset
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrMalformedResponse):
		return FailureMalformed
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return FailureHTTPStatus
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return FailureConnectionRefused
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "eof"):
		return FailureConnectionReset
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	}
	return FailureOther
}

// IsTransient reports whether a retry against another endpoint may succeed.
func IsTransient(err error) bool {
	switch Classify(err) {
	case FailureConnectionRefused, FailureTimeout, FailureConnectionReset:
		return true
	case FailureHTTPStatus:
		var statusErr *StatusError
		return errors.As(err, &statusErr) && (statusErr.Code >= 500 || statusErr.Code == 429)
	default:
		return false
	}
}

func shouldFallback(err error) bool {
	return IsTransient(err) || Classify(err) == FailureMalformed
}
