package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}

	cases := []struct {
		err  error
		want FailureKind
	}{
		{err: nil, want: FailureNone},
		{err: fmt.Errorf("send inference request: %w", refused), want: FailureConnectionRefused},
		{err: fmt.Errorf("send inference request: %w", reset), want: FailureConnectionReset},
		{err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: FailureTimeout},
		{err: errors.New("Post \"http://x\": dial tcp: connection refused"), want: FailureConnectionRefused},
		{err: errors.New("read: connection reset by peer"), want: FailureConnectionReset},
		{err: &StatusError{Code: 502}, want: FailureHTTPStatus},
		{err: ErrEmptyResponse, want: FailureMalformed},
		{err: errors.New("something odd"), want: FailureOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %q want %q", tc.err, got, tc.want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if !IsTransient(&StatusError{Code: 503}) {
		t.Fatalf("5xx should be transient")
	}
	if !IsTransient(&StatusError{Code: 429}) {
		t.Fatalf("429 should be transient")
	}
	if IsTransient(&StatusError{Code: 404}) {
		t.Fatalf("404 should not be transient")
	}
	if IsTransient(ErrMalformedResponse) {
		t.Fatalf("malformed replies are not transport failures")
	}
}
