// Package failure maps raw dependency errors into a shared taxonomy.
//
// Classification is based on inspectable error attributes (status codes,
// gRPC codes, context errors), never on message text, so it stays robust
// when dependency error wording changes. Dependency call sites translate
// their native errors into a *DependencyError at the boundary; anything
// unrecognized classifies as Transient with a bounded retry budget rather
// than Permanent, so a recoverable request is never silently dropped.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a dependency failure.
type Kind int

const (
	// KindTransient is a failure expected to resolve on its own.
	KindTransient Kind = iota

	// KindThrottled is a rate-limit rejection from the dependency.
	KindThrottled

	// KindTimeout is an attempt that exceeded its deadline.
	KindTimeout

	// KindPermanent is a failure that retrying cannot fix.
	KindPermanent
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindThrottled:
		return "throttled"
	case KindTimeout:
		return "timeout"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name as it appears in configuration.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "transient":
		return KindTransient, nil
	case "throttled":
		return KindThrottled, nil
	case "timeout":
		return KindTimeout, nil
	case "permanent":
		return KindPermanent, nil
	default:
		return KindTransient, fmt.Errorf("unknown failure kind %q", s)
	}
}

// DependencyError carries the inspectable attributes of a dependency failure
// across the classification boundary.
type DependencyError struct {
	// Dependency is the name of the failing dependency.
	Dependency string

	// StatusCode is the HTTP status code, if the dependency speaks HTTP.
	StatusCode int

	// GRPCCode is the gRPC status code, if the dependency speaks gRPC.
	GRPCCode codes.Code

	// RetryHint is a server-provided minimum backoff, zero when absent.
	RetryHint time.Duration

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if e.Err != nil {
		return e.Dependency + ": " + e.Err.Error()
	}
	return e.Dependency + ": dependency call failed"
}

// Unwrap returns the underlying error.
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// FromHTTPStatus builds a DependencyError from an HTTP response status.
// The Retry-After hint, when the server supplied one, is passed in seconds.
func FromHTTPStatus(dependency string, statusCode int, retryAfter time.Duration, err error) *DependencyError {
	return &DependencyError{
		Dependency: dependency,
		StatusCode: statusCode,
		RetryHint:  retryAfter,
		Err:        err,
	}
}

// FromGRPC builds a DependencyError from a gRPC call error. The gRPC status
// code is extracted from err; non-status errors keep codes.Unknown.
func FromGRPC(dependency string, err error) *DependencyError {
	de := &DependencyError{
		Dependency: dependency,
		GRPCCode:   codes.Unknown,
		Err:        err,
	}
	if st, ok := status.FromError(err); ok {
		de.GRPCCode = st.Code()
	}
	return de
}

// Wrap builds a DependencyError with no transport attributes. The wrapped
// error still participates in context and network error inspection.
func Wrap(dependency string, err error) *DependencyError {
	return &DependencyError{Dependency: dependency, Err: err}
}

// Classify maps an error to a failure kind.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	// Deadline expiry is a timeout regardless of wrapping.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var depErr *DependencyError
	if errors.As(err, &depErr) {
		if kind, ok := classifyDependency(depErr); ok {
			return kind
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		if kind, ok := classifyGRPCCode(st.Code()); ok {
			return kind
		}
	}

	// Unrecognized errors default to Transient, never Permanent.
	return KindTransient
}

// classifyDependency classifies by the typed attributes of a DependencyError.
func classifyDependency(e *DependencyError) (Kind, bool) {
	if e.StatusCode != 0 {
		return classifyHTTPStatus(e.StatusCode)
	}
	if e.GRPCCode != codes.OK && e.GRPCCode != codes.Unknown {
		return classifyGRPCCode(e.GRPCCode)
	}
	if e.Err != nil {
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return KindTimeout, true
		}
		var netErr net.Error
		if errors.As(e.Err, &netErr) {
			if netErr.Timeout() {
				return KindTimeout, true
			}
			return KindTransient, true
		}
	}
	return KindTransient, false
}

func classifyHTTPStatus(code int) (Kind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return KindThrottled, true
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout, true
	case code >= 400 && code < 500:
		return KindPermanent, true
	case code >= 500:
		return KindTransient, true
	default:
		return KindTransient, false
	}
}

func classifyGRPCCode(code codes.Code) (Kind, bool) {
	switch code {
	case codes.ResourceExhausted:
		return KindThrottled, true
	case codes.DeadlineExceeded:
		return KindTimeout, true
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.OutOfRange, codes.Unimplemented:
		return KindPermanent, true
	case codes.Unavailable, codes.Aborted, codes.Internal, codes.DataLoss:
		return KindTransient, true
	default:
		return KindTransient, false
	}
}

// RetryHint extracts a server-provided backoff hint from an error chain,
// or zero when none is present.
func RetryHint(err error) time.Duration {
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return depErr.RetryHint
	}
	return 0
}
