package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind categorizes bridge errors by where and when they surface.
type ErrorKind string

const (
	// KindUnknown is reported for errors outside the taxonomy.
	KindUnknown ErrorKind = "unknown"
	// KindConfiguration marks malformed connection settings (synchronous).
	KindConfiguration ErrorKind = "configuration"
	// KindValidation marks bad call arguments or a missing continuation (synchronous).
	KindValidation ErrorKind = "validation"
	// KindTransport marks failures of the network round trip (asynchronous).
	KindTransport ErrorKind = "transport"
	// KindResource marks an unavailable client or executor.
	KindResource ErrorKind = "resource"
)

// Transport error codes.
const (
	CodeTimeout           = "TIMEOUT"
	CodeConnectionRefused = "CONNECTION_REFUSED"
	CodeHostNotFound      = "HOST_NOT_FOUND"
	CodeHTTPStatus        = "HTTP_STATUS"
	CodeDecode            = "DECODE"
	CodeRequestFailed     = "REQUEST_FAILED"
)

// ConfigurationError reports an invalid connection setting.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports a malformed call detected before any background
// work was started.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ErrMissingContinuation is returned by every dispatch entry point when the
// continuation argument is absent.
var ErrMissingContinuation = &ValidationError{Field: "callback", Message: "Callback function is required"}

// TransportError reports a failed network round trip.
type TransportError struct {
	Code       string
	Op         OperationKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the round trip ran out of time.
func (e *TransportError) Timeout() bool { return e.Code == CodeTimeout }

// NewTransportError classifies err into a TransportError for op.
func NewTransportError(op OperationKind, err error) *TransportError {
	return &TransportError{Code: classifyTransport(err), Op: op, Err: err}
}

func classifyTransport(err error) string {
	var ne net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return CodeTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnectionRefused
	case errors.As(err, &dnsErr):
		return CodeHostNotFound
	default:
		return CodeRequestFailed
	}
}

// ResourceError reports that a shared resource (client, executor) could not be
// acquired for an operation.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// KindOf returns the taxonomy kind of the outermost bridge error in err's
// chain.
func KindOf(err error) ErrorKind {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *ValidationError:
			return KindValidation
		case *ConfigurationError:
			return KindConfiguration
		case *TransportError:
			return KindTransport
		case *ResourceError:
			return KindResource
		}
	}
	return KindUnknown
}
