package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// errClosing is returned by operations attempted on an engine that is
// already tearing down its connection.
var errClosing = errors.New("transport: engine is closing")

// TransportError is raised by a TransportConnection (or wrapped around one
// of its errors by the engine) to describe a network, protocol, or I/O
// failure. Retryable and ServiceStatus are consulted by handleMessageException
// and by the reconnect loop.
type TransportError struct {
	Retryable      bool
	ServiceStatus  StatusCode
	HasStatus      bool
	CredExpired    bool
	Unauthorized   bool
	cause          error
}

func (e *TransportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transport error (retryable=%v): %v", e.Retryable, e.cause)
	}
	return fmt.Sprintf("transport error (retryable=%v)", e.Retryable)
}

func (e *TransportError) Unwrap() error { return e.cause }

// IsRetryable reports whether the engine should attempt to resend or
// reconnect after this error. A nil *TransportError (meaning "no error",
// e.g. the previous reconnect attempt already succeeded) is never
// retryable: there is nothing left to retry.
func (e *TransportError) IsRetryable() bool {
	if e == nil {
		return false
	}
	return e.Retryable
}

// NewTransportError wraps cause into a TransportError, preserving it via
// github.com/pkg/errors so callers can still recover the original stack.
func NewTransportError(cause error, retryable bool) *TransportError {
	return &TransportError{Retryable: retryable, cause: errors.WithStack(cause)}
}

// NewServiceTransportError builds a TransportError that carries a concrete
// broker-reported StatusCode (e.g. HubOrDeviceIDNotFound).
func NewServiceTransportError(status StatusCode, retryable bool) *TransportError {
	return &TransportError{Retryable: retryable, ServiceStatus: status, HasStatus: true}
}

// AsTransportError unwraps err into a *TransportError when possible,
// otherwise wraps it as a non-retryable transport error.
func AsTransportError(err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	var ae *AuthenticationError
	if errors.As(err, &ae) {
		return &TransportError{Retryable: false, CredExpired: ae.Expired, Unauthorized: true, cause: ae}
	}
	return NewTransportError(err, false)
}

// AuthenticationError indicates a rejected or expired credential.
type AuthenticationError struct {
	Expired bool
	cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Expired {
		return "transport: credential expired"
	}
	return fmt.Sprintf("transport: authentication rejected: %v", e.cause)
}

func (e *AuthenticationError) Unwrap() error { return e.cause }

func NewAuthenticationError(cause error, expired bool) *AuthenticationError {
	return &AuthenticationError{Expired: expired, cause: cause}
}

// InvalidArgument indicates a nil or empty required field was passed to a
// public operation.
type InvalidArgument struct {
	Field string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("transport: invalid argument: %s", e.Field)
}

// IllegalState indicates an operation was attempted while the engine was
// in a state that does not permit it (e.g. AddMessage while Disconnected).
type IllegalState struct {
	Reason string
}

func (e *IllegalState) Error() string {
	return fmt.Sprintf("transport: illegal state: %s", e.Reason)
}

// OperationTimeout indicates a per-packet or per-reconnect wall-clock
// budget was exceeded.
type OperationTimeout struct {
	BudgetMs uint64
}

func (e *OperationTimeout) Error() string {
	return fmt.Sprintf("transport: operation timed out after %dms", e.BudgetMs)
}
