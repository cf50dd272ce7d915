// Package errors provides domain-specific error types for vpnshift.
//
// Errors carry a stable code so callers (and tests) can match on the
// category of failure instead of message text. Takeover failures fall into
// a small taxonomy: detection ambiguity, an already-active lifecycle,
// denied privileges, partial revert, and health-check timeouts.
package errors

import (
	stderrors "errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrorCode represents a category of error that can occur in the application.
type ErrorCode string

const (
	// ErrCodeDetectionAmbiguous indicates the network state could not be
	// determined and every fallback strategy was exhausted.
	ErrCodeDetectionAmbiguous ErrorCode = "DETECTION_AMBIGUOUS"

	// ErrCodeAlreadyActive indicates a takeover lifecycle is already active
	// on this host.
	ErrCodeAlreadyActive ErrorCode = "ALREADY_ACTIVE"

	// ErrCodePrivilegeDenied indicates the OS rejected a mutating call
	// (routes, iptables, sysctl or resolver files require root).
	ErrCodePrivilegeDenied ErrorCode = "PRIVILEGE_DENIED"

	// ErrCodePartialRevert indicates one or more restoration steps failed;
	// the error aggregates per-step detail.
	ErrCodePartialRevert ErrorCode = "PARTIAL_REVERT_FAILURE"

	// ErrCodeHealthTimeout indicates a health check exceeded its deadline.
	ErrCodeHealthTimeout ErrorCode = "HEALTH_CHECK_TIMEOUT"

	// ErrCodeConfig indicates a configuration-related error.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeSnapshot indicates a snapshot persistence error.
	ErrCodeSnapshot ErrorCode = "SNAPSHOT_ERROR"

	// ErrCodeNetwork indicates a network configuration error (routes, NAT
	// rules, sysctls).
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"

	// ErrCodeDNS indicates a DNS configuration error.
	ErrCodeDNS ErrorCode = "DNS_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a domain-specific error with an error code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinel instances compare across wrapping.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new domain error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the code from err, or ErrCodeInternal if err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsPermission reports whether err stems from insufficient privileges.
func IsPermission(err error) bool {
	return os.IsPermission(err) ||
		stderrors.Is(err, os.ErrPermission) ||
		stderrors.Is(err, unix.EPERM) ||
		stderrors.Is(err, unix.EACCES)
}

// FromOSError classifies an OS-level failure: privilege problems become
// PRIVILEGE_DENIED, everything else gets the provided fallback code.
func FromOSError(fallback ErrorCode, message string, cause error) *Error {
	if IsPermission(cause) {
		return Wrap(ErrCodePrivilegeDenied, message, cause)
	}
	return Wrap(fallback, message, cause)
}

// NewDetectionError creates a new detection-ambiguity error.
func NewDetectionError(message string, cause error) *Error {
	return Wrap(ErrCodeDetectionAmbiguous, message, cause)
}

// NewAlreadyActiveError creates a new already-active error.
func NewAlreadyActiveError(message string) *Error {
	return New(ErrCodeAlreadyActive, message)
}

// NewPrivilegeError creates a new privilege-denied error.
func NewPrivilegeError(message string, cause error) *Error {
	return Wrap(ErrCodePrivilegeDenied, message, cause)
}

// NewHealthTimeoutError creates a new health-check timeout error.
func NewHealthTimeoutError(message string, cause error) *Error {
	return Wrap(ErrCodeHealthTimeout, message, cause)
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCodeConfig, message, cause)
}

// NewSnapshotError creates a new snapshot persistence error.
func NewSnapshotError(message string, cause error) *Error {
	return Wrap(ErrCodeSnapshot, message, cause)
}

// NewNetworkError creates a new network configuration error.
func NewNetworkError(message string, cause error) *Error {
	return Wrap(ErrCodeNetwork, message, cause)
}

// NewDNSError creates a new DNS configuration error.
func NewDNSError(message string, cause error) *Error {
	return Wrap(ErrCodeDNS, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCodeInternal, message, cause)
}
