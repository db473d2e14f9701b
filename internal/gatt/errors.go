package gatt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// Multiple UUIDs follow the GATT hierarchy: characteristic in service,
	// descriptor in characteristic.
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// TimeoutError is a timeout that names the operation that hit it. It matches
// ErrTimeout under errors.Is so callers can test either form.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// Is allows errors.Is(err, ErrTimeout) to match TimeoutError values.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// AdapterReason classifies adapter preconditions that make scanning or
// connecting impossible before any radio traffic happens.
type AdapterReason string

const (
	AdapterOff          AdapterReason = "powered_off"
	AdapterUnauthorized AdapterReason = "unauthorized"
	AdapterUnavailable  AdapterReason = "unavailable"
)

// AdapterError reports an unusable Bluetooth adapter (powered off, missing,
// or lacking permission).
type AdapterError struct {
	Reason AdapterReason
	Err    error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bluetooth adapter %s", e.Reason)
	}
	return fmt.Sprintf("bluetooth adapter %s: %v", e.Reason, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Is allows errors.Is to compare AdapterError values by Reason
func (e *AdapterError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AdapterError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for adapter preconditions
var (
	ErrAdapterOff          = &AdapterError{Reason: AdapterOff}
	ErrAdapterUnauthorized = &AdapterError{Reason: AdapterUnauthorized}
	ErrAdapterUnavailable  = &AdapterError{Reason: AdapterUnavailable}
)

// ResponseError is a protocol-level failure response. Each protocol fills
// Message from its own response-code table.
type ResponseError struct {
	Op      string
	Code    byte
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with response code 0x%02x", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed: %s (code 0x%02x)", e.Op, e.Message, e.Code)
}

// NormalizeError maps known platform error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages
// slightly. Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrAdapterUnauthorized, err)
	case containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrAdapterOff, err)
	case containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
