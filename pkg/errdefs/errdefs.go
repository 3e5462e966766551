package errdefs

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error code. Kinds are recorded in
// notifications and in last_action reasons, so their values must not change.
type Kind string

const (
	KindLockContended      Kind = "LOCK_CONTENDED"
	KindMetricsUnavailable Kind = "METRICS_UNAVAILABLE"
	KindQuotaExceeded      Kind = "QUOTA_EXCEEDED"
	KindSpotUnavailable    Kind = "SPOT_UNAVAILABLE"
	KindJoinTimeout        Kind = "JOIN_TIMEOUT"
	KindDrainTimeout       Kind = "DRAIN_TIMEOUT"
	KindStateConflict      Kind = "STATE_CONFLICT"
	KindTransport          Kind = "TRANSPORT_ERROR"
)

// Error is a typed autoscaler error. Op names the failing operation,
// Err carries the underlying cause when there is one.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error without an underlying cause.
func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err, or "" if err is not a typed error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a typed error of the given kind, even if wrapped.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsLockContended(err error) bool      { return Is(err, KindLockContended) }
func IsMetricsUnavailable(err error) bool { return Is(err, KindMetricsUnavailable) }
func IsQuotaExceeded(err error) bool      { return Is(err, KindQuotaExceeded) }
func IsSpotUnavailable(err error) bool    { return Is(err, KindSpotUnavailable) }
func IsJoinTimeout(err error) bool        { return Is(err, KindJoinTimeout) }
func IsDrainTimeout(err error) bool       { return Is(err, KindDrainTimeout) }
func IsStateConflict(err error) bool      { return Is(err, KindStateConflict) }
func IsTransport(err error) bool          { return Is(err, KindTransport) }
