package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTimeout             = errors.New("timeout")
	ErrTransient           = errors.New("transient upstream failure")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrVenueRejected       = errors.New("venue rejected request")
	ErrNoHealthyEndpoint   = errors.New("no healthy endpoint")
	ErrUnavailable         = errors.New("price unavailable")
	ErrInvalidPosition     = errors.New("invalid position parameters")
	ErrSigningFailed       = errors.New("signing failed")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorKind is the execution error taxonomy used for retry and endpoint
// health decisions.
type ErrorKind int

const (
	ErrorKindTransient ErrorKind = iota
	ErrorKindRateLimited
	ErrorKindTimeout
	ErrorKindInsufficientBalance
	ErrorKindVenueRejected
	ErrorKindNoHealthyEndpoint
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindRateLimited:
		return "rate_limited"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindInsufficientBalance:
		return "insufficient_balance"
	case ErrorKindVenueRejected:
		return "venue_rejected"
	case ErrorKindNoHealthyEndpoint:
		return "no_healthy_endpoint"
	default:
		return "unknown"
	}
}

// Retryable reports whether an error of this kind is a network-level failure
// the gateway recovers from locally.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTransient, ErrorKindRateLimited, ErrorKindTimeout, ErrorKindNoHealthyEndpoint:
		return true
	default:
		return false
	}
}

// Business reports whether the upstream answered with a business decision
// (the endpoint itself worked).
func (k ErrorKind) Business() bool {
	return k == ErrorKindInsufficientBalance || k == ErrorKindVenueRejected
}

// ExecError is returned by the execution gateway. Terminal is set only for
// venue rejections that end the position itself (for example a delisted
// asset); the monitor moves such positions to failed instead of reopening
// them.
type ExecError struct {
	Op       string
	Kind     ErrorKind
	Terminal bool
	Err      error
}

func (e *ExecError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("%s: %s (terminal): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// RejectionError is produced by venue clients when the venue refuses a
// request for a business reason. Terminal marks reasons that will never
// succeed for this asset.
type RejectionError struct {
	Code     string
	Message  string
	Terminal bool
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("venue rejected (%s): %s", e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrVenueRejected }

// KindOf classifies an arbitrary error into the taxonomy. Unknown errors are
// treated as transient.
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return ErrorKindInsufficientBalance
	case errors.Is(err, ErrVenueRejected):
		return ErrorKindVenueRejected
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrNoHealthyEndpoint):
		return ErrorKindNoHealthyEndpoint
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	return ErrorKindTransient
}

// IsTerminal reports whether err ends the position rather than the attempt.
func IsTerminal(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Terminal
	}
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Terminal
	}
	return false
}
