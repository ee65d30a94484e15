package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError wraps an error with a reason code.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches a reason code. The innermost reason wins, so wrapping an
// already reasoned error returns it unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Wrapf builds a new reasoned error from a format string.
func Wrapf(reason ReasonCode, format string, args ...any) error {
	return ReasonedError{Err: fmt.Errorf(format, args...), Reason: reason}
}

func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// IsTransient reports whether the next audio frame may succeed where this
// one failed: connection and overload errors clear on their own,
// configuration and protocol errors do not.
func IsTransient(err error) bool {
	switch Reason(err) {
	case ReasonSTTConnect, ReasonSTTSend, ReasonSTTClosed, ReasonSTTRateLimit, ReasonSTTCircuitOpen, ReasonQueueFull:
		return true
	default:
		return false
	}
}
