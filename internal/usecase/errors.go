package usecase

import (
	"errors"
	"fmt"

	"nyl/internal/domain"
)

type ErrorCode string

const (
	ErrorValidation      ErrorCode = "VALIDATION_ERROR"
	ErrorFeatureDisabled ErrorCode = "FEATURE_DISABLED"
	ErrorConfiguration   ErrorCode = "CONFIGURATION_ERROR"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorProtocol        ErrorCode = "PROTOCOL_ERROR"
	ErrorTransport       ErrorCode = "TRANSPORT_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message is the human-readable text sent to callers, including stream
// error events.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// providerError maps a provider client failure onto the taxonomy.
func providerError(reason string, err error) *Error {
	var upstream *domain.UpstreamError
	var protocol *domain.ProtocolError
	var transport *domain.TransportError
	switch {
	case errors.As(err, &upstream):
		return newError(ErrorUpstream, reason, err)
	case errors.As(err, &protocol):
		return newError(ErrorProtocol, reason, err)
	case errors.As(err, &transport):
		return newError(ErrorTransport, reason, err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}

// AsError extracts a usecase error, wrapping anything else as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return newError(ErrorInternal, "unexpected_error", err)
}
