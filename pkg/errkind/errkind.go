// Package errkind defines the typed error kinds the reflector's pipeline
// distinguishes at its dispatch boundary (spec §7), each mapping onto a
// RTSP status code.
package errkind

import "github.com/kelpstream/rtsp-reflector/pkg/base"

// Kind identifies the class of failure a role returned.
type Kind int

// error kinds.
const (
	BadRequest Kind = iota
	Unauthorized
	Forbidden
	NotFound
	PreconditionFailed
	UnsupportedMediaType
	HeaderFieldNotValid
	ServerUnavailable
	NotEnoughBandwidth
	Internal
)

// Error is a typed pipeline error: every role that fails returns one of
// these instead of an ad-hoc wrapped error, so the pipeline can pick a
// status code with a single type switch instead of string matching.
type Error struct {
	Kind    Kind
	Message string
	Reason  string // machine-readable sub-reason, e.g. "DuplicateBroadcastStream"
}

// Error implements error.
func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Message + " (" + e.Reason + ")"
	}
	return e.Message
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithReason attaches a machine-readable sub-reason, e.g. for the
// PreconditionFailed/DuplicateBroadcastStream case in end-to-end scenario 3.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// StatusCode returns the RTSP status code this Kind maps onto.
func (k Kind) StatusCode() base.StatusCode {
	switch k {
	case BadRequest:
		return base.StatusBadRequest
	case Unauthorized:
		return base.StatusUnauthorized
	case Forbidden:
		return base.StatusForbidden
	case NotFound:
		return base.StatusNotFound
	case PreconditionFailed:
		return base.StatusPreconditionFailed
	case UnsupportedMediaType:
		return base.StatusUnsupportedMediaType
	case HeaderFieldNotValid:
		return base.StatusHeaderFieldNotValidForResource
	case ServerUnavailable:
		return base.StatusServiceUnavailable
	case NotEnoughBandwidth:
		return base.StatusNotEnoughBandwidth
	default:
		return base.StatusInternalServerError
	}
}
