package reflector

import (
	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
)

// responseForError turns any error a role returned into a RTSP response.
// An *errkind.Error maps onto its declared status code; anything else is
// treated as an unclassified internal failure rather than leaking a raw
// Go error string to the wire.
func responseForError(err error) *base.Response {
	if kerr, ok := err.(*errkind.Error); ok {
		res := &base.Response{
			StatusCode: kerr.Kind.StatusCode(),
			Header:     make(base.Header),
		}
		if kerr.Reason != "" {
			res.Header["X-Reason"] = base.HeaderValue{kerr.Reason}
		}
		return res
	}

	return &base.Response{
		StatusCode: base.StatusInternalServerError,
		Header:     make(base.Header),
	}
}

// sessionNotFound is the canned response for a CSeq/Session mismatch
// (spec §7).
func sessionNotFound() *base.Response {
	return &base.Response{StatusCode: base.StatusSessionNotFound, Header: make(base.Header)}
}

// methodNotValidInThisState is the canned response for e.g. PLAY before
// SETUP (spec §7).
func methodNotValidInThisState() *base.Response {
	return &base.Response{StatusCode: base.StatusMethodNotValidInThisState, Header: make(base.Header)}
}

// unsupportedTransport is the canned response for a Transport header the
// server cannot honor (spec §7).
func unsupportedTransport() *base.Response {
	return &base.Response{StatusCode: base.StatusUnsupportedTransport, Header: make(base.Header)}
}
