package reflector

import (
	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/headers"
)

// methodPause acknowledges a pause request (spec §4.5 PAUSE). The
// reflector does not stop a publisher's ingest on PAUSE - a push source
// keeps writing into the Frame Buffer regardless of any one subscriber's
// state - so this is a bookkeeping no-op beyond confirming the session.
func (s *Server) methodPause(rc *requestContext) (*base.Response, error) {
	if rc.session == nil {
		return sessionNotFound(), nil
	}
	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: rc.session.ID}.Write()},
	}, nil
}

// methodTeardown detaches a ClientSession from its ReflectorSession,
// forgets the session directory entry, and acknowledges (spec §4.5
// TEARDOWN).
func (s *Server) methodTeardown(rc *requestContext) (*base.Response, error) {
	if rc.session == nil {
		return sessionNotFound(), nil
	}

	s.detachClientSession(rc.session, rc.conn.id)
	s.forgetSession(rc.session.ID)

	rc.conn.mu.Lock()
	if rc.conn.session == rc.session {
		rc.conn.session = nil
	}
	rc.conn.mu.Unlock()

	return &base.Response{StatusCode: base.StatusOK, Header: make(base.Header)}, nil
}
