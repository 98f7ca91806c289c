package reflector

import "github.com/kelpstream/rtsp-reflector/pkg/base"

// methodSetParameter acknowledges SET_PARAMETER/GET_PARAMETER (spec §4.5).
// Clients commonly send a body-less SET_PARAMETER purely as a session
// keepalive ping; the reflector defines no parameters of its own, so both
// methods are a bare acknowledgement.
func (s *Server) methodSetParameter(rc *requestContext) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK, Header: make(base.Header)}, nil
}
