package reflector

import "github.com/kelpstream/rtsp-reflector/pkg/base"

var supportedMethods = []string{
	string(base.Options), string(base.Describe), string(base.Announce),
	string(base.Setup), string(base.Play), string(base.Record),
	string(base.Pause), string(base.Teardown), string(base.SetParameter),
	string(base.GetParameter),
}

func publicMethodList() string {
	out := ""
	for i, m := range supportedMethods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

// methodOptions replies with the public method list (spec §4.5 OPTIONS).
// A request body, if present, is echoed back unchanged so a client can use
// OPTIONS as a round-trip probe.
func (s *Server) methodOptions(rc *requestContext) (*base.Response, error) {
	res := &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Public": base.HeaderValue{publicMethodList()}},
	}
	if len(rc.req.Content) > 0 {
		res.Body = rc.req.Content
	}
	return res, nil
}
