package reflector

import (
	"strings"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/sourcedesc"
)

// methodAnnounce registers a push-mode broadcast's source description, or,
// for a `.kill`-suffixed path, tears one down (spec §4.5 ANNOUNCE, spec
// §SPEC_FULL item 1 ".kill precedence").
func (s *Server) methodAnnounce(rc *requestContext) (*base.Response, error) {
	path := strings.TrimPrefix(rc.req.URL.Path, "/")

	if strings.HasSuffix(path, ".kill") {
		return s.handleAnnouncedKill(strings.TrimSuffix(path, ".kill"))
	}

	if !s.Config.AllowBroadcasts || !s.Config.EnableBroadcastAnnounce {
		return nil, errkind.New(errkind.Forbidden, "announce disabled")
	}

	name, err := broadcastName(rc.req.URL.Path, s.Config.AllowNonSDPURLs)
	if err != nil {
		return nil, errkind.New(errkind.BadRequest, err.Error())
	}

	if s.Config.MaxSDPSizeBytes > 0 && len(rc.req.Content) > s.Config.MaxSDPSizeBytes {
		return nil, errkind.New(errkind.PreconditionFailed, "sdp too large")
	}

	localSDP, descriptor, err := s.repairAndDescribe(rc.req.Content, rc, sourcedesc.DirectionPush)
	if err != nil {
		return nil, errkind.New(errkind.UnsupportedMediaType, "invalid sdp").WithReason(err.Error())
	}

	if s.Config.EnforceStaticSDPPortRange {
		for _, st := range descriptor.Streams {
			if st.Transport != sourcedesc.TransportTCPInterleaved && st.DestPort != 0 &&
				(st.DestPort < s.Config.MinimumStaticSDPPort || st.DestPort > s.Config.MaximumStaticSDPPort) {
				return nil, errkind.New(errkind.UnsupportedMediaType, "port outside configured range").
					WithReason("PortRangeViolation")
			}
		}
	}

	candidate := NewReflectorSession(name, descriptor, s.Config, s.pool, s.log)
	rsess, inserted := s.Registry.ResolveOrRegister(name, candidate)
	if !inserted {
		defer s.Registry.Release(rsess)
	} else if err := rsess.Setup(s.Config.FrameBufferCapacity, s.Config.effectivePacingTolerance(), localSDP); err != nil {
		s.forceUnregister(name)
		return nil, err
	}

	s.SDPCache.Put(s.SDPCache.Key(name, 0), localSDP)

	return &base.Response{StatusCode: base.StatusOK, Header: make(base.Header)}, nil
}

// handleAnnouncedKill forcibly tears down name's broadcast regardless of
// how many clients are attached (spec §SPEC_FULL item 1, end-to-end
// scenario 4). allow_announced_kill and allow_broadcasts are both
// required, matching the original's two-flag precedence.
func (s *Server) handleAnnouncedKill(name string) (*base.Response, error) {
	if !s.Config.AllowBroadcasts || !s.Config.AllowAnnouncedKill {
		return nil, errkind.New(errkind.Forbidden, "announced kill disabled")
	}

	rsess, ok := s.Registry.Unregister(name)
	if !ok {
		return nil, errkind.New(errkind.NotFound, "broadcast not found")
	}

	if pub, ok := rsess.Publisher(); ok {
		if c, ok := s.connByID(pub.ConnectionID); ok {
			c.Terminate()
		}
	}

	rsess.tearDownAllSubscribers()
	s.SDPCache.Clear(s.SDPCache.Key(name, 0))

	return &base.Response{StatusCode: base.StatusOK, Header: make(base.Header)}, nil
}
