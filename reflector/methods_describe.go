package reflector

import (
	"time"

	psdp "github.com/pion/sdp/v3"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/sourcedesc"
)

// sdpResponse wraps a repaired SDP body in a 200 OK with the right
// Content-Type (spec §4.5 DESCRIBE/ANNOUNCE).
func sdpResponse(sdp []byte) *base.Response {
	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Content-Type": base.HeaderValue{"application/sdp"}},
		Body:       sdp,
	}
}

// repairAndDescribe parses raw SDP bytes, repairs the required v=/s=/t=/o=
// lines, builds the source descriptor from the (repaired) media sections,
// and renders the stripped subscriber-facing SDP text (spec §6, §9 "SDP
// repair").
func (s *Server) repairAndDescribe(raw []byte, rc *requestContext, direction sourcedesc.SetupDirection) ([]byte, sourcedesc.SourceDescriptor, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, sourcedesc.SourceDescriptor{}, err
	}

	ua, _ := rc.req.Header.Get("User-Agent")
	sourcedesc.Repair(&sd, time.Now(), ua, rc.conn.remoteHost(), "")

	descriptor, err := sourcedesc.ParseSourceDescriptor(&sd, direction)
	if err != nil {
		return nil, sourcedesc.SourceDescriptor{}, err
	}

	local := sourcedesc.BuildLocalSDP(descriptor, "", ua, s.Config.CompatibilityAdjustSDPMediaBandwidthPercent)
	out, err := local.Marshal()
	if err != nil {
		return nil, sourcedesc.SourceDescriptor{}, err
	}

	return out, descriptor, nil
}

// methodDescribe resolves or creates a pull-mode Reflector Session and
// returns its local SDP (spec §4.5 DESCRIBE). DESCRIBE never carries a
// Session header (spec §7 HeaderFieldNotValid).
func (s *Server) methodDescribe(rc *requestContext) (*base.Response, error) {
	if _, ok := rc.req.Header.Get("Session"); ok {
		return nil, errkind.New(errkind.HeaderFieldNotValid, "DESCRIBE must not carry a Session header")
	}

	name, err := broadcastName(rc.req.URL.Path, s.Config.AllowNonSDPURLs)
	if err != nil {
		return nil, errkind.New(errkind.BadRequest, err.Error())
	}

	if rsess, ok := s.Registry.Resolve(name); ok {
		defer s.Registry.Release(rsess)
		return sdpResponse(rsess.LocalSDP()), nil
	}

	key := s.SDPCache.Key(name, 0)

	raw, ok := s.SDPCache.Get(key)
	if !ok {
		if s.SDPSource == nil {
			return nil, errkind.New(errkind.NotFound, "broadcast not found")
		}
		raw, ok = s.SDPSource(name)
		if !ok {
			return nil, errkind.New(errkind.NotFound, "broadcast not found")
		}
	}

	localSDP, descriptor, err := s.repairAndDescribe(raw, rc, sourcedesc.DirectionPull)
	if err != nil {
		return nil, errkind.New(errkind.UnsupportedMediaType, "invalid sdp").WithReason(err.Error())
	}

	candidate := NewReflectorSession(name, descriptor, s.Config, s.pool, s.log)
	rsess, inserted := s.Registry.ResolveOrRegister(name, candidate)
	if !inserted {
		defer s.Registry.Release(rsess)
		return sdpResponse(rsess.LocalSDP()), nil
	}

	if err := rsess.Setup(s.Config.FrameBufferCapacity, s.Config.effectivePacingTolerance(), localSDP); err != nil {
		s.forceUnregister(name)
		return nil, err
	}
	s.SDPCache.Put(key, localSDP)

	return sdpResponse(rsess.LocalSDP()), nil
}
