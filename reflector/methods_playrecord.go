package reflector

import (
	"fmt"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/headers"
)

// methodPlay starts delivery to a pull-mode ClientSession (spec §4.5
// PLAY). When force_rtp_info_sequence_and_time is set and no track has a
// buffered packet yet, it asks the pipeline for idle time and retries, up
// to rtp_info_wait_loops times (spec §9 "PLAY ... not yet buffered" open
// question, resolved per original_source/QTSSReflectorModule.cpp's
// decrementing wait-loop counter).
func (s *Server) methodPlay(rc *requestContext) (*base.Response, error) {
	if rc.session == nil {
		return sessionNotFound(), nil
	}
	cs := rc.session
	if cs.IsPublisher() {
		return methodNotValidInThisState(), nil
	}

	name, ok := cs.ReflectorName()
	if !ok {
		return methodNotValidInThisState(), nil
	}

	rsess, ok := s.Registry.Resolve(name)
	if !ok {
		return nil, errkind.New(errkind.NotFound, "broadcast not found")
	}
	defer s.Registry.Release(rsess)

	tracks := cs.Tracks()

	if rc.waitLoopsLeft < 0 {
		rc.waitLoopsLeft = s.Config.RTPInfoWaitLoops
	}

	allReady := true
	for _, t := range tracks {
		stream, ok := rsess.Stream(t.TrackID)
		if !ok {
			continue
		}
		if _, has := stream.FirstPacketInfo(); !has {
			allReady = false
		}
	}

	if !allReady && s.Config.ForceRTPInfoSequenceAndTime {
		if rc.waitLoopsLeft <= 0 {
			return nil, errkind.New(errkind.NotFound, "no buffered packets available")
		}
		rc.waitLoopsLeft--
		return nil, errNeedsIdle
	}

	var rtpInfo headers.RTPInfo
	for _, t := range tracks {
		if t.Output != nil {
			t.Output.InitializeStreams()
		}

		stream, ok := rsess.Stream(t.TrackID)
		if !ok {
			continue
		}

		e := &headers.RTPInfoEntry{URL: fmt.Sprintf("%s/trackID=%d", rc.req.URL.String(), t.TrackID)}
		if entry, has := stream.FirstPacketInfo(); has {
			seq := entry.Sequence
			ts := entry.Timestamp
			e.SequenceNumber = &seq
			e.Timestamp = &ts
		}
		rtpInfo = append(rtpInfo, e)
	}

	res := &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: cs.ID}.Write()},
	}
	if len(rtpInfo) > 0 {
		res.Header["RTP-Info"] = rtpInfo.Write()
	}
	if s.Config.EnablePlayResponseRangeHeader {
		res.Header["Range"] = base.HeaderValue{"npt=now-"}
	}

	return res, nil
}

// methodRecord acknowledges a push-mode ClientSession's start of data
// delivery (spec §4.5 RECORD). The publisher's datagrams are already
// flowing into the stream's Frame Buffer by this point - SETUP is what
// bound the ingest socket - so there is nothing left to start here beyond
// confirming the session.
func (s *Server) methodRecord(rc *requestContext) (*base.Response, error) {
	if rc.session == nil || !rc.session.IsPublisher() {
		return methodNotValidInThisState(), nil
	}
	return &base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"Session": headers.Session{Session: rc.session.ID}.Write()},
	}, nil
}
