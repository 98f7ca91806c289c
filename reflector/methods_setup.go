package reflector

import (
	"net"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/headers"
)

// openUDPSenderPair binds an ephemeral RTP/RTCP UDP socket pair used to
// send packets toward a pull-mode subscriber's negotiated client_port
// (spec §4.3 Setup, pull direction).
func openUDPSenderPair() (*net.UDPConn, *net.UDPConn, error) {
	rtp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, nil, err
	}
	rtcp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		rtp.Close() //nolint:errcheck
		return nil, nil, err
	}
	return rtp, rtcp, nil
}

func outputTransportFor(th headers.Transport) OutputTransport {
	if th.Protocol == headers.TransportProtocolTCP {
		return OutputTransportTCPInterleaved
	}
	return OutputTransportUDP
}

func setupResponse(cs *ClientSession, th headers.Transport) *base.Response {
	return &base.Response{
		StatusCode: base.StatusOK,
		Header: base.Header{
			"Transport": th.Write(),
			"Session":   headers.Session{Session: cs.ID}.Write(),
		},
	}
}

// methodSetup binds one track id to a negotiated transport (spec §4.5
// SETUP): in push mode it makes this ClientSession the session's
// publisher; in pull mode it attaches a Subscriber Output.
func (s *Server) methodSetup(rc *requestContext) (*base.Response, error) {
	if s.Config.MaxConnections > 0 && s.connCount() > s.Config.MaxConnections {
		return nil, errkind.New(errkind.NotEnoughBandwidth, "connection limit reached")
	}

	pathNoTrack, trackID, ok := splitTrackID(rc.req.URL.Path)
	if !ok {
		return nil, errkind.New(errkind.BadRequest, "SETUP url missing /trackID=N")
	}
	name, err := broadcastName(pathNoTrack, s.Config.AllowNonSDPURLs)
	if err != nil {
		return nil, errkind.New(errkind.BadRequest, err.Error())
	}

	rsess, ok := s.Registry.Resolve(name)
	if !ok {
		return nil, errkind.New(errkind.NotFound, "broadcast not found")
	}
	defer s.Registry.Release(rsess)

	stream, ok := rsess.Stream(trackID)
	if !ok {
		return nil, errkind.New(errkind.BadRequest, "unknown track id")
	}

	tv, ok := rc.req.Header["Transport"]
	if !ok {
		return nil, errkind.New(errkind.BadRequest, "Transport header missing")
	}
	var th headers.Transport
	if err := th.Read(tv); err != nil {
		return unsupportedTransport(), nil
	}

	if rc.session == nil {
		cs := NewClientSession(s.Config.SessionTimeout)
		s.registerSession(cs)
		rc.conn.mu.Lock()
		rc.conn.session = cs
		rc.conn.mu.Unlock()
		rc.session = cs
	}
	cs := rc.session
	cs.BindConnection(rc.conn.id)

	rtpCh, rtcpCh := trackID*2, trackID*2+1
	if th.InterleavedIDs != nil {
		rtpCh, rtcpCh = th.InterleavedIDs[0], th.InterleavedIDs[1]
	}

	push := th.Mode != nil && *th.Mode == headers.TransportModeRecord

	if push {
		if !s.Config.EnableBroadcastPush {
			return nil, errkind.New(errkind.Forbidden, "push disabled")
		}

		if err := rsess.SetPublisher(PublisherIdentity{ConnectionID: rc.conn.id, Push: true}, s.Config.AllowDuplicateBroadcasts); err != nil {
			return nil, err
		}
		cs.AttachReflector(name, true)

		respTransport := th
		tt := &TrackTransport{TrackID: trackID}
		if th.Protocol == headers.TransportProtocolTCP {
			tt.Interleaved = true
			tt.RTPChannel, tt.RTCPChannel = rtpCh, rtcpCh
			respTransport.InterleavedIDs = &[2]int{rtpCh, rtcpCh}
		} else {
			desc := stream.Descriptor
			respTransport.ServerPorts = &[2]int{desc.DestPort, desc.RTCPPort()}
		}
		cs.SetTrack(tt)

		return setupResponse(cs, respTransport), nil
	}

	cs.AttachReflector(name, false)

	respTransport := th
	tt := &TrackTransport{TrackID: trackID}
	var sink PacketSink

	if th.Protocol == headers.TransportProtocolTCP {
		sink = NewTCPPacketSink(rc.conn, rtpCh)
		tt.Interleaved = true
		tt.RTPChannel, tt.RTCPChannel = rtpCh, rtcpCh
		respTransport.InterleavedIDs = &[2]int{rtpCh, rtcpCh}
	} else {
		if th.ClientPorts == nil {
			return unsupportedTransport(), nil
		}
		rtpConn, rtcpConn, err := openUDPSenderPair()
		if err != nil {
			return nil, errkind.New(errkind.Internal, "udp sink allocation failed").WithReason(err.Error())
		}

		clientIP := net.ParseIP(rc.conn.remoteHost())
		rtpAddr := &net.UDPAddr{IP: clientIP, Port: th.ClientPorts[0]}
		rtcpAddr := &net.UDPAddr{IP: clientIP, Port: th.ClientPorts[1]}
		sink = NewUDPPacketSink(rtpConn, rtcpConn, rtpAddr, rtcpAddr)

		tt.ClientRTPPort, tt.ClientRTCPPort = th.ClientPorts[0], th.ClientPorts[1]
		tt.ClientAddr = rc.conn.remoteHost()
		respTransport.ServerPorts = &[2]int{
			rtpConn.LocalAddr().(*net.UDPAddr).Port,
			rtcpConn.LocalAddr().(*net.UDPAddr).Port,
		}
	}

	output := NewSubscriberOutput(trackID, outputTransportFor(th), sink, s.log)
	if err := rsess.AddSubscriber(trackID, output); err != nil {
		return nil, err
	}
	tt.Output = output
	cs.SetTrack(tt)

	return setupResponse(cs, respTransport), nil
}
