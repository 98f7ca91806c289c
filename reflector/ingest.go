package reflector

import (
	"errors"
	"fmt"
	"net"

	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/multicast"
)

// udpIngest owns the receive side of a unicast ingest socket pair for one
// Reflector Stream (spec §4.2 "owns UDP socket pair"). It only receives;
// packets to subscribers leave through separate sockets.
type udpIngest struct {
	rtp  *net.UDPConn
	rtcp *net.UDPConn
}

func (u *udpIngest) close() {
	if u.rtp != nil {
		u.rtp.Close() //nolint:errcheck
	}
	if u.rtcp != nil {
		u.rtcp.Close() //nolint:errcheck
	}
}

// the two distinguishable ingest bind failures of spec §4.3; anything
// else is an unclassified internal failure.
var (
	errPortRangeViolation = errors.New("static sdp port range cannot hold an rtp/rtcp pair")
	errBindInUse          = errors.New("no free udp port pair in range")
)

// allocateUDPPair binds an even/odd UDP port pair (RTP/RTCP, spec §3
// "destination port (even number); port+1 is RTCP") within [minPort,
// maxPort]. A zero range falls back to the conventional RTP ephemeral
// range. A configured range too narrow for a pair is errPortRangeViolation;
// a range whose every candidate pair is already bound is errBindInUse.
func allocateUDPPair(minPort, maxPort int) (*udpIngest, int, error) {
	if minPort <= 0 {
		minPort = 16384
	}
	if minPort%2 != 0 {
		minPort++
	}
	if maxPort <= 0 {
		maxPort = minPort + 16384
	}
	if maxPort < minPort+1 {
		return nil, 0, errPortRangeViolation
	}

	for p := minPort; p+1 <= maxPort; p += 2 {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: p})
		if err != nil {
			continue
		}
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: p + 1})
		if err != nil {
			rtpConn.Close() //nolint:errcheck
			continue
		}
		return &udpIngest{rtp: rtpConn, rtcp: rtcpConn}, p, nil
	}

	return nil, 0, fmt.Errorf("%w %d-%d", errBindInUse, minPort, maxPort)
}

// setupIngestError maps an ingest bind failure onto the distinct Setup
// failure kinds named in spec §4.3.
func setupIngestError(err error) error {
	switch {
	case errors.Is(err, errPortRangeViolation):
		return errkind.New(errkind.UnsupportedMediaType, "static sdp port range cannot hold a stream").
			WithReason("PortRangeViolation")
	case errors.Is(err, errBindInUse):
		return errkind.New(errkind.ServerUnavailable, "ingest port pair unavailable").
			WithReason("BindInUse")
	default:
		return errkind.New(errkind.Internal, "ingest bind failed").WithReason(err.Error())
	}
}

// serverLocalAddr reports whether ip belongs to this host, the
// "server-local" arm of StreamDescriptor.IsReflectable (spec §3).
func serverLocalAddr(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// multicastIngest wraps a joined multicast group as a Reflector Stream's
// ingest source, for streams whose destination is a multicast address
// (spec §3 IsReflectable, spec §1 "per-stream TTL forwarding").
type multicastIngest struct {
	rtp  *multicast.Conn
	rtcp *multicast.Conn
}

func (m *multicastIngest) close() {
	if m.rtp != nil {
		m.rtp.Close() //nolint:errcheck
	}
	if m.rtcp != nil {
		m.rtcp.Close() //nolint:errcheck
	}
}

func joinMulticastPair(addr net.IP, port, ttl int) (*multicastIngest, error) {
	rtp, err := multicast.Listen(fmt.Sprintf("%s:%d", addr.String(), port), ttl)
	if err != nil {
		return nil, err
	}
	rtcp, err := multicast.Listen(fmt.Sprintf("%s:%d", addr.String(), port+1), ttl)
	if err != nil {
		rtp.Close() //nolint:errcheck
		return nil, err
	}
	return &multicastIngest{rtp: rtp, rtcp: rtcp}, nil
}

const udpReadBufferSize = 2048

// pumpUDPIngest reads datagrams off conn until it errors (socket closed by
// TearDown) and forwards each to stream.PushPacket, tagging it RTP or RTCP
// via isRTCP.
func pumpUDPIngest(conn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
}, stream *ReflectorStream, isRTCP bool) {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		stream.PushPacket(payload, isRTCP)
	}
}
