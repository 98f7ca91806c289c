// Package sourcedesc models a broadcast's source description (spec §3:
// StreamDescriptor / SourceDescriptor) and the pure SDP-repair functions
// (spec §9 "SDP repair") built on pion/sdp/v3, the SDP parser the reflector
// treats as an external collaborator (spec §1).
package sourcedesc

import (
	"fmt"
	"net"
)

// Transport is the wire transport a StreamDescriptor uses.
type Transport int

// transports a stream may be set up over.
const (
	TransportUDP Transport = iota
	TransportTCPInterleaved
)

// SetupDirection records whether a stream is fed by a publisher pushing
// data (push) or by the reflector pulling from a pre-configured source
// (pull).
type SetupDirection int

// setup directions.
const (
	DirectionPull SetupDirection = iota
	DirectionPush
)

// DefaultBufferDelaySecs is the default per-stream buffer delay (spec §3).
const DefaultBufferDelaySecs = 3.0

// StreamDescriptor is one media track within a broadcast (spec §3).
type StreamDescriptor struct {
	SourceAddr     net.IP // optional
	DestAddr       net.IP
	DestPort       int // even; DestPort+1 is the RTCP port
	TTL            int
	PayloadType    uint8
	PayloadName    string
	MediaType      string // "video", "audio", "application"
	TrackID        int
	BufferDelay    float64
	Transport      Transport
	SetupDirection SetupDirection
	Timescale      uint32 // RTP clock rate
}

// RTCPPort returns the companion RTCP port for this stream.
func (s StreamDescriptor) RTCPPort() int { return s.DestPort + 1 }

// SourceDescriptor is an ordered list of StreamDescriptors plus an optional
// scheduled active window (spec §3).
type SourceDescriptor struct {
	Streams []StreamDescriptor

	// StartUnixSecs/EndUnixSecs: a zero-length window ([0,0]) means
	// "permanent", per spec §3.
	StartUnixSecs int64
	EndUnixSecs   int64
}

// IsPermanent reports whether the broadcast has no scheduled end.
func (s SourceDescriptor) IsPermanent() bool {
	return s.StartUnixSecs == 0 && s.EndUnixSecs == 0
}

// ValidateTrackIDs enforces the spec §3 invariant that track ids are unique
// within a session.
func (s SourceDescriptor) ValidateTrackIDs() error {
	seen := make(map[int]bool, len(s.Streams))
	for _, st := range s.Streams {
		if seen[st.TrackID] {
			return fmt.Errorf("duplicate track id %d", st.TrackID)
		}
		seen[st.TrackID] = true
	}
	return nil
}

// IsReflectable rejects a stream whose destination is neither multicast nor
// server-local, per the derived predicate in spec §3.
func (s StreamDescriptor) IsReflectable(serverIsLocal func(net.IP) bool) bool {
	if s.DestAddr == nil {
		return false
	}
	if s.DestAddr.IsMulticast() {
		return true
	}
	return serverIsLocal != nil && serverIsLocal(s.DestAddr)
}
