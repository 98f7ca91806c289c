package reflector

import (
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"

	"github.com/kelpstream/rtsp-reflector/pkg/framebuffer"
	"github.com/kelpstream/rtsp-reflector/pkg/rtpseq"
)

// Transport is how a SubscriberOutput delivers packets to its client.
type OutputTransport int

// output transports.
const (
	OutputTransportUDP OutputTransport = iota
	OutputTransportTCPInterleaved
)

// PacketSink is whatever writes the final bytes to a subscriber: a UDP
// socket pair, or the owning RTSPConnection's interleaved-frame writer.
type PacketSink interface {
	// SendRTP/SendRTCP deliver one packet on the given track. WouldBlock
	// must be returned (not an error) when the transport needs the caller
	// to back off (spec §4.7's TCP interleaved back-pressure).
	SendRTP(trackID int, payload []byte) error
	SendRTCP(trackID int, payload []byte) error
}

// ErrWouldBlock signals TCP back-pressure; the pipeline pauses this
// subscriber until the socket reports writable again.
var ErrWouldBlock = &wouldBlockError{}

type wouldBlockError struct{}

func (*wouldBlockError) Error() string { return "would block" }

// SubscriberOutput is a per-subscriber, per-stream cursor over a
// ReflectorStream's Frame Buffer that writes packets to the subscriber's
// transport (spec §4.7).
type SubscriberOutput struct {
	TrackID   int
	Transport OutputTransport
	Sink      PacketSink

	mu            sync.Mutex
	baseArrival   time.Time
	baseNTP       uint64
	baseRTPTime   uint32
	sentSeqs      map[uint16]bool // small recency window, see markSent
	sentOrder     []uint16
	lastSeq       uint16
	haveLast      bool
	lostSignalled bool

	log zerolog.Logger
}

const sentWindowSize = 64

// NewSubscriberOutput allocates an output for trackID delivering through sink.
func NewSubscriberOutput(trackID int, transport OutputTransport, sink PacketSink, log zerolog.Logger) *SubscriberOutput {
	return &SubscriberOutput{
		TrackID:   trackID,
		Transport: transport,
		Sink:      sink,
		sentSeqs:  make(map[uint16]bool, sentWindowSize),
		log:       log.With().Int("track", trackID).Logger(),
	}
}

// InitializeStreams seeds the subscriber's base arrival time; called once
// at PLAY/RECORD time (spec §4.7).
func (o *SubscriberOutput) InitializeStreams() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseArrival = time.Now()
}

// NotifyLost logs a discontinuity signal for a lagging cursor that the
// Frame Buffer fast-forwarded past overwritten entries (spec §4.1, §8
// boundary behavior). This is a log event, not a disconnect.
func (o *SubscriberOutput) NotifyLost() {
	o.mu.Lock()
	already := o.lostSignalled
	o.lostSignalled = true
	o.mu.Unlock()

	if !already {
		o.log.Warn().Msg("subscriber cursor fell behind frame buffer; packets skipped")
	}
}

// alreadySent reports whether seq was delivered before: either still in
// the recency map, or older than the whole window and therefore aged out
// of it. Wraparound-aware per RFC 3550 §A.1.
func (o *SubscriberOutput) alreadySent(seq uint16) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sentSeqs[seq] {
		return true
	}
	return o.haveLast && !rtpseq.Newer(seq, o.lastSeq) &&
		rtpseq.Diff(o.lastSeq, seq) >= sentWindowSize
}

// markSent records seq as delivered. Called only after the transport
// accepted the packet, so a WouldBlock retry is not mistaken for a
// duplicate.
func (o *SubscriberOutput) markSent(seq uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.sentOrder) >= sentWindowSize {
		oldest := o.sentOrder[0]
		o.sentOrder = o.sentOrder[1:]
		delete(o.sentSeqs, oldest)
	}
	o.sentSeqs[seq] = true
	o.sentOrder = append(o.sentOrder, seq)

	if !o.haveLast || rtpseq.Newer(seq, o.lastSeq) {
		o.lastSeq = seq
		o.haveLast = true
	}
}

// rewriteRTCPTiming records the first Sender Report's NTP/RTP time pair as
// this subscriber's base and re-marshals any compound packet holding a
// Sender Report. The reports keep the publisher's NTP and RTP timestamps
// unchanged; they are not made relative to the subscriber's stream start.
func (o *SubscriberOutput) rewriteRTCPTiming(payload []byte) []byte {
	pkts, err := rtcp.Unmarshal(payload)
	if err != nil {
		return payload
	}

	changed := false
	for _, p := range pkts {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			o.mu.Lock()
			if o.baseNTP == 0 {
				o.baseNTP = sr.NTPTime
				o.baseRTPTime = sr.RTPTime
			}
			o.mu.Unlock()
			changed = true
		}
	}

	if !changed {
		return payload
	}

	out, err := rtcp.Marshal(pkts)
	if err != nil {
		return payload
	}
	return out
}

// WritePacket delivers one Frame Buffer entry to the subscriber, per the
// operation contract in spec §4.7. Already-sent packets (tracked by
// sequence number within a small recency window) are skipped to satisfy
// invariant 4 in spec §8.
func (o *SubscriberOutput) WritePacket(entry framebuffer.Entry) error {
	if entry.Kind == framebuffer.KindRTP {
		if o.alreadySent(entry.Sequence) {
			return nil
		}
		if err := o.send(entry.Payload, false); err != nil {
			return err
		}
		o.markSent(entry.Sequence)
		return nil
	}

	return o.send(o.rewriteRTCPTiming(entry.Payload), true)
}

func (o *SubscriberOutput) send(payload []byte, isRTCP bool) error {
	if isRTCP {
		return o.Sink.SendRTCP(o.TrackID, payload)
	}
	return o.Sink.SendRTP(o.TrackID, payload)
}

// TearDown releases any resources this output holds. UDP sinks own their
// own sockets and are closed by the caller; this is a placeholder for
// symmetry with ReflectorStream/ReflectorSession teardown.
func (o *SubscriberOutput) TearDown() {}

// udpPacketSink is a PacketSink that writes datagrams directly to a fixed
// client address pair (RTP port, RTCP port = RTP port + 1).
type udpPacketSink struct {
	rtpConn  net.PacketConn
	rtcpConn net.PacketConn
	rtpAddr  *net.UDPAddr
	rtcpAddr *net.UDPAddr
}

// NewUDPPacketSink builds a PacketSink writing RTP/RTCP to a subscriber's
// negotiated client_port pair.
func NewUDPPacketSink(rtpConn, rtcpConn net.PacketConn, rtpAddr, rtcpAddr *net.UDPAddr) PacketSink {
	return &udpPacketSink{rtpConn: rtpConn, rtcpConn: rtcpConn, rtpAddr: rtpAddr, rtcpAddr: rtcpAddr}
}

func (s *udpPacketSink) SendRTP(_ int, payload []byte) error {
	_, err := s.rtpConn.WriteTo(payload, s.rtpAddr)
	return err
}

func (s *udpPacketSink) SendRTCP(_ int, payload []byte) error {
	_, err := s.rtcpConn.WriteTo(payload, s.rtcpAddr)
	return err
}

// interleavedFrameWriter is implemented by RTSPConnection; kept as a narrow
// interface so SubscriberOutput does not import the connection package.
type interleavedFrameWriter interface {
	WriteInterleavedFrame(channel int, payload []byte) error
}

// tcpPacketSink is a PacketSink writing interleaved frames over the bound
// RTSP/TCP connection (spec §4.6/§6 interleaved framing).
type tcpPacketSink struct {
	conn        interleavedFrameWriter
	rtpChannel  int
	rtcpChannel int
}

// NewTCPPacketSink builds a PacketSink writing interleaved frames on the
// given channel pair (even=RTP, odd=RTCP).
func NewTCPPacketSink(conn interleavedFrameWriter, rtpChannel int) PacketSink {
	return &tcpPacketSink{conn: conn, rtpChannel: rtpChannel, rtcpChannel: rtpChannel + 1}
}

func (s *tcpPacketSink) SendRTP(_ int, payload []byte) error {
	return s.conn.WriteInterleavedFrame(s.rtpChannel, payload)
}

func (s *tcpPacketSink) SendRTCP(_ int, payload []byte) error {
	return s.conn.WriteInterleavedFrame(s.rtcpChannel, payload)
}
