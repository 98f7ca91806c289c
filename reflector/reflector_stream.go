package reflector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kelpstream/rtsp-reflector/internal/scheduler"
	"github.com/kelpstream/rtsp-reflector/pkg/framebuffer"
	"github.com/kelpstream/rtsp-reflector/pkg/sourcedesc"
)

// StreamState is the Reflector Stream lifecycle (spec §4.2).
type StreamState int

// stream states.
const (
	StreamIdle StreamState = iota
	StreamReceiving
	StreamTornDown
)

// streamSubscriber is the stream-side bookkeeping for one attached
// SubscriberOutput: its Frame Buffer cursor and a rate limiter. The limiter
// is created with an infinite rate, so it never holds a packet back; there
// is no per-subscriber send deadline.
type streamSubscriber struct {
	out     *SubscriberOutput
	cursor  *framebuffer.Cursor
	limiter *rate.Limiter

	// pending is a packet the subscriber's transport reported WouldBlock
	// on; it is retried before the cursor advances, so back-pressure
	// pauses the subscriber without losing the packet.
	pending *framebuffer.Entry
}

// ReflectorStream ingests one media track, stores it in a FrameBuffer, and
// paces it out to every attached subscriber (spec §4.2).
type ReflectorStream struct {
	Descriptor sourcedesc.StreamDescriptor

	mu          sync.Mutex
	state       StreamState
	buffer      *framebuffer.FrameBuffer
	subscribers map[*SubscriberOutput]*streamSubscriber
	pacingTol   time.Duration

	udpIn *udpIngest
	mcIn  *multicastIngest

	log zerolog.Logger
}

// StartIngest binds (or joins) this stream's receive socket pair and
// begins pumping datagrams into its Frame Buffer. It is a no-op for
// TCP-interleaved streams, whose packets arrive via the bound
// RTSPConnection's dispatchInterleaved instead (spec §4.5 "interleaved
// data dispatch"). On success Descriptor.DestPort is updated to the port
// actually bound, which is what the published SDP and SETUP's
// server_port echo must agree on.
func (s *ReflectorStream) StartIngest(cfg Config) error {
	if s.Descriptor.Transport == sourcedesc.TransportTCPInterleaved {
		return nil
	}

	if s.Descriptor.DestAddr != nil && s.Descriptor.DestAddr.IsMulticast() {
		mc, err := joinMulticastPair(s.Descriptor.DestAddr, s.Descriptor.DestPort, s.Descriptor.TTL)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.mcIn = mc
		s.mu.Unlock()
		go pumpUDPIngest(mc.rtp, s, false)
		go pumpUDPIngest(mc.rtcp, s, true)
		return nil
	}

	minPort, maxPort := cfg.MinimumStaticSDPPort, cfg.MaximumStaticSDPPort
	if !cfg.EnforceStaticSDPPortRange {
		minPort, maxPort = 0, 0
	}

	in, port, err := allocateUDPPair(minPort, maxPort)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.udpIn = in
	s.Descriptor.DestPort = port
	s.mu.Unlock()

	go pumpUDPIngest(in.rtp, s, false)
	go pumpUDPIngest(in.rtcp, s, true)
	return nil
}

// NewReflectorStream allocates a stream for descriptor with the given
// FrameBuffer capacity (must be a power of two).
func NewReflectorStream(
	descriptor sourcedesc.StreamDescriptor,
	bufferCapacity uint64,
	pacingTolerance time.Duration,
	log zerolog.Logger,
) (*ReflectorStream, error) {
	buf, err := framebuffer.New(bufferCapacity)
	if err != nil {
		return nil, err
	}

	return &ReflectorStream{
		Descriptor:  descriptor,
		state:       StreamIdle,
		buffer:      buf,
		subscribers: make(map[*SubscriberOutput]*streamSubscriber),
		pacingTol:   pacingTolerance,
		log: log.With().
			Int("track", descriptor.TrackID).
			Str("media", descriptor.MediaType).
			Logger(),
	}, nil
}

// rtpHeaderInfo extracts just the sequence number and timestamp the Frame
// Buffer and RTP-Info generation need, without touching the payload -
// the reflector forwards bytes unmodified and never decodes a codec.
func rtpHeaderInfo(payload []byte) (seq uint16, ts uint32, ok bool) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		return 0, 0, false
	}
	return pkt.SequenceNumber, pkt.Timestamp, true
}

// rtcpTimingInfo extracts the NTP/RTP timestamp pair from an inbound RTCP
// Sender Report, used by SubscriberOutput to rewrite RTCP timing relative
// to each subscriber's own stream start (spec §4.7).
func rtcpTimingInfo(payload []byte) (ntp uint64, rtpTime uint32, ok bool) {
	pkts, err := rtcp.Unmarshal(payload)
	if err != nil {
		return 0, 0, false
	}
	for _, p := range pkts {
		if sr, isSR := p.(*rtcp.SenderReport); isSR {
			return sr.NTPTime, sr.RTPTime, true
		}
	}
	return 0, 0, false
}

// PushPacket is the single ingest producer's entry point: it is called once
// per received RTP or RTCP datagram/interleaved-frame payload.
func (s *ReflectorStream) PushPacket(payload []byte, isRTCP bool) {
	kind := framebuffer.KindRTP
	var seq uint16
	var ts uint32

	if isRTCP {
		kind = framebuffer.KindRTCP
		_, rtpTime, ok := rtcpTimingInfo(payload)
		if ok {
			ts = rtpTime
		}
	} else {
		if hseq, hts, ok := rtpHeaderInfo(payload); ok {
			seq, ts = hseq, hts
		}
	}

	s.mu.Lock()
	if s.state == StreamIdle {
		s.state = StreamReceiving
	}
	s.mu.Unlock()

	s.buffer.Append(kind, seq, ts, time.Now(), payload)
}

// AttachSubscriber registers out as a reader of this stream, seeding its
// cursor at the buffer head.
func (s *ReflectorStream) AttachSubscriber(out *SubscriberOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[out] = &streamSubscriber{
		out:     out,
		cursor:  s.buffer.NewCursor(),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// DetachSubscriber removes out; write errors from a subscriber's transport
// remove only that subscriber, never the stream (spec §4.2 failure
// semantics).
func (s *ReflectorStream) DetachSubscriber(out *SubscriberOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, out)
}

// FirstPacketInfo delegates to the Frame Buffer, used to bootstrap RTP-Info.
func (s *ReflectorStream) FirstPacketInfo() (framebuffer.Entry, bool) {
	return s.buffer.FirstPacketInfo()
}

// SubscriberCount reports how many subscribers are currently attached.
func (s *ReflectorStream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// pumpSubscribers drains every ready entry to every attached subscriber
// cursor. It is invoked by the stream's scheduler Task; it never blocks.
func (s *ReflectorStream) pumpSubscribers() {
	s.mu.Lock()
	subs := make([]*streamSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		s.pumpOne(sub)
	}
}

func (s *ReflectorStream) pumpOne(sub *streamSubscriber) {
	if sub.pending != nil {
		if !s.deliver(sub, *sub.pending) {
			return
		}
		sub.pending = nil
	}

	for {
		entry, res := sub.cursor.Next()
		switch res {
		case framebuffer.ReadEmpty, framebuffer.ReadClosed:
			return

		case framebuffer.ReadLost:
			sub.out.NotifyLost()
			if !s.deliver(sub, entry) {
				return
			}

		case framebuffer.ReadOK:
			// Thinning: a packet whose observed lateness exceeds the
			// pacing tolerance is dropped when it is RTP; RTCP is never
			// dropped. The per-subscriber limiter has an infinite rate,
			// so its Allow check never drops a packet.
			if entry.Kind == framebuffer.KindRTP {
				if s.pacingTol > 0 && time.Since(entry.ArrivalTime) > s.pacingTol {
					continue
				}
				if !sub.limiter.Allow() {
					continue
				}
			}
			if !s.deliver(sub, entry) {
				return
			}
		}
	}
}

// deliver writes one entry to sub and reports whether the pump may keep
// going. WouldBlock parks the entry on the subscriber and pauses it until
// the next pump tick; any other write error detaches that subscriber only
// (spec §4.2 failure semantics, §4.7 back-pressure).
func (s *ReflectorStream) deliver(sub *streamSubscriber, entry framebuffer.Entry) bool {
	err := sub.out.WritePacket(entry)
	if err == nil {
		return true
	}

	if errors.Is(err, ErrWouldBlock) {
		sub.pending = &entry
		return false
	}

	s.log.Debug().Err(err).Msg("subscriber write failed, detaching")
	s.DetachSubscriber(sub.out)
	return false
}

// TearDown moves the stream to its terminal state. Only the parent
// ReflectorSession calls this (spec §4.2: "Terminal only after the parent
// session tears down").
func (s *ReflectorStream) TearDown() {
	s.mu.Lock()
	s.state = StreamTornDown
	udpIn := s.udpIn
	mcIn := s.mcIn
	s.udpIn = nil
	s.mcIn = nil
	s.mu.Unlock()

	if udpIn != nil {
		udpIn.close()
	}
	if mcIn != nil {
		mcIn.close()
	}
	s.buffer.Close()
}

// isTornDown reports whether TearDown has been called.
func (s *ReflectorStream) isTornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StreamTornDown
}

// pumpTick is how often the pump task drains subscriber cursors. It is
// independent of the per-subscriber limiters; thinning is decided by the
// stream's pacing tolerance, not by the scheduler's own wake cadence.
const pumpTick = 5 * time.Millisecond

// pumpTask is the scheduler.Task that drives pumpSubscribers: one
// schedulable unit per Reflector Stream, per spec §5 ("each reflector
// stream is a task").
type pumpTask struct {
	stream *ReflectorStream
}

// PumpTask returns the schedulable task that drains this stream's
// subscriber cursors until the stream tears down.
func (s *ReflectorStream) PumpTask() *pumpTask {
	return &pumpTask{stream: s}
}

// Step implements scheduler.Task.
func (t *pumpTask) Step(_ context.Context) scheduler.Result {
	if t.stream.isTornDown() {
		return scheduler.Result{Verdict: scheduler.Done}
	}
	t.stream.pumpSubscribers()
	return scheduler.Result{Verdict: scheduler.RescheduleAfter, After: pumpTick}
}
