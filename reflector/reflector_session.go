package reflector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelpstream/rtsp-reflector/internal/scheduler"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
	"github.com/kelpstream/rtsp-reflector/pkg/sourcedesc"
)

// pumpSubmitter is the narrow slice of *scheduler.Pool a ReflectorSession
// needs: one PumpTask per stream, submitted once at Setup (spec §5 "each
// reflector stream is a task").
type pumpSubmitter interface {
	Submit(scheduler.Task)
}

// PublisherIdentity identifies whichever connection currently owns the
// write side of a ReflectorSession, by stable id rather than by pointer,
// so ClientSession and ReflectorSession never hold owning references to
// each other (spec REDESIGN FLAGS, cyclic-reference note).
type PublisherIdentity struct {
	ConnectionID string
	Push         bool // true for ANNOUNCE+RECORD, false for a pulled source
}

// ReflectorSession aggregates the Reflector Streams for one source path,
// owns the publisher/subscriber bookkeeping, and serves the stripped SDP
// (spec §4.3).
type ReflectorSession struct {
	Name string

	mu         sync.Mutex
	refcount   int
	descriptor sourcedesc.SourceDescriptor
	streams    map[int]*ReflectorStream
	setupDone  bool
	publisher  *PublisherIdentity
	createdAt  time.Time
	sdp        []byte

	cfg  Config
	pool pumpSubmitter

	log zerolog.Logger
}

// NewReflectorSession builds a session named name for descriptor. Setup
// must be called before any subscriber attaches. cfg and pool feed stream
// ingest socket allocation and the per-stream pump task (spec §4.3 Setup,
// spec §5 "each reflector stream is a task").
func NewReflectorSession(name string, descriptor sourcedesc.SourceDescriptor, cfg Config, pool pumpSubmitter, log zerolog.Logger) *ReflectorSession {
	return &ReflectorSession{
		Name:       name,
		descriptor: descriptor,
		streams:    make(map[int]*ReflectorStream),
		createdAt:  time.Now(),
		cfg:        cfg,
		pool:       pool,
		log:        log.With().Str("session", name).Logger(),
	}
}

func (s *ReflectorSession) addRef() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refcount++
	return s.refcount
}

// release decrements the refcount and returns the value after decrement;
// the SessionRegistry interprets a return of zero as "destroy me".
func (s *ReflectorSession) release() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refcount > 0 {
		s.refcount--
	}
	return s.refcount
}

// RefCount reports the current reference count, used by tests asserting
// invariant 1 from spec §8 ("session exists in the registry iff
// refcount > 0").
func (s *ReflectorSession) RefCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refcount
}

// Setup creates one Reflector Stream per track in the session's source
// descriptor and binds their ingest endpoints. cachedSDP is the
// already-repaired SDP text to serve from localSDP.
func (s *ReflectorSession) Setup(bufferCapacity uint64, pacingTolerance time.Duration, cachedSDP []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setupDone {
		return nil
	}

	for idx, track := range s.descriptor.Streams {
		// a claimed destination that is neither multicast nor one of this
		// host's addresses is refused before anything is bound (spec §3
		// isReflectable, §4.3 AddressUnreflectable).
		if track.DestAddr != nil && !track.IsReflectable(serverLocalAddr) {
			return errkind.New(errkind.UnsupportedMediaType, "destination address is not reflectable").
				WithReason("AddressUnreflectable")
		}

		stream, err := NewReflectorStream(track, bufferCapacity, pacingTolerance, s.log)
		if err != nil {
			return errkind.New(errkind.Internal, "stream setup failed").WithReason(err.Error())
		}

		if err := stream.StartIngest(s.cfg); err != nil {
			return setupIngestError(err)
		}

		s.streams[track.TrackID] = stream
		s.descriptor.Streams[idx] = stream.Descriptor // DestPort may have been assigned by StartIngest

		if s.pool != nil {
			s.pool.Submit(stream.PumpTask())
		}
	}

	s.sdp = cachedSDP
	s.setupDone = true
	return nil
}

// Descriptor returns the session's source descriptor, whose stream
// DestPorts reflect the ports actually bound by Setup.
func (s *ReflectorSession) Descriptor() sourcedesc.SourceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// Stream returns the Reflector Stream for trackID, if any.
func (s *ReflectorSession) Stream(trackID int) (*ReflectorStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[trackID]
	return st, ok
}

// Streams returns every track's stream, ordered by track id.
func (s *ReflectorSession) Streams() []*ReflectorStream {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ReflectorStream, 0, len(s.streams))
	for id := 0; id < len(s.streams); id++ {
		if st, ok := s.streams[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

// AddSubscriber attaches out to trackID's stream. Attaching before Setup
// completes is rejected (spec §4.3 invariant).
func (s *ReflectorSession) AddSubscriber(trackID int, out *SubscriberOutput) error {
	s.mu.Lock()
	if !s.setupDone {
		s.mu.Unlock()
		return errkind.New(errkind.BadRequest, "session not set up")
	}
	stream, ok := s.streams[trackID]
	s.mu.Unlock()

	if !ok {
		return errkind.New(errkind.BadRequest, "unknown track id")
	}

	stream.AttachSubscriber(out)
	return nil
}

// RemoveSubscriber detaches out from trackID's stream. When killClients is
// true the caller is expected to also close out's connection; this method
// only performs the detach, which is idempotent.
func (s *ReflectorSession) RemoveSubscriber(trackID int, out *SubscriberOutput, killClients bool) {
	s.mu.Lock()
	stream, ok := s.streams[trackID]
	s.mu.Unlock()

	if !ok {
		return
	}

	stream.DetachSubscriber(out)
	if killClients {
		out.TearDown()
	}
}

// SetPublisher records the connection that now owns the write side of
// this session. A session with an existing live publisher refuses a
// second one unless allowDuplicate is set (spec §4.3 duplicate-broadcast
// policy).
func (s *ReflectorSession) SetPublisher(identity PublisherIdentity, allowDuplicate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher != nil && !allowDuplicate {
		return errkind.New(errkind.PreconditionFailed, "broadcast already active").WithReason("DuplicateBroadcastStream")
	}

	s.publisher = &identity
	return nil
}

// ClearPublisher releases the publisher slot. connectionID must match the
// current publisher or the call is a no-op, so a stale RECORD teardown
// cannot clobber a newer publisher that has already taken over.
func (s *ReflectorSession) ClearPublisher(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publisher != nil && s.publisher.ConnectionID == connectionID {
		s.publisher = nil
	}
}

// Publisher reports the current publisher identity, if any.
func (s *ReflectorSession) Publisher() (PublisherIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publisher == nil {
		return PublisherIdentity{}, false
	}
	return *s.publisher, true
}

// HasPublisher reports whether a publisher currently owns this session.
func (s *ReflectorSession) HasPublisher() bool {
	_, ok := s.Publisher()
	return ok
}

// HasSubscribers reports whether any stream has at least one attached
// subscriber.
func (s *ReflectorSession) HasSubscribers() bool {
	s.mu.Lock()
	streams := make([]*ReflectorStream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		if st.SubscriberCount() > 0 {
			return true
		}
	}
	return false
}

// LocalSDP returns the stripped SDP text served in DESCRIBE responses.
func (s *ReflectorSession) LocalSDP() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdp
}

// tearDownAllSubscribers tears every stream down: its ingest sockets and
// Frame Buffer close, which ends delivery to every attached subscriber.
// Subscribers stay recorded on their streams and their connections are not
// closed. Called by the SessionRegistry when the refcount reaches zero
// (spec §4.4), and by forceUnregister and `.kill` handling.
func (s *ReflectorSession) tearDownAllSubscribers() {
	s.mu.Lock()
	streams := make([]*ReflectorStream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.TearDown()
	}

	s.log.Info().Msg("session torn down")
}

// CreatedAt reports when the session was instantiated, used for the
// max-broadcast-announce-duration enforcement.
func (s *ReflectorSession) CreatedAt() time.Time {
	return s.createdAt
}
