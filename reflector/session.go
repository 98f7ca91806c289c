package reflector

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackTransport records the negotiated Transport for one track of a
// ClientSession (spec §3 "transport per track").
type TrackTransport struct {
	TrackID     int
	Interleaved bool
	RTPChannel  int // valid when Interleaved
	RTCPChannel int

	ClientRTPPort  int // valid when !Interleaved
	ClientRTCPPort int
	ClientAddr     string

	Output *SubscriberOutput // non-nil once PLAY/RECORD attaches it
}

// ClientSession is the per logical RTSP session state: it survives across
// several RTSPConnections sharing the same Session id (spec §3).
//
// It refers to its ReflectorSession by name rather than by pointer, so a
// ClientSession and a ReflectorSession never hold owning references to
// each other (spec §9, cyclic-reference redesign note); resolving the
// name through the SessionRegistry is the caller's job.
type ClientSession struct {
	ID string

	mu             sync.Mutex
	lastConnID     string
	reflectorName  string
	asPublisher    bool
	tracks         map[int]*TrackTransport
	keepaliveUntil time.Time
}

// NewClientSession mints a fresh session id.
func NewClientSession(keepalive time.Duration) *ClientSession {
	return &ClientSession{
		ID:             uuid.NewString(),
		tracks:         make(map[int]*TrackTransport),
		keepaliveUntil: time.Now().Add(keepalive),
	}
}

// Touch refreshes the keepalive deadline; called on any pipeline activity
// bound to this session (spec §5).
func (c *ClientSession) Touch(keepalive time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepaliveUntil = time.Now().Add(keepalive)
}

// Expired reports whether the keepalive deadline has passed.
func (c *ClientSession) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().After(c.keepaliveUntil)
}

// BindConnection records which RTSPConnection most recently spoke for this
// session; a later header-bound Session id always wins over whatever
// connection happened to dial in last (spec §4.5 tie-break).
func (c *ClientSession) BindConnection(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastConnID = connID
}

// ConnectionID reports the most recently bound connection id.
func (c *ClientSession) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnID
}

// AttachReflector records which ReflectorSession this ClientSession is
// attached to, and whether it is attached as the publisher.
func (c *ClientSession) AttachReflector(name string, asPublisher bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reflectorName = name
	c.asPublisher = asPublisher
}

// ClearReflector detaches this ClientSession from whichever
// ReflectorSession it was attached to, making ReflectorName report false.
func (c *ClientSession) ClearReflector() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reflectorName = ""
	c.asPublisher = false
}

// ReflectorName reports the attached ReflectorSession's name, if any.
func (c *ClientSession) ReflectorName() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reflectorName, c.reflectorName != ""
}

// IsPublisher reports whether this ClientSession is attached as the
// publisher of its ReflectorSession.
func (c *ClientSession) IsPublisher() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asPublisher
}

// SetTrack records (or replaces) the negotiated transport for trackID.
func (c *ClientSession) SetTrack(t *TrackTransport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[t.TrackID] = t
}

// Track returns the negotiated transport for trackID, if SETUP has run.
func (c *ClientSession) Track(trackID int) (*TrackTransport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tracks[trackID]
	return t, ok
}

// Tracks returns every negotiated track transport.
func (c *ClientSession) Tracks() []*TrackTransport {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*TrackTransport, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

// TrackByChannel finds the track whose interleaved RTP or RTCP channel
// matches channel, used by the interleaved-data fast path (spec §4.5,
// §8 invariant 5).
func (c *ClientSession) TrackByChannel(channel int) (*TrackTransport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.tracks {
		if t.Interleaved && (channel == t.RTPChannel || channel == t.RTCPChannel) {
			return t, true
		}
	}
	return nil, false
}
