package reflector

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelpstream/rtsp-reflector/internal/base64stream"
	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/bytecounter"
	conncodec "github.com/kelpstream/rtsp-reflector/pkg/conn"
)

// connState is the RTSPConnection's own state, a restriction of the full
// pipeline state machine in spec §4.5 to the states a connection (as
// opposed to one in-flight request) actually sits in between requests.
type connState int

const (
	connReading connState = iota
	connTunnelWaitGet
	connClosed
)

// readWriter composes an independent reader (typically a *bufio.Reader
// that already peeked a few bytes) with the original connection's writer,
// so those peeked bytes are never lost.
type readWriter struct {
	io.Reader
	io.Writer
}

// RTSPConnection is one accepted TCP connection (spec §3). A dedicated
// reader goroutine parses requests and interleaved frames off the socket;
// each parsed request's role chain runs as a requestTask on the scheduler
// pool, where suspensions free the worker instead of blocking a thread.
type RTSPConnection struct {
	id string
	s  *Server

	nconn net.Conn
	bc    *bytecounter.ByteCounter
	codec *conncodec.Conn
	frBuf []byte

	readMu    sync.Mutex // serializes response/frame writes against reads
	sessionMu sync.Mutex // serializes pipeline dispatch against interleaved delivery

	mu        sync.Mutex
	state     connState
	session   *ClientSession
	isGet     bool // HTTP-tunnel direction, valid once detected
	donated   bool // input socket ownership moved to the paired GET half
	donorSock net.Conn
	postBody  io.Reader

	adoptCh    chan io.Reader
	tunnelDone chan struct{}

	frameQueue chan interleavedWrite
	writerStop chan struct{}

	log zerolog.Logger
}

// interleavedWrite is one queued outbound frame for the writer goroutine.
type interleavedWrite struct {
	channel int
	payload []byte
}

// interleavedQueueSize bounds how many outbound frames may sit unsent on a
// TCP subscriber before the stream pump sees back-pressure.
const interleavedQueueSize = 256

func newRTSPConnection(s *Server, nconn net.Conn) *RTSPConnection {
	c := &RTSPConnection{
		id:         uuid.NewString(),
		s:          s,
		nconn:      nconn,
		frBuf:      make([]byte, 64*1024),
		adoptCh:    make(chan io.Reader, 1),
		tunnelDone: make(chan struct{}),
		frameQueue: make(chan interleavedWrite, interleavedQueueSize),
		writerStop: make(chan struct{}),
		log:        s.log.With().Str("conn", nconn.RemoteAddr().String()).Logger(),
	}
	c.rebind(nconn)
	return c
}

func (c *RTSPConnection) rebind(rw io.ReadWriter) {
	c.bc = bytecounter.New(rw, nil, nil, nil, nil)
	c.codec = conncodec.New(c.bc)
}

// start launches the reader goroutine and the interleaved-frame writer,
// which detaches the stream pump from the subscriber's socket speed.
func (c *RTSPConnection) start() {
	go c.readLoop()
	go c.runFrameWriter()
}

// IsGet implements TunnelHalf.
func (c *RTSPConnection) IsGet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isGet
}

// Terminate closes the underlying socket, which unblocks the reader
// goroutine with an I/O error; used by `.kill` and the expiry sweep. The
// reader's own close path performs the actual cleanup.
func (c *RTSPConnection) Terminate() {
	c.nconn.Close() //nolint:errcheck
}

// DonateInput implements TunnelHalf (spec §9 "HTTP tunnel socket
// transfer"): the POST half's decoded input stream and socket ownership
// move to the paired GET half, guarded by the read mutex so no buffered
// body byte is lost. The half is marked terminal; its reader goroutine
// unwinds through tunnelDone without closing the socket.
func (c *RTSPConnection) DonateInput() (io.Reader, net.Conn) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.mu.Lock()
	c.donated = true
	r := c.postBody
	c.mu.Unlock()

	close(c.tunnelDone)
	return r, c.nconn
}

// AdoptInput implements TunnelHalf: installs the POST half's decoded
// input stream as this connection's read side. The write side stays this
// connection's own socket, which is what makes the GET half the response
// channel (spec §4.6).
func (c *RTSPConnection) AdoptInput(r io.Reader, donorSock net.Conn) {
	c.mu.Lock()
	c.donorSock = donorSock
	c.mu.Unlock()
	c.adoptCh <- r
}

func (c *RTSPConnection) close() {
	c.mu.Lock()
	if c.state == connClosed {
		c.mu.Unlock()
		return
	}
	c.state = connClosed
	sess := c.session
	donated := c.donated
	donorSock := c.donorSock
	c.mu.Unlock()

	if sess != nil {
		c.s.detachClientSession(sess, c.id)
		c.s.forgetSession(sess.ID)
	}

	close(c.writerStop)

	if !donated {
		c.nconn.Close() //nolint:errcheck
	}
	if donorSock != nil {
		donorSock.Close() //nolint:errcheck
	}
	c.s.forgetConn(c.id)
}

// remoteHost returns the connection's peer address with any port
// stripped, used to match against the broadcaster IP allow list and to
// address UDP subscriber sinks.
func (c *RTSPConnection) remoteHost() string {
	host, _, err := net.SplitHostPort(c.nconn.RemoteAddr().String())
	if err != nil {
		return c.nconn.RemoteAddr().String()
	}
	return host
}

func (c *RTSPConnection) readLoop() {
	defer c.close()

	if done, err := c.negotiateTunnel(); err != nil || done {
		return
	}

	for {
		c.nconn.SetReadDeadline(time.Now().Add(c.s.Config.ReadTimeout)) //nolint:errcheck

		item, err := c.codec.ReadInterleavedFrameOrRequest()
		if err != nil {
			return
		}

		switch v := item.(type) {
		case *base.Request:
			if err := c.handleRequest(v); err != nil {
				return
			}

		case *base.InterleavedFrame:
			c.dispatchInterleaved(v)
		}
	}
}

// negotiateTunnel inspects the connection's first bytes for an HTTP
// tunnel request (spec §4.6). It returns done==true when the connection
// has fully run its course within this call (e.g. a POST half whose input
// stream was donated to its paired GET half).
func (c *RTSPConnection) negotiateTunnel() (done bool, err error) {
	br := bufio.NewReader(c.nconn)
	peek, err := br.Peek(4)
	if err != nil {
		c.rebind(readWriter{br, c.nconn})
		return false, nil
	}

	if string(peek) != "GET " && string(peek) != "POST" {
		c.rebind(readWriter{br, c.nconn})
		return false, nil
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		return false, err
	}

	cookie := req.Header.Get("X-Sessioncookie")
	isTunnel := (req.Header.Get("Accept") == "application/x-rtsp-tunnelled" ||
		req.Header.Get("Content-Type") == "application/x-rtsp-tunnelled") && cookie != ""
	if !isTunnel {
		c.writeHTTPStatus(req, http.StatusBadRequest)
		return true, errors.New("not a tunnel request")
	}

	c.mu.Lock()
	c.isGet = req.Method == http.MethodGet
	if req.Method == http.MethodPost {
		// The body is base64-encoded RTSP bytes (spec §4.6), decoded
		// incrementally since it arrives in arbitrarily-sized chunks
		// rather than one complete blob. br may already hold some of
		// them, so the decoder wraps br, not the raw socket.
		c.postBody = base64stream.New(br)
	}
	c.mu.Unlock()

	if req.Method == http.MethodGet {
		c.writeHTTPStatus(req, http.StatusOK)
		c.mu.Lock()
		c.state = connTunnelWaitGet
		c.mu.Unlock()
	}

	if _, perr := c.s.Tunnel.ResolveOrRegister(cookie, c); perr != nil {
		return true, perr
	}

	if req.Method == http.MethodPost {
		// Whether paired now or later, this goroutine's job is over: the
		// decoded stream is (or will be) adopted by the GET half, which
		// reads the shared socket through br. Hold the socket open until
		// DonateInput fires, then unwind without closing it.
		c.nconn.SetReadDeadline(time.Time{}) //nolint:errcheck
		select {
		case <-c.tunnelDone:
			return true, nil
		case <-time.After(c.s.Config.ReadTimeout):
			c.s.Tunnel.Abandon(cookie)
			return true, errors.New("tunnel pairing timed out")
		}
	}

	// GET half: wait for the complementary POST's input stream
	// (HTTPTunnelWait, spec §4.5). If pairing already happened inside
	// ResolveOrRegister, the reader is sitting in adoptCh.
	select {
	case r := <-c.adoptCh:
		c.rebind(readWriter{r, c.nconn})
		return false, nil
	case <-time.After(c.s.Config.ReadTimeout):
		c.s.Tunnel.Abandon(cookie)
		return true, errors.New("tunnel pairing timed out")
	}
}

func (c *RTSPConnection) writeHTTPStatus(req *http.Request, status int) {
	res := http.Response{
		StatusCode: status,
		ProtoMajor: req.ProtoMajor,
		ProtoMinor: req.ProtoMinor,
		Header:     http.Header{"Cache-Control": []string{"no-cache"}},
	}
	if status == http.StatusOK {
		res.Header.Set("Content-Type", "application/x-rtsp-tunnelled")
		if host, _, err := net.SplitHostPort(c.nconn.LocalAddr().String()); err == nil {
			res.Header.Set("X-Server-Ip-Address", host)
		}
	}
	c.nconn.SetWriteDeadline(time.Now().Add(c.s.Config.WriteTimeout)) //nolint:errcheck
	res.Write(c.nconn)                                                //nolint:errcheck
}

// dispatchInterleaved forwards an inbound interleaved frame straight to
// its Reflector Stream (spec §9 "interleaved-data fast path"; §8
// invariant 5).
func (c *RTSPConnection) dispatchInterleaved(fr *base.InterleavedFrame) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return
	}

	track, ok := sess.TrackByChannel(fr.Channel)
	if !ok {
		return
	}

	name, ok := sess.ReflectorName()
	if !ok {
		return
	}
	rs, ok := c.s.Registry.Resolve(name)
	if !ok {
		return
	}
	defer c.s.Registry.Release(rs)

	stream, ok := rs.Stream(track.TrackID)
	if !ok {
		return
	}
	stream.PushPacket(fr.Payload, fr.IsRTCP())
}

// errConnClosed tells a stream pump the subscriber's connection is gone,
// so the subscriber is detached rather than paused.
var errConnClosed = errors.New("connection closed")

// WriteInterleavedFrame implements interleavedFrameWriter for
// tcpPacketSink. It never blocks: the frame is queued for the writer
// goroutine, and a full queue reports ErrWouldBlock so the stream pump
// pauses this subscriber instead of stalling a scheduler worker on a slow
// socket (spec §4.7, §5).
func (c *RTSPConnection) WriteInterleavedFrame(channel int, payload []byte) error {
	c.mu.Lock()
	closed := c.state == connClosed
	c.mu.Unlock()
	if closed {
		return errConnClosed
	}

	select {
	case c.frameQueue <- interleavedWrite{channel: channel, payload: payload}:
		return nil
	default:
		return ErrWouldBlock
	}
}

// runFrameWriter drains the frame queue onto the socket. A write failure
// closes the socket, which unwinds the reader goroutine and with it the
// connection.
func (c *RTSPConnection) runFrameWriter() {
	for {
		select {
		case <-c.writerStop:
			return
		case w := <-c.frameQueue:
			if err := c.writeFrame(w.channel, w.payload); err != nil {
				c.nconn.Close() //nolint:errcheck
				return
			}
		}
	}
}

func (c *RTSPConnection) writeFrame(channel int, payload []byte) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.nconn.SetWriteDeadline(time.Now().Add(c.s.Config.WriteTimeout)) //nolint:errcheck

	fr := &base.InterleavedFrame{Channel: channel, Payload: payload}
	if need := fr.MarshalSize(); need > len(c.frBuf) {
		c.frBuf = make([]byte, need)
	}
	return c.codec.WriteInterleavedFrame(fr, c.frBuf)
}

func (c *RTSPConnection) writeResponse(res *base.Response) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	c.nconn.SetWriteDeadline(time.Now().Add(c.s.Config.WriteTimeout)) //nolint:errcheck
	return c.codec.WriteResponse(res)
}
