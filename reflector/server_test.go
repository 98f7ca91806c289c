package reflector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/headers"
)

var testSDP = []byte("v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=Test Stream\r\n" +
	"t=0 0\r\n" +
	"m=video 20002 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n")

func startTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RTSPAddress = "127.0.0.1:0"
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg)
	go srv.Serve(context.Background(), cfg.RTSPAddress) //nolint:errcheck

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() { srv.Close() })
	return srv
}

type testClient struct {
	nconn net.Conn
	br    *bufio.Reader
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	nconn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { nconn.Close() })
	return &testClient{nconn: nconn, br: bufio.NewReader(nconn)}
}

func (c *testClient) do(t *testing.T, req base.Request) *base.Response {
	t.Helper()
	require.NoError(t, req.Write(bufio.NewWriter(c.nconn)))

	var res base.Response
	require.NoError(t, res.Read(c.br))
	return &res
}

func testURL(t *testing.T, srv *Server, path string) *base.URL {
	t.Helper()
	u, err := base.ParseURL("rtsp://" + srv.Addr().String() + path)
	require.NoError(t, err)
	return u
}

func sessionID(t *testing.T, res *base.Response) string {
	t.Helper()
	var sh headers.Session
	require.NoError(t, sh.Read(res.Header["Session"]))
	return sh.Session
}

func TestServerOptions(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Options,
		URL:    testURL(t, srv, "/"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})

	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])

	public, ok := res.Header.Get("Public")
	require.True(t, ok)
	require.Contains(t, public, "DESCRIBE")
	require.Contains(t, public, "ANNOUNCE")
	require.Contains(t, public, "RECORD")
}

func TestServerOptionsEchoesBody(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	probe := []byte("round-trip probe")
	res := c.do(t, base.Request{
		Method:  base.Options,
		URL:     testURL(t, srv, "/"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: probe,
	})

	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, probe, res.Body)
}

func TestServerRequestWithoutCSeq(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Options,
		URL:    testURL(t, srv, "/"),
		Header: base.Header{},
	})
	require.Equal(t, base.StatusBadRequest, res.StatusCode)
}

// push-mode ANNOUNCE + SETUP + RECORD, then a pull-mode DESCRIBE returns
// the published SDP.
func TestServerPushThenDescribe(t *testing.T) {
	srv := startTestServer(t, nil)

	pub := dialServer(t, srv)

	res := pub.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = pub.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/push/a.sdp/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP;unicast;mode=record;client_port=6982-6983"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var th headers.Transport
	require.NoError(t, th.Read(res.Header["Transport"]))
	require.NotNil(t, th.ServerPorts)

	sid := sessionID(t, res)

	res = pub.do(t, base.Request{
		Method: base.Record,
		URL:    testURL(t, srv, "/push/a.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{sid},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	sub := dialServer(t, srv)
	res = sub.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/push/a.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	ct, ok := res.Header.Get("Content-Type")
	require.True(t, ok)
	require.Equal(t, "application/sdp", ct)
	require.Contains(t, string(res.Body), "v=0")
	require.Contains(t, string(res.Body), "a=control:*")
	require.Contains(t, string(res.Body), "m=video")
}

func TestServerDescribeWithSessionHeader(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"1"},
			"Session": base.HeaderValue{"12345"},
		},
	})
	require.Equal(t, base.StatusHeaderFieldNotValidForResource, res.StatusCode)
}

func TestServerDescribeUnknownBroadcast(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/live/nope.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusNotFound, res.StatusCode)
}

// with allow_duplicate_broadcasts off, a second publisher's SETUP is
// refused with PreconditionFailed / DuplicateBroadcastStream.
func TestServerDuplicateBroadcastRefused(t *testing.T) {
	srv := startTestServer(t, nil)

	first := dialServer(t, srv)
	res := first.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = first.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/push/a.sdp/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP;unicast;mode=record;client_port=6982-6983"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	second := dialServer(t, srv)
	res = second.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = second.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/push/a.sdp/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP;unicast;mode=record;client_port=6984-6985"},
		},
	})
	require.Equal(t, base.StatusPreconditionFailed, res.StatusCode)

	reason, ok := res.Header.Get("X-Reason")
	require.True(t, ok)
	require.Equal(t, "DuplicateBroadcastStream", reason)
}

func TestServerAnnounceDisabled(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.EnableBroadcastAnnounce = false
	})
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusForbidden, res.StatusCode)
}

func TestServerAnnounceSDPTooLarge(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.MaxSDPSizeBytes = 16
	})
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusPreconditionFailed, res.StatusCode)
}

func TestServerAnnouncePortRangeEnforced(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.EnforceStaticSDPPortRange = true
		cfg.MinimumStaticSDPPort = 30000
		cfg.MaximumStaticSDPPort = 30100
	})
	c := dialServer(t, srv)

	// testSDP advertises port 20002, outside the configured range.
	res := c.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusUnsupportedMediaType, res.StatusCode)
}

// an SDP claiming a unicast destination the server has no business
// sending to is refused before any socket is bound.
func TestServerAnnounceUnreflectableAddress(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	sdp := []byte("v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=Test Stream\r\n" +
		"c=IN IP4 198.51.100.9\r\n" +
		"t=0 0\r\n" +
		"m=video 20002 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n")

	res := c.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: sdp,
	})
	require.Equal(t, base.StatusUnsupportedMediaType, res.StatusCode)

	reason, ok := res.Header.Get("X-Reason")
	require.True(t, ok)
	require.Equal(t, "AddressUnreflectable", reason)
	require.Equal(t, 0, srv.Registry.Count())
}

// `.kill` tears the broadcast down; a later DESCRIBE reports NotFound,
// and a `.kill` for a name that was never announced is a no-op NotFound.
func TestServerAnnouncedKill(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.AllowAnnouncedKill = true
	})

	pub := dialServer(t, srv)
	res := pub.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	killer := dialServer(t, srv)
	res = killer.do(t, base.Request{
		Method: base.Announce,
		URL:    testURL(t, srv, "/push/a.kill"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, 0, srv.Registry.Count())

	res = killer.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/push/a.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"2"}},
	})
	require.Equal(t, base.StatusNotFound, res.StatusCode)

	res = killer.do(t, base.Request{
		Method: base.Announce,
		URL:    testURL(t, srv, "/push/never.kill"),
		Header: base.Header{"CSeq": base.HeaderValue{"3"}},
	})
	require.Equal(t, base.StatusNotFound, res.StatusCode)
}

func TestServerKillDisabled(t *testing.T) {
	srv := startTestServer(t, nil)
	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Announce,
		URL:    testURL(t, srv, "/push/a.kill"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusForbidden, res.StatusCode)
}

// interleaved frames on a TCP push session land in the right stream with
// the right kind, and unknown channels are rejected without touching state.
func TestServerInterleavedDispatch(t *testing.T) {
	srv := startTestServer(t, nil)

	pub := dialServer(t, srv)
	res := pub.do(t, base.Request{
		Method:  base.Announce,
		URL:     testURL(t, srv, "/push/a.sdp"),
		Header:  base.Header{"CSeq": base.HeaderValue{"1"}},
		Content: testSDP,
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = pub.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/push/a.sdp/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1;mode=record"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	sid := sessionID(t, res)

	res = pub.do(t, base.Request{
		Method: base.Record,
		URL:    testURL(t, srv, "/push/a.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{sid},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	rsess, ok := srv.Registry.Resolve("push/a")
	require.True(t, ok)
	defer srv.Registry.Release(rsess)
	stream, ok := rsess.Stream(0)
	require.True(t, ok)

	// a frame on an unbound channel must be ignored.
	fr := base.InterleavedFrame{Channel: 0xFE, Payload: []byte{0x01, 0x02}}
	byts, err := fr.Marshal()
	require.NoError(t, err)
	_, err = pub.nconn.Write(byts)
	require.NoError(t, err)

	// RTP on channel 0.
	fr = base.InterleavedFrame{Channel: 0, Payload: rtpBytes(t, 500, 90000)}
	byts, err = fr.Marshal()
	require.NoError(t, err)
	_, err = pub.nconn.Write(byts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, has := stream.FirstPacketInfo()
		return has && e.Sequence == 500
	}, 2*time.Second, 10*time.Millisecond)
}

// pull-mode DESCRIBE + SETUP + PLAY: the subscriber's UDP socket receives
// the packets the publisher feeds the ingest socket.
func TestServerPullPlayDeliversPackets(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.EnablePlayResponseRangeHeader = true
	})
	srv.SDPSource = func(name string) ([]byte, bool) {
		if name == "live/s1" {
			return testSDP, true
		}
		return nil, false
	}

	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Contains(t, string(res.Body), "m=video 20002 RTP/AVP 96")

	// bind the subscriber's RTP/RTCP receive pair.
	rtpSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rtpSock.Close()
	rtcpSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rtcpSock.Close()

	rtpPort := rtpSock.LocalAddr().(*net.UDPAddr).Port
	rtcpPort := rtcpSock.LocalAddr().(*net.UDPAddr).Port

	res = c.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/live/s1.sdp/trackID=0"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"2"},
			"Transport": base.HeaderValue{
				fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtcpPort),
			},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var th headers.Transport
	require.NoError(t, th.Read(res.Header["Transport"]))
	require.NotNil(t, th.ClientPorts)
	require.Equal(t, [2]int{rtpPort, rtcpPort}, *th.ClientPorts)

	sid := sessionID(t, res)

	res = c.do(t, base.Request{
		Method: base.Play,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{sid},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	rng, ok := res.Header.Get("Range")
	require.True(t, ok)
	require.Equal(t, "npt=now-", rng)

	// feed the broadcast's ingest socket the way a source would.
	rsess, ok := srv.Registry.Resolve("live/s1")
	require.True(t, ok)
	defer srv.Registry.Release(rsess)
	stream, ok := rsess.Stream(0)
	require.True(t, ok)
	ingestPort := stream.Descriptor.DestPort
	require.NotZero(t, ingestPort)

	src, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", ingestPort))
	require.NoError(t, err)
	defer src.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		seq := uint16(1000)
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				src.Write(rtpBytes(t, seq, uint32(seq)*3000)) //nolint:errcheck
				seq++
			}
		}
	}()

	rtpSock.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	buf := make([]byte, 2048)
	n, _, err := rtpSock.ReadFrom(buf)
	require.NoError(t, err)
	require.Greater(t, n, 12)
	require.Equal(t, byte(0x80), buf[0])
}

// HTTP tunnel: the GET half becomes the response channel for RTSP carried
// base64-encoded in the POST half's body.
func TestServerHTTPTunnel(t *testing.T) {
	srv := startTestServer(t, nil)

	getConn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer getConn.Close()

	_, err = getConn.Write([]byte("GET /push HTTP/1.1\r\n" +
		"Accept: application/x-rtsp-tunnelled\r\n" +
		"X-SessionCookie: abc\r\n" +
		"\r\n"))
	require.NoError(t, err)

	// read the stock HTTP 200 up to the blank line.
	getBr := bufio.NewReader(getConn)
	statusLine, err := getBr.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 200"))
	for {
		line, err := getBr.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	require.Eventually(t, func() bool { return srv.Tunnel.Count() == 1 },
		2*time.Second, 10*time.Millisecond)

	postConn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer postConn.Close()

	_, err = postConn.Write([]byte("POST /push HTTP/1.1\r\n" +
		"Content-Type: application/x-rtsp-tunnelled\r\n" +
		"X-SessionCookie: abc\r\n" +
		"\r\n"))
	require.NoError(t, err)

	// an OPTIONS sent base64-encoded over the POST half appears to the
	// GET half as a received RTSP request; the response flows back on
	// the GET socket.
	var reqBuf bytes.Buffer
	u, err := base.ParseURL("rtsp://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	req := base.Request{
		Method: base.Options,
		URL:    u,
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	}
	require.NoError(t, req.Write(bufio.NewWriter(&reqBuf)))

	enc := base64.StdEncoding.EncodeToString(reqBuf.Bytes())
	_, err = postConn.Write([]byte(enc))
	require.NoError(t, err)

	var res base.Response
	require.NoError(t, res.Read(getBr))
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"1"}, res.Header["CSeq"])

	// the cookie is gone from the pairing table once both halves joined.
	require.Equal(t, 0, srv.Tunnel.Count())
}

func TestServerTeardownRemovesSubscriber(t *testing.T) {
	srv := startTestServer(t, nil)
	srv.SDPSource = func(string) ([]byte, bool) { return testSDP, true }

	c := dialServer(t, srv)

	res := c.do(t, base.Request{
		Method: base.Describe,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = c.do(t, base.Request{
		Method: base.Setup,
		URL:    testURL(t, srv, "/live/s1.sdp/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"2"},
			"Transport": base.HeaderValue{"RTP/AVP;unicast;client_port=5000-5001"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	sid := sessionID(t, res)

	res = c.do(t, base.Request{
		Method: base.Teardown,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{sid},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	// nothing is attached anymore; the broadcast left the registry.
	require.Equal(t, 0, srv.Registry.Count())

	// a second TEARDOWN with the forgotten session id reports 454.
	res = c.do(t, base.Request{
		Method: base.Teardown,
		URL:    testURL(t, srv, "/live/s1.sdp"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"4"},
			"Session": base.HeaderValue{sid},
		},
	})
	require.Equal(t, base.StatusSessionNotFound, res.StatusCode)
}
