package reflector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

// a subscriber that stops sending keepalives is swept: its session leaves
// the directory and, with nothing else attached, the broadcast leaves the
// registry.
func TestServerKeepaliveExpiry(t *testing.T) {
	srv := startTestServer(t, func(cfg *Config) {
		cfg.SessionTimeout = 200 * time.Millisecond
	})
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

	_, ok := srv.sessionByID(sid)
	require.True(t, ok)

	// go silent; the sweep catches the lapsed keepalive.
	require.Eventually(t, func() bool {
		_, ok := srv.sessionByID(sid)
		return !ok && srv.Registry.Count() == 0
	}, 5*time.Second, 50*time.Millisecond)
}
