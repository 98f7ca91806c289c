package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, s string) *URL {
	t.Helper()
	u, err := ParseURL(s)
	require.NoError(t, err)
	return u
}

var casesRequest = []struct {
	name string
	byts []byte
	req  Request
}{
	{
		"options",
		[]byte("OPTIONS rtsp://example.com/media.mp4 RTSP/1.0\r\n" +
			"CSeq: 1\r\n" +
			"Require: implicit-play\r\n" +
			"\r\n"),
		Request{
			Method: Options,
			Header: Header{
				"CSeq":    HeaderValue{"1"},
				"Require": HeaderValue{"implicit-play"},
			},
		},
	},
	{
		"announce with body",
		[]byte("ANNOUNCE rtsp://example.com/media.mp4 RTSP/1.0\r\n" +
			"CSeq: 7\r\n" +
			"Content-Length: 7\r\n" +
			"\r\n" +
			"v=0\r\n" +
			"s=",
		),
		Request{
			Method: Announce,
			Header: Header{
				"CSeq":           HeaderValue{"7"},
				"Content-Length": HeaderValue{"7"},
			},
			Content: []byte("v=0\r\ns="),
		},
	},
}

func TestRequestRead(t *testing.T) {
	for _, ca := range casesRequest {
		t.Run(ca.name, func(t *testing.T) {
			var req Request
			err := req.Read(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.NoError(t, err)
			require.Equal(t, ca.req.Method, req.Method)
			require.Equal(t, ca.req.Header, req.Header)
			require.Equal(t, ca.req.Content, req.Content)
			require.Equal(t, "rtsp://example.com/media.mp4", req.URL.String())
		})
	}
}

func TestRequestWriteReadRoundTrip(t *testing.T) {
	req := Request{
		Method: Setup,
		URL:    mustParseURL(t, "rtsp://example.com/live/s1.sdp/trackID=0"),
		Header: Header{
			"CSeq":      HeaderValue{"2"},
			"Transport": HeaderValue{"RTP/AVP;unicast;client_port=5000-5001"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, req.Write(bufio.NewWriter(&buf)))

	var back Request
	require.NoError(t, back.Read(bufio.NewReader(&buf)))
	require.Equal(t, req.Method, back.Method)
	require.Equal(t, req.URL.String(), back.URL.String())
	require.Equal(t, req.Header, back.Header)
}

func TestRequestReadErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
	}{
		{"empty", []byte{}},
		{"wrong protocol", []byte("OPTIONS rtsp://example.com RTSP/2.0\r\n\r\n")},
		{"non-rtsp scheme", []byte("OPTIONS http://example.com RTSP/1.0\r\n\r\n")},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var req Request
			err := req.Read(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.Error(t, err)
		})
	}
}

func TestHeaderNormalization(t *testing.T) {
	byts := []byte("OPTIONS rtsp://example.com/ RTSP/1.0\r\n" +
		"cseq: 1\r\n" +
		"x-sessioncookie: abc\r\n" +
		"www-authenticate: Basic realm=\"x\"\r\n" +
		"\r\n")

	var req Request
	require.NoError(t, req.Read(bufio.NewReader(bytes.NewBuffer(byts))))

	_, ok := req.Header["CSeq"]
	require.True(t, ok)
	_, ok = req.Header["X-SessionCookie"]
	require.True(t, ok)
	_, ok = req.Header["WWW-Authenticate"]
	require.True(t, ok)

	v, ok := req.Header.Get("X-SESSIONCOOKIE")
	require.True(t, ok)
	require.Equal(t, "abc", v)
}
