package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseWrite(t *testing.T) {
	res := Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":   HeaderValue{"1"},
			"Public": HeaderValue{"DESCRIBE, SETUP, PLAY"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, res.Write(bufio.NewWriter(&buf)))
	require.Equal(t,
		"RTSP/1.0 200 OK\r\n"+
			"CSeq: 1\r\n"+
			"Public: DESCRIBE, SETUP, PLAY\r\n"+
			"\r\n",
		buf.String())
}

func TestResponseWriteFillsStatusMessage(t *testing.T) {
	for _, ca := range []struct {
		code StatusCode
		msg  string
	}{
		{StatusNotFound, "Not Found"},
		{StatusPreconditionFailed, "Precondition Failed"},
		{StatusNotEnoughBandwidth, "Not Enough Bandwidth"},
		{StatusSessionNotFound, "Session Not Found"},
		{StatusHeaderFieldNotValidForResource, "Header Field Not Valid for Resource"},
	} {
		var buf bytes.Buffer
		require.NoError(t, Response{StatusCode: ca.code}.Write(bufio.NewWriter(&buf)))
		require.Contains(t, buf.String(), ca.msg)
	}
}

func TestResponseWriteReadRoundTrip(t *testing.T) {
	res := Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":         HeaderValue{"2"},
			"Content-Type": HeaderValue{"application/sdp"},
		},
		Body: []byte("v=0\r\n"),
	}

	var buf bytes.Buffer
	require.NoError(t, res.Write(bufio.NewWriter(&buf)))

	var back Response
	require.NoError(t, back.Read(bufio.NewReader(&buf)))
	require.Equal(t, StatusOK, back.StatusCode)
	require.Equal(t, "OK", back.StatusMessage)
	require.Equal(t, res.Body, back.Body)

	cl, ok := back.Header.Get("Content-Length")
	require.True(t, ok)
	require.Equal(t, "5", cl)
}
