package sourcedesc

import (
	"net"
	"testing"

	psdp "github.com/pion/sdp/v3"
	"github.com/stretchr/testify/require"
)

func TestParseSourceDescriptor(t *testing.T) {
	raw := []byte("v=0\r\n" +
		"o=- 123 123 IN IP4 192.0.2.5\r\n" +
		"s=test\r\n" +
		"c=IN IP4 233.54.12.2/15\r\n" +
		"t=0 0\r\n" +
		"m=video 20002 RTP/AVP 96\r\n" +
		"a=rtpmap:96 H264/90000\r\n" +
		"m=audio 20004 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n")

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal(raw))

	out, err := ParseSourceDescriptor(&sd, DirectionPush)
	require.NoError(t, err)
	require.Len(t, out.Streams, 2)

	video := out.Streams[0]
	require.Equal(t, "video", video.MediaType)
	require.Equal(t, 20002, video.DestPort)
	require.Equal(t, 20003, video.RTCPPort())
	require.Equal(t, uint8(96), video.PayloadType)
	require.Equal(t, "H264", video.PayloadName)
	require.Equal(t, uint32(90000), video.Timescale)
	require.Equal(t, 0, video.TrackID)
	require.Equal(t, TransportUDP, video.Transport)
	require.Equal(t, DirectionPush, video.SetupDirection)
	require.Equal(t, DefaultBufferDelaySecs, video.BufferDelay)
	require.True(t, video.DestAddr.Equal(net.ParseIP("233.54.12.2")))
	require.Equal(t, 15, video.TTL)

	audio := out.Streams[1]
	require.Equal(t, "audio", audio.MediaType)
	require.Equal(t, uint32(8000), audio.Timescale)
	require.Equal(t, 1, audio.TrackID)
}

func TestParseSourceDescriptorTCP(t *testing.T) {
	raw := []byte("v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=t\r\n" +
		"t=0 0\r\n" +
		"m=video 0 TCP/RTP/AVP 96\r\n")

	var sd psdp.SessionDescription
	require.NoError(t, sd.Unmarshal(raw))

	out, err := ParseSourceDescriptor(&sd, DirectionPush)
	require.NoError(t, err)
	require.Equal(t, TransportTCPInterleaved, out.Streams[0].Transport)
}

func TestValidateTrackIDs(t *testing.T) {
	ok := SourceDescriptor{Streams: []StreamDescriptor{{TrackID: 0}, {TrackID: 1}}}
	require.NoError(t, ok.ValidateTrackIDs())

	dup := SourceDescriptor{Streams: []StreamDescriptor{{TrackID: 0}, {TrackID: 0}}}
	require.Error(t, dup.ValidateTrackIDs())
}

func TestIsPermanent(t *testing.T) {
	require.True(t, SourceDescriptor{}.IsPermanent())
	require.False(t, SourceDescriptor{StartUnixSecs: 1, EndUnixSecs: 2}.IsPermanent())
}

func TestIsReflectable(t *testing.T) {
	local := func(ip net.IP) bool { return ip.Equal(net.ParseIP("192.0.2.1")) }

	require.True(t, StreamDescriptor{DestAddr: net.ParseIP("233.54.12.2")}.IsReflectable(local))
	require.True(t, StreamDescriptor{DestAddr: net.ParseIP("192.0.2.1")}.IsReflectable(local))
	require.False(t, StreamDescriptor{DestAddr: net.ParseIP("198.51.100.9")}.IsReflectable(local))
	require.False(t, StreamDescriptor{}.IsReflectable(local))
}
