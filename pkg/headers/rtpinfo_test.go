package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

func uint16Ptr(v uint16) *uint16 { return &v }
func uint32Ptr(v uint32) *uint32 { return &v }

var casesRTPInfo = []struct {
	name string
	v    base.HeaderValue
	h    RTPInfo
}{
	{
		"single entry",
		base.HeaderValue{`url=rtsp://127.0.0.1/live/s1.sdp/trackID=0;seq=35243;rtptime=717574556`},
		RTPInfo{
			{
				URL:            "rtsp://127.0.0.1/live/s1.sdp/trackID=0",
				SequenceNumber: uint16Ptr(35243),
				Timestamp:      uint32Ptr(717574556),
			},
		},
	},
	{
		"two entries",
		base.HeaderValue{`url=rtsp://127.0.0.1/s.sdp/trackID=0;seq=1,url=rtsp://127.0.0.1/s.sdp/trackID=1;seq=2`},
		RTPInfo{
			{
				URL:            "rtsp://127.0.0.1/s.sdp/trackID=0",
				SequenceNumber: uint16Ptr(1),
			},
			{
				URL:            "rtsp://127.0.0.1/s.sdp/trackID=1",
				SequenceNumber: uint16Ptr(2),
			},
		},
	},
}

func TestRTPInfoRead(t *testing.T) {
	for _, ca := range casesRTPInfo {
		t.Run(ca.name, func(t *testing.T) {
			var h RTPInfo
			require.NoError(t, h.Read(ca.v))
			require.Equal(t, ca.h, h)
		})
	}
}

func TestRTPInfoWrite(t *testing.T) {
	for _, ca := range casesRTPInfo {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.v, ca.h.Write())
		})
	}
}

func TestRTPInfoReadErrors(t *testing.T) {
	var h RTPInfo
	require.Error(t, h.Read(base.HeaderValue{}))
	require.Error(t, h.Read(base.HeaderValue{`seq=1`}))
	require.Error(t, h.Read(base.HeaderValue{`url=rtsp://x/;badkey=1`}))
}
