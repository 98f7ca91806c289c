package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var casesInterleavedFrame = []struct {
	name string
	enc  []byte
	dec  InterleavedFrame
}{
	{
		name: "rtp",
		enc:  []byte{0x24, 0x6, 0x0, 0x4, 0x1, 0x2, 0x3, 0x4},
		dec: InterleavedFrame{
			Channel: 6,
			Payload: []byte{0x01, 0x02, 0x03, 0x04},
		},
	},
	{
		name: "rtcp",
		enc:  []byte{0x24, 0xd, 0x0, 0x4, 0x5, 0x6, 0x7, 0x8},
		dec: InterleavedFrame{
			Channel: 13,
			Payload: []byte{0x05, 0x06, 0x07, 0x08},
		},
	},
}

func TestInterleavedFrameUnmarshal(t *testing.T) {
	for _, ca := range casesInterleavedFrame {
		t.Run(ca.name, func(t *testing.T) {
			var f InterleavedFrame
			err := f.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.enc)))
			require.NoError(t, err)
			require.Equal(t, ca.dec, f)
		})
	}
}

func TestInterleavedFrameMarshal(t *testing.T) {
	for _, ca := range casesInterleavedFrame {
		t.Run(ca.name, func(t *testing.T) {
			buf, err := ca.dec.Marshal()
			require.NoError(t, err)
			require.Equal(t, ca.enc, buf)
		})
	}
}

func TestInterleavedFrameUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
	}{
		{"empty", []byte{}},
		{"invalid magic byte", []byte{0x55, 0x00, 0x00, 0x00}},
		{"truncated payload", []byte{0x24, 0x00, 0x00, 0x05, 0x01}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var f InterleavedFrame
			err := f.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.Error(t, err)
		})
	}
}

func TestInterleavedFrameChannelSemantics(t *testing.T) {
	require.False(t, InterleavedFrame{Channel: 0}.IsRTCP())
	require.True(t, InterleavedFrame{Channel: 1}.IsRTCP())
	require.Equal(t, 0, TrackIndex(0))
	require.Equal(t, 0, TrackIndex(1))
	require.Equal(t, 1, TrackIndex(2))
	require.Equal(t, 127, TrackIndex(0xFE))
}
