package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

func deliveryPtr(v TransportDelivery) *TransportDelivery { return &v }
func modePtr(v TransportMode) *TransportMode             { return &v }

var casesTransport = []struct {
	name string
	vin  base.HeaderValue
	vout base.HeaderValue
	h    Transport
}{
	{
		"udp unicast play request",
		base.HeaderValue{`RTP/AVP;unicast;client_port=3456-3457;mode="PLAY"`},
		base.HeaderValue{`RTP/AVP;unicast;client_port=3456-3457;mode=play`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Delivery:    deliveryPtr(TransportDeliveryUnicast),
			ClientPorts: &[2]int{3456, 3457},
			Mode:        modePtr(TransportModePlay),
		},
	},
	{
		"udp unicast record request",
		base.HeaderValue{`RTP/AVP;unicast;mode=record;client_port=6982-6983`},
		base.HeaderValue{`RTP/AVP;unicast;client_port=6982-6983;mode=record`},
		Transport{
			Protocol:    TransportProtocolUDP,
			Delivery:    deliveryPtr(TransportDeliveryUnicast),
			ClientPorts: &[2]int{6982, 6983},
			Mode:        modePtr(TransportModeRecord),
		},
	},
	{
		"tcp interleaved",
		base.HeaderValue{`RTP/AVP/TCP;unicast;interleaved=0-1`},
		base.HeaderValue{`RTP/AVP/TCP;unicast;interleaved=0-1`},
		Transport{
			Protocol:       TransportProtocolTCP,
			Delivery:       deliveryPtr(TransportDeliveryUnicast),
			InterleavedIDs: &[2]int{0, 1},
		},
	},
}

func TestTransportRead(t *testing.T) {
	for _, ca := range casesTransport {
		t.Run(ca.name, func(t *testing.T) {
			var h Transport
			require.NoError(t, h.Read(ca.vin))
			require.Equal(t, ca.h, h)
		})
	}
}

func TestTransportWrite(t *testing.T) {
	for _, ca := range casesTransport {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.vout, ca.h.Write())
		})
	}
}

func TestTransportReadReceiveModeAlias(t *testing.T) {
	var h Transport
	require.NoError(t, h.Read(base.HeaderValue{`RTP/AVP;unicast;mode=receive;client_port=5000-5001`}))
	require.NotNil(t, h.Mode)
	require.Equal(t, TransportModeRecord, *h.Mode)
}

func TestTransportReadErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		vin  base.HeaderValue
	}{
		{"no value", base.HeaderValue{}},
		{"multiple values", base.HeaderValue{"a", "b"}},
		{"no protocol", base.HeaderValue{`unicast;client_port=5000-5001`}},
		{"invalid mode", base.HeaderValue{`RTP/AVP;mode=dance`}},
		{"invalid ports", base.HeaderValue{`RTP/AVP;client_port=x-y`}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var h Transport
			require.Error(t, h.Read(ca.vin))
		})
	}
}
