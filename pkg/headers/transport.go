package headers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

// TransportProtocol is the wire protocol carrying the stream.
type TransportProtocol int

// transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportDelivery is a delivery method.
type TransportDelivery int

// delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode is the SETUP mode.
type TransportMode int

// transport modes.
const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// Transport is a Transport header, RFC 2326 §12.39.
type Transport struct {
	Protocol       TransportProtocol
	Delivery       *TransportDelivery
	Source         *net.IP
	Destination    *net.IP
	InterleavedIDs *[2]int
	TTL            *uint
	Ports          *[2]int
	ClientPorts    *[2]int
	ServerPorts    *[2]int
	SSRC           *uint32
	Mode           *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	parts := strings.Split(val, "-")

	p0, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}

	if len(parts) == 1 {
		return &[2]int{p0, p0 + 1}, nil
	}

	p1, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}

	return &[2]int{p0, p1}, nil
}

// Read decodes a Transport header.
func (h *Transport) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	kvs, err := keyValParse(v[0], ';')
	if err != nil {
		return err
	}

	protocolFound := false

	for k, v := range kvs {
		switch k {
		case "RTP/AVP", "RTP/AVP/UDP":
			h.Protocol = TransportProtocolUDP
			protocolFound = true

		case "RTP/AVP/TCP":
			h.Protocol = TransportProtocolTCP
			protocolFound = true

		case "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d

		case "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d

		case "source":
			if v != "" {
				ip := net.ParseIP(v)
				if ip == nil {
					return fmt.Errorf("invalid source (%v)", v)
				}
				h.Source = &ip
			}

		case "destination":
			if v != "" {
				ip := net.ParseIP(v)
				if ip == nil {
					return fmt.Errorf("invalid destination (%v)", v)
				}
				h.Destination = &ip
			}

		case "interleaved":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.InterleavedIDs = ports

		case "ttl":
			tmp, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			vu := uint(tmp)
			h.TTL = &vu

		case "port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.Ports = ports

		case "client_port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case "server_port":
			ports, err := parsePorts(v)
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case "ssrc":
			v = strings.TrimLeft(v, " ")
			if len(v)%2 != 0 {
				v = "0" + v
			}
			tmp, err := hex.DecodeString(v)
			if err != nil {
				return err
			}
			if len(tmp) > 4 {
				return fmt.Errorf("invalid SSRC")
			}
			var ssrc [4]byte
			copy(ssrc[4-len(tmp):], tmp)
			sv := binary.BigEndian.Uint32(ssrc[:])
			h.SSRC = &sv

		case "mode":
			switch strings.ToLower(v) {
			case "play":
				m := TransportModePlay
				h.Mode = &m

			// "receive" is an alias for "record" used by ffmpeg -listen and by
			// Darwin Streaming Server-compatible publishers.
			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m

			default:
				return fmt.Errorf("invalid transport mode: '%s'", v)
			}

		default:
			// ignore non-standard keys
		}
	}

	if !protocolFound {
		return fmt.Errorf("protocol not found (%v)", v[0])
	}

	return nil
}

// Write encodes a Transport header.
func (h Transport) Write() base.HeaderValue {
	var rets []string

	if h.Protocol == TransportProtocolUDP {
		rets = append(rets, "RTP/AVP")
	} else {
		rets = append(rets, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			rets = append(rets, "unicast")
		} else {
			rets = append(rets, "multicast")
		}
	}

	if h.Destination != nil {
		rets = append(rets, "destination="+h.Destination.String())
	}

	if h.InterleavedIDs != nil {
		rets = append(rets, fmt.Sprintf("interleaved=%d-%d", h.InterleavedIDs[0], h.InterleavedIDs[1]))
	}

	if h.Ports != nil {
		rets = append(rets, fmt.Sprintf("port=%d-%d", h.Ports[0], h.Ports[1]))
	}

	if h.TTL != nil {
		rets = append(rets, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}

	if h.ClientPorts != nil {
		rets = append(rets, fmt.Sprintf("client_port=%d-%d", h.ClientPorts[0], h.ClientPorts[1]))
	}

	if h.ServerPorts != nil {
		rets = append(rets, fmt.Sprintf("server_port=%d-%d", h.ServerPorts[0], h.ServerPorts[1]))
	}

	if h.SSRC != nil {
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, *h.SSRC)
		rets = append(rets, "ssrc="+strings.ToUpper(hex.EncodeToString(tmp)))
	}

	if h.Mode != nil {
		if *h.Mode == TransportModePlay {
			rets = append(rets, "mode=play")
		} else {
			rets = append(rets, "mode=record")
		}
	}

	return base.HeaderValue{strings.Join(rets, ";")}
}
