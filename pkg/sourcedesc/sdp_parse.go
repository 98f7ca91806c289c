package sourcedesc

import (
	"net"
	"strconv"
	"strings"
	"time"

	psdp "github.com/pion/sdp/v3"
)

// connectionAddr reads the multicast group address and TTL a media
// description (or the session-level fallback) declares, used only to
// decide whether a stream's ingest is a multicast join versus a unicast
// bind (spec §3 IsReflectable) - not to trust the publisher's claimed
// unicast destination, which the reflector always rebinds itself.
func connectionAddr(sd *psdp.SessionDescription, md *psdp.MediaDescription) (net.IP, int) {
	ci := md.ConnectionInformation
	if ci == nil {
		ci = sd.ConnectionInformation
	}
	if ci == nil || ci.Address == nil {
		return nil, 0
	}

	addr := ci.Address.Address
	ttl := 0
	if ci.Address.TTL != nil {
		ttl = *ci.Address.TTL
	}
	// an IPv4 multicast address may carry "/<ttl>[/<range>]" in the
	// address field itself.
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		if ci.Address.TTL == nil {
			if v, err := strconv.Atoi(strings.SplitN(addr[i+1:], "/", 2)[0]); err == nil {
				ttl = v
			}
		}
		addr = addr[:i]
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, 0
	}
	return ip, ttl
}

// ParseSourceDescriptor builds a SourceDescriptor from an already-parsed
// SDP (spec §1: the SDP text parser itself is an external collaborator;
// this is the core's consumption of its output). The connection line's
// address is read only to tell a multicast source from a unicast one;
// destination ports are always rebound at Setup time rather than trusted
// from a publisher's ANNOUNCE body (spec §4.3 Setup).
func ParseSourceDescriptor(sd *psdp.SessionDescription, direction SetupDirection) (SourceDescriptor, error) {
	out := SourceDescriptor{}

	for i, md := range sd.MediaDescriptions {
		transport := TransportUDP
		for _, p := range md.MediaName.Protos {
			if strings.EqualFold(p, "TCP") {
				transport = TransportTCPInterleaved
			}
		}

		var payloadType uint8
		if len(md.MediaName.Formats) > 0 {
			if pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 8); err == nil {
				payloadType = uint8(pt)
			}
		}

		payloadName := ""
		timescale := uint32(90000)
		for _, a := range md.Attributes {
			if a.Key != "rtpmap" {
				continue
			}
			fields := strings.Fields(a.Value)
			if len(fields) != 2 {
				continue
			}
			sub := strings.SplitN(fields[1], "/", 2)
			payloadName = sub[0]
			if len(sub) == 2 {
				if ts, err := strconv.ParseUint(sub[1], 10, 32); err == nil {
					timescale = uint32(ts)
				}
			}
		}

		destAddr, ttl := connectionAddr(sd, md)

		out.Streams = append(out.Streams, StreamDescriptor{
			DestAddr:       destAddr,
			DestPort:       md.MediaName.Port.Value,
			TTL:            ttl,
			PayloadType:    payloadType,
			PayloadName:    payloadName,
			MediaType:      md.MediaName.Media,
			TrackID:        i,
			BufferDelay:    DefaultBufferDelaySecs,
			Transport:      transport,
			SetupDirection: direction,
			Timescale:      timescale,
		})
	}

	if err := out.ValidateTrackIDs(); err != nil {
		return SourceDescriptor{}, err
	}

	return out, nil
}

// BuildLocalSDP renders descriptor as the stripped, subscriber-facing SDP
// (spec §6): per-media connection lines removed, a=control:* added, and
// the media-bandwidth compatibility scaling applied when configured.
// userAgent feeds the deterministic v=/s=/t=/o= repair (spec §9 "SDP
// repair"); sessionID is passed through to Repair, which does not use it.
func BuildLocalSDP(descriptor SourceDescriptor, sessionID, userAgent string, bandwidthPercent int) *psdp.SessionDescription {
	sd := &psdp.SessionDescription{}

	for _, st := range descriptor.Streams {
		sd.MediaDescriptions = append(sd.MediaDescriptions, BuildMediaDescription(st))
	}

	Repair(sd, time.Now(), userAgent, "0.0.0.0", sessionID)
	StripConnectionInfo(sd)
	AddWildcardControl(sd)
	if bandwidthPercent > 0 {
		ScaleMediaBandwidth(sd, bandwidthPercent)
	}

	return sd
}
