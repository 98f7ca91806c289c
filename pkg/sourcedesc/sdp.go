package sourcedesc

import (
	"fmt"
	"strconv"
	"time"

	psdp "github.com/pion/sdp/v3"
)

// Repair synthesizes the `v=`, `s=`, `t=`, `o=` lines an ANNOUNCE body is
// missing (spec §6 "SDP: ... ensure required lines v=, s=, t=, o= are
// present", spec §9 "SDP repair ... isolate it as a pure function for
// testing"). It never overwrites a line already present. now, userAgent and
// clientAddr make the synthesized lines deterministic and therefore
// testable; sessionID is accepted but does not affect the result.
func Repair(sd *psdp.SessionDescription, now time.Time, userAgent, clientAddr, sessionID string) {
	if sd.SessionName == "" {
		sd.SessionName = psdp.SessionName(userAgent)
		if sd.SessionName == "" {
			sd.SessionName = "reflected stream"
		}
	}

	if len(sd.TimeDescriptions) == 0 {
		sd.TimeDescriptions = []psdp.TimeDescription{{Timing: psdp.Timing{StartTime: 0, StopTime: 0}}}
	}

	if sd.Origin.UnicastAddress == "" {
		sd.Origin = psdp.Origin{
			Username:       "-",
			SessionID:      uint64(now.Unix()), //nolint:gosec
			SessionVersion: uint64(now.Unix()), //nolint:gosec
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: clientAddr,
		}
	}

	_ = sessionID // origin uses the capture time, not the session id; kept for signature stability
}

// StripConnectionInfo removes per-session and per-media connection-address
// lines, which leak the publisher's network info into a response the
// reflector sends to every subscriber (spec §6).
func StripConnectionInfo(sd *psdp.SessionDescription) {
	sd.ConnectionInformation = nil
	for _, md := range sd.MediaDescriptions {
		md.ConnectionInformation = nil
	}
}

// AddWildcardControl ensures a top-level `a=control:*` attribute is present,
// as required of SDPs served to subscribers (spec §6).
func AddWildcardControl(sd *psdp.SessionDescription) {
	for _, a := range sd.Attributes {
		if a.Key == "control" {
			return
		}
	}
	sd.Attributes = append(sd.Attributes, psdp.Attribute{Key: "control", Value: "*"})
}

// ScaleMediaBandwidth scales every `b=AS:`/`b=RR:`/`b=RS:` line by percent
// (1-100), per the `compatibility_adjust_sdp_media_bandwidth_percent` option
// (spec §6), grounded on the original QTSSReflectorModule's media-bandwidth
// trimming for constrained downstream links.
func ScaleMediaBandwidth(sd *psdp.SessionDescription, percent int) {
	if percent <= 0 || percent >= 100 {
		return
	}
	for _, md := range sd.MediaDescriptions {
		for i, bw := range md.Bandwidth {
			md.Bandwidth[i] = psdp.Bandwidth{
				Experimental: bw.Experimental,
				Type:         bw.Type,
				Bandwidth:    bw.Bandwidth * uint64(percent) / 100, //nolint:gosec
			}
		}
	}
}

// BuildMediaDescription renders one StreamDescriptor as a pion/sdp media
// block for inclusion in a local (subscriber-facing) SDP, carrying the
// `trackID=N` control attribute the spec's SETUP/DESCRIBE contract expects.
func BuildMediaDescription(s StreamDescriptor) *psdp.MediaDescription {
	typ := strconv.FormatInt(int64(s.PayloadType), 10)

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   s.MediaType,
			Port:    psdp.RangedPort{Value: s.DestPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{typ},
		},
		Attributes: []psdp.Attribute{
			{Key: "control", Value: fmt.Sprintf("trackID=%d", s.TrackID)},
		},
	}

	if s.PayloadName != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%s %s/%d", typ, s.PayloadName, s.Timescale),
		})
	}

	return md
}
