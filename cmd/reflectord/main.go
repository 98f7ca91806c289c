// Command reflectord runs the RTSP reflector as a standalone server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kelpstream/rtsp-reflector/reflector"
)

// stringList collects a repeatable -broadcast-dir flag into Config's
// BroadcastDirList (spec §6 broadcast_dir_list).
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "reflectord:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := reflector.DefaultConfig()

	var dirs stringList
	fs := flag.NewFlagSet("reflectord", flag.ContinueOnError)

	fs.StringVar(&cfg.RTSPAddress, "rtsp-address", cfg.RTSPAddress, "TCP listen address")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "scheduler worker pool size")
	fs.BoolVar(&cfg.AllowNonSDPURLs, "allow-non-sdp-urls", cfg.AllowNonSDPURLs, "accept broadcast URLs that do not end in .sdp")
	fs.BoolVar(&cfg.EnableBroadcastAnnounce, "enable-broadcast-announce", cfg.EnableBroadcastAnnounce, "accept ANNOUNCE to register a push broadcast")
	fs.BoolVar(&cfg.EnableBroadcastPush, "enable-broadcast-push", cfg.EnableBroadcastPush, "accept SETUP/RECORD push transport")
	fs.DurationVar(&cfg.MaxBroadcastAnnounceDuration, "max-broadcast-announce-duration", cfg.MaxBroadcastAnnounceDuration, "0 means unlimited")
	fs.BoolVar(&cfg.AllowDuplicateBroadcasts, "allow-duplicate-broadcasts", cfg.AllowDuplicateBroadcasts, "allow a second publisher's SETUP to replace an active publisher")
	fs.IntVar(&cfg.MinimumStaticSDPPort, "minimum-static-sdp-port", cfg.MinimumStaticSDPPort, "lower bound of the allowed ANNOUNCE port range")
	fs.IntVar(&cfg.MaximumStaticSDPPort, "maximum-static-sdp-port", cfg.MaximumStaticSDPPort, "upper bound of the allowed ANNOUNCE port range")
	fs.BoolVar(&cfg.EnforceStaticSDPPortRange, "enforce-static-sdp-port-range", cfg.EnforceStaticSDPPortRange, "reject ANNOUNCE SDPs outside the static port range")
	fs.BoolVar(&cfg.KillClientsWhenBroadcastStops, "kill-clients-when-broadcast-stops", cfg.KillClientsWhenBroadcastStops, "tear down subscribers the moment the publisher departs")
	fs.BoolVar(&cfg.UseOneSSRCPerStream, "use-one-ssrc-per-stream", cfg.UseOneSSRCPerStream, "tag streams for single-SSRC bookkeeping (packets pass through unmodified)")
	fs.DurationVar(&cfg.TimeoutStreamSSRC, "timeout-stream-ssrc", cfg.TimeoutStreamSSRC, "how long a stale SSRC is tracked")
	fs.DurationVar(&cfg.TimeoutBroadcasterSession, "timeout-broadcaster-session", cfg.TimeoutBroadcasterSession, "publisher Session keepalive window")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "subscriber Session keepalive window")
	fs.BoolVar(&cfg.AuthenticateLocalBroadcast, "authenticate-local-broadcast", cfg.AuthenticateLocalBroadcast, "challenge ANNOUNCE/RECORD with auth-user/auth-pass even from loopback")
	fs.BoolVar(&cfg.DisableOverbuffering, "disable-overbuffering", cfg.DisableOverbuffering, "disable the subscriber pacing tolerance window")
	fs.BoolVar(&cfg.AllowBroadcasts, "allow-broadcasts", cfg.AllowBroadcasts, "master switch for ANNOUNCE/.kill handling")
	fs.BoolVar(&cfg.AllowAnnouncedKill, "allow-announced-kill", cfg.AllowAnnouncedKill, "honor ANNOUNCE .../name.kill")
	fs.BoolVar(&cfg.EnablePlayResponseRangeHeader, "enable-play-response-range-header", cfg.EnablePlayResponseRangeHeader, "add a Range header to PLAY responses")
	fs.IntVar(&cfg.CompatibilityAdjustSDPMediaBandwidthPercent, "compatibility-adjust-sdp-media-bandwidth-percent", cfg.CompatibilityAdjustSDPMediaBandwidthPercent, "scale SDP b= lines by this percent, 0 or 100 disables")
	fs.BoolVar(&cfg.ForceRTPInfoSequenceAndTime, "force-rtp-info-sequence-and-time", cfg.ForceRTPInfoSequenceAndTime, "wait for a buffered packet before answering PLAY")
	fs.StringVar(&cfg.RedirectBroadcastKeyword, "redirect-broadcast-keyword", cfg.RedirectBroadcastKeyword, "URL path prefix that redirects into redirect-broadcasts-dir")
	fs.StringVar(&cfg.RedirectBroadcastsDir, "redirect-broadcasts-dir", cfg.RedirectBroadcastsDir, "directory serving redirected broadcast SDPs")
	fs.Var(&dirs, "broadcast-dir", "directory to search for a pull-mode broadcast's .sdp file (repeatable)")
	fs.IntVar(&cfg.RTPInfoWaitLoops, "rtp-info-wait-loops", cfg.RTPInfoWaitLoops, "PLAY retry count while waiting for a first buffered packet")
	fs.DurationVar(&cfg.RTPInfoWaitInterval, "rtp-info-wait-interval", cfg.RTPInfoWaitInterval, "sleep between PLAY retries")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "0 means unlimited")
	fs.IntVar(&cfg.MaxSDPSizeBytes, "max-sdp-size-bytes", cfg.MaxSDPSizeBytes, "reject ANNOUNCE bodies larger than this")
	fs.StringVar(&cfg.AuthUser, "auth-user", cfg.AuthUser, "broadcaster username, empty disables authentication")
	fs.StringVar(&cfg.AuthPass, "auth-pass", cfg.AuthPass, "broadcaster password")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "per-request socket read deadline")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-response socket write deadline")
	fs.Uint64Var(&cfg.FrameBufferCapacity, "frame-buffer-capacity", cfg.FrameBufferCapacity, "entries per stream ring buffer, must be a power of two")
	fs.DurationVar(&cfg.PacingTolerance, "pacing-tolerance", cfg.PacingTolerance, "how far a subscriber cursor may fall behind before thinning")

	var ipAllowList string
	fs.StringVar(&ipAllowList, "ip-allow-list", "", "comma-separated broadcaster IP allow list, empty means allow all")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if ipAllowList != "" {
		cfg.IPAllowList = strings.Split(ipAllowList, ",")
	}
	cfg.BroadcastDirList = dirs
	if cfg.RedirectBroadcastsDir != "" {
		cfg.BroadcastDirList = append(cfg.BroadcastDirList, cfg.RedirectBroadcastsDir)
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}

	srv := reflector.NewServer(cfg)
	if len(cfg.BroadcastDirList) > 0 {
		srv.SDPSource = fileSDPSource(cfg.BroadcastDirList)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, cfg.RTSPAddress)
}

// validateConfig rejects the option combinations the original treats as
// startup-fatal misconfiguration rather than silently degrading.
func validateConfig(cfg reflector.Config) error {
	if cfg.EnforceStaticSDPPortRange && cfg.MinimumStaticSDPPort > cfg.MaximumStaticSDPPort {
		return fmt.Errorf("minimum-static-sdp-port (%d) exceeds maximum-static-sdp-port (%d)",
			cfg.MinimumStaticSDPPort, cfg.MaximumStaticSDPPort)
	}
	if cfg.FrameBufferCapacity == 0 || cfg.FrameBufferCapacity&(cfg.FrameBufferCapacity-1) != 0 {
		return fmt.Errorf("frame-buffer-capacity (%d) must be a power of two", cfg.FrameBufferCapacity)
	}
	return nil
}

// fileSDPSource looks up a pull-mode broadcast's pre-announced SDP file
// across dirs, in order (spec §6 broadcast_dir_list / redirect_broadcasts_dir).
// It implements only the file lookup the original's RedirectBroadcast
// performs for an unregistered name; the original's write-through ANNOUNCE
// persistence into redirect_broadcasts_dir is not reproduced here.
func fileSDPSource(dirs []string) reflector.SDPSourceFunc {
	return func(name string) ([]byte, bool) {
		for _, dir := range dirs {
			data, err := os.ReadFile(filepath.Join(dir, name+".sdp"))
			if err == nil {
				return data, true
			}
		}
		return nil, false
	}
}
