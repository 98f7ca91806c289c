package reflector

import "time"

// Config collects every tunable the core pipeline honors (spec §6). It is
// ordinarily populated by cmd/reflectord from command-line flags layered
// over DefaultConfig; tests construct it by hand.
type Config struct {
	// RTSPAddress is the TCP listen address, e.g. ":554".
	RTSPAddress string

	// Workers is the cooperative scheduler's fixed worker-pool size
	// (spec §5 default 8).
	Workers int

	AllowNonSDPURLs bool

	EnableBroadcastAnnounce bool
	EnableBroadcastPush     bool

	MaxBroadcastAnnounceDuration time.Duration

	AllowDuplicateBroadcasts bool

	MinimumStaticSDPPort    int
	MaximumStaticSDPPort    int
	EnforceStaticSDPPortRange bool

	KillClientsWhenBroadcastStops bool

	UseOneSSRCPerStream bool
	TimeoutStreamSSRC   time.Duration

	TimeoutBroadcasterSession time.Duration

	// SessionTimeout is the subscriber-side Session keepalive window,
	// refreshed on every request bound to that session (spec §3, RFC
	// 2326 §12.37 "default is 60 seconds").
	SessionTimeout time.Duration

	AuthenticateLocalBroadcast bool

	DisableOverbuffering bool

	AllowBroadcasts   bool
	AllowAnnouncedKill bool

	EnablePlayResponseRangeHeader bool

	// CompatibilityAdjustSDPMediaBandwidthPercent scales SDP b= lines,
	// 1-100; 0 or 100 means "do not scale".
	CompatibilityAdjustSDPMediaBandwidthPercent int

	ForceRTPInfoSequenceAndTime bool

	IPAllowList []string

	RedirectBroadcastKeyword string
	RedirectBroadcastsDir    string
	BroadcastDirList         []string

	// RTPInfoWaitLoops/RTPInfoWaitInterval resolve the spec §9 open
	// question about the PLAY "buffered packets not yet available" wait
	// loop: original_source/QTSSReflectorModule.cpp models it as a
	// decrementing per-session counter combined with a 100ms idle
	// reschedule; we keep the 10x100ms default but make it configurable.
	RTPInfoWaitLoops    int
	RTPInfoWaitInterval time.Duration

	// MaxConnections enforces the NotEnoughBandwidth kind (spec §7),
	// grounded on the original's sMaxConnections check (spec §SPEC_FULL
	// item 4). Zero means unlimited.
	MaxConnections int

	// MaxSDPSizeBytes rejects ANNOUNCE bodies above this size with
	// PreconditionFailed (spec §7).
	MaxSDPSizeBytes int

	AuthUser string
	AuthPass string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	FrameBufferCapacity uint64 // entries per stream; must be a power of two

	// PacingTolerance is how far behind a subscriber's cursor may fall
	// before the thinning policy starts dropping non-reference RTP
	// (spec §4.2).
	PacingTolerance time.Duration
}

// effectivePacingTolerance is the thinning window streams are built with:
// disable_overbuffering turns the tolerance off entirely, so no packet is
// thinned regardless of lateness.
func (c Config) effectivePacingTolerance() time.Duration {
	if c.DisableOverbuffering {
		return 0
	}
	return c.PacingTolerance
}

// DefaultConfig returns the configuration baseline cmd/reflectord starts
// from before applying flag overrides.
func DefaultConfig() Config {
	return Config{
		RTSPAddress:               ":554",
		Workers:                   8,
		EnableBroadcastAnnounce:   true,
		EnableBroadcastPush:       true,
		AllowBroadcasts:           true,
		TimeoutBroadcasterSession: 30 * time.Second,
		SessionTimeout:            60 * time.Second,
		RTPInfoWaitLoops:          10,
		RTPInfoWaitInterval:       100 * time.Millisecond,
		MaxSDPSizeBytes:           64 * 1024,
		ReadTimeout:               10 * time.Second,
		WriteTimeout:              10 * time.Second,
		FrameBufferCapacity:       256,
		PacingTolerance:           500 * time.Millisecond,
	}
}
