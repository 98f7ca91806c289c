package reflector

import (
	"context"
	"time"

	"github.com/kelpstream/rtsp-reflector/internal/scheduler"
)

// expireSweepInterval is how often the expiry task scans for sessions whose
// keepalive has lapsed or whose publisher outlived its announce cap.
const expireSweepInterval = time.Second

// expireTask is the scheduler task that enforces the two time limits of
// spec §5: the per-session keepalive (refreshed on any pipeline activity)
// and max_broadcast_announce_duration, the hard cap on publisher lifetime.
type expireTask struct {
	s *Server
}

// Step implements scheduler.Task.
func (t *expireTask) Step(ctx context.Context) scheduler.Result {
	if ctx.Err() != nil {
		return scheduler.Result{Verdict: scheduler.Done}
	}
	t.s.sweepExpired()
	return scheduler.Result{Verdict: scheduler.RescheduleAfter, After: expireSweepInterval}
}

// sweepExpired terminates every ClientSession whose keepalive deadline has
// passed and every publisher that has exceeded the announce-duration cap.
// A timed-out publisher's subscribers stay attached unless
// kill_clients_when_broadcast_stops is on; detachClientSession applies that
// policy (spec §5 "Cancellation and timeouts").
func (s *Server) sweepExpired() {
	s.sessMu.Lock()
	stale := make([]*ClientSession, 0)
	for _, cs := range s.sessions {
		if cs.Expired() {
			stale = append(stale, cs)
		}
	}
	s.sessMu.Unlock()

	for _, cs := range stale {
		connID := cs.ConnectionID()
		s.log.Info().Str("session", cs.ID).Msg("session keepalive expired")
		s.detachClientSession(cs, connID)
		s.forgetSession(cs.ID)
		if c, ok := s.connByID(connID); ok {
			c.Terminate()
		}
	}

	if s.Config.MaxBroadcastAnnounceDuration > 0 {
		s.sweepOverlongBroadcasts()
	}
}

// sweepOverlongBroadcasts tears down any broadcast whose publisher has been
// live longer than max_broadcast_announce_duration.
func (s *Server) sweepOverlongBroadcasts() {
	s.Registry.mu.Lock()
	overlong := make([]*ReflectorSession, 0)
	for _, rsess := range s.Registry.sessions {
		if rsess.HasPublisher() && time.Since(rsess.CreatedAt()) > s.Config.MaxBroadcastAnnounceDuration {
			overlong = append(overlong, rsess)
		}
	}
	s.Registry.mu.Unlock()

	for _, rsess := range overlong {
		s.log.Info().Str("session", rsess.Name).Msg("broadcast exceeded announce duration cap")
		if pub, ok := rsess.Publisher(); ok {
			if c, ok := s.connByID(pub.ConnectionID); ok {
				c.Terminate()
			}
		}
		s.forceUnregister(rsess.Name)
	}
}
