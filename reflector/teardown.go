package reflector

// detachClientSession releases cs's hold on whichever ReflectorSession it
// is attached to - a publisher clear or a subscriber detach on every
// negotiated track - and forces the broadcast out of the registry once
// nothing is left attached to it. Our registry keeps one standing
// reference alive from the ANNOUNCE/DESCRIBE that created the session
// until this explicit teardown decides to let it go, rather than deriving
// destruction from a literal per-attachment refcount (spec §4.4; see
// DESIGN.md). Idempotent: cs.ReflectorName reports false once this has
// already run for cs.
func (s *Server) detachClientSession(cs *ClientSession, connID string) {
	name, ok := cs.ReflectorName()
	if !ok {
		return
	}

	rsess, ok := s.Registry.Resolve(name)
	if !ok {
		cs.ClearReflector()
		return
	}
	defer s.Registry.Release(rsess)

	wasPublisher := cs.IsPublisher()
	if wasPublisher {
		rsess.ClearPublisher(connID)
	} else {
		for _, t := range cs.Tracks() {
			if t.Output != nil {
				rsess.RemoveSubscriber(t.TrackID, t.Output, false)
			}
		}
	}
	cs.ClearReflector()

	if wasPublisher && s.Config.KillClientsWhenBroadcastStops {
		s.forceUnregister(name)
		return
	}

	if !rsess.HasPublisher() && !rsess.HasSubscribers() {
		s.forceUnregister(name)
	}
}

// forceUnregister removes name from the registry regardless of refcount
// and tears down its streams, used once nothing is left attached to a
// broadcast, and by `.kill` (spec §4.5 ANNOUNCE, end-to-end scenario 4).
func (s *Server) forceUnregister(name string) {
	rsess, ok := s.Registry.Unregister(name)
	if !ok {
		return
	}
	rsess.tearDownAllSubscribers()
	s.SDPCache.Clear(s.SDPCache.Key(name, 0))
}
