package reflector

import "github.com/kelpstream/rtsp-reflector/pkg/base"

// RoleKind names a slot in the per-request role chain (spec §4.5, §9
// "extension roles with cooperative suspension"). Each slot is a sealed
// variant rather than a tagged union of generic parameter blocks: the
// dispatcher switches on RoleKind and every role sees a RoleContext typed
// exactly for its slot.
type RoleKind int

// role slots, in pipeline order.
const (
	RoleFilter RoleKind = iota
	RoleRoute
	RoleAuthenticate
	RoleAuthorize
	RolePreProcess
	RoleProcess
	RolePostProcess
	RoleSessionClose
)

// RoleOutcome is the sum type a role callback returns (spec §9): either it
// is finished, or it asks the pipeline to suspend and resume it later at
// exactly the same role index.
type RoleOutcome struct {
	Done           bool
	NeedsEvent     <-chan struct{}
	NeedsIdle      bool
	NeedsGlobalLock bool
	Response       *base.Response // set when Done and a response was produced
	Err            error          // set when Done and the role failed
}

// roleFunc is one extension callback bound to a RoleKind.
type roleFunc func(rc *requestContext) RoleOutcome

// roleChain is the ordered registry of callbacks bound to lifecycle roles
// (spec §2 "Role Dispatch"). The core ships one implementation per slot;
// external collaborators would append more without the pipeline's
// knowledge, which is why each slot is a slice rather than a single func.
type roleChain struct {
	callbacks map[RoleKind][]roleFunc
}

// newRoleChain builds the chain with the reflector's own built-in roles
// registered at each slot.
func newRoleChain(s *Server) *roleChain {
	rc := &roleChain{callbacks: make(map[RoleKind][]roleFunc)}
	rc.callbacks[RoleFilter] = []roleFunc{s.roleFilterTunnel}
	rc.callbacks[RoleRoute] = []roleFunc{s.roleRoute}
	rc.callbacks[RoleAuthenticate] = []roleFunc{s.roleAuthenticate}
	rc.callbacks[RoleAuthorize] = []roleFunc{s.roleAuthorize}
	rc.callbacks[RoleProcess] = []roleFunc{s.roleProcess}
	return rc
}

// run executes every callback bound to kind in order, stopping at the
// first one that does not report Done, or the first Done with a non-nil
// Response/Err.
func (rc *roleChain) run(kind RoleKind, req *requestContext) RoleOutcome {
	for _, cb := range rc.callbacks[kind] {
		out := cb(req)
		if !out.Done {
			return out
		}
		if out.Response != nil || out.Err != nil {
			return out
		}
	}
	return RoleOutcome{Done: true}
}
