package reflector

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kelpstream/rtsp-reflector/internal/scheduler"
	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
)

// requestContext is the per-request state threaded through the role chain
// (spec §4.5, §9). It is built once per request and discarded once
// handleRequest returns.
type requestContext struct {
	conn *RTSPConnection
	req  *base.Request
	cseq string

	// session is resolved by roleRoute: the Session-header value if the
	// request carried one, otherwise whatever this connection is already
	// bound to (spec §4.5 tie-break: "the header value wins").
	session *ClientSession

	// waitLoopsLeft counts down methodPlay's RTP-Info wait loop across
	// repeated NeedsIdle suspensions of the same request (spec §9 open
	// question on the PLAY "not yet buffered" retry).
	waitLoopsLeft int
}

// errNeedsIdle signals that a method handler wants the pipeline to suspend
// and retry the RoleProcess slot rather than fail outright.
var errNeedsIdle = errors.New("needs idle")

var pipelineOrder = []RoleKind{
	RoleFilter,
	RoleRoute,
	RoleAuthenticate,
	RoleAuthorize,
	RolePreProcess,
	RoleProcess,
	RolePostProcess,
}

// requestTask runs one parsed request's role chain as a scheduler.Task
// (spec §5: "each connection and each reflector stream is a task"). The
// resumption state is the explicit roleIndex cursor rather than a
// goroutine blocked mid-chain (spec §9): a NeedsIdle suspension comes
// back as RescheduleAfter and a NeedsEvent as WaitEvent, so a slow PLAY
// wait loop occupies no worker while it idles.
type requestTask struct {
	rc        *requestContext
	roleIndex int
	res       *base.Response
	done      chan struct{}
}

// Step implements scheduler.Task. Each invocation resumes at exactly the
// role slot the previous one suspended on.
func (t *requestTask) Step(_ context.Context) scheduler.Result {
	c := t.rc.conn

	for t.roleIndex < len(pipelineOrder) {
		kind := pipelineOrder[t.roleIndex]

		out := c.s.roles.run(kind, t.rc)
		if !out.Done && out.NeedsGlobalLock {
			// re-enter the same slot under the process-wide lock
			// (spec §4.5 "global lock" suspension).
			c.s.globalMu.Lock()
			out = c.s.roles.run(kind, t.rc)
			c.s.globalMu.Unlock()
		}

		if !out.Done {
			if out.NeedsIdle {
				return scheduler.Result{
					Verdict: scheduler.RescheduleAfter,
					After:   c.s.Config.RTPInfoWaitInterval,
				}
			}
			if out.NeedsEvent != nil {
				return scheduler.Result{
					Verdict: scheduler.WaitEvent,
					Event:   out.NeedsEvent,
				}
			}
			t.roleIndex++
			continue
		}

		if out.Response != nil {
			t.res = out.Response
			break
		}
		if out.Err != nil {
			t.res = responseForError(out.Err)
			break
		}
		t.roleIndex++
	}

	if t.res == nil {
		t.res = responseForError(errkind.New(errkind.Internal, "pipeline produced no response"))
	}

	close(t.done)
	return scheduler.Result{Verdict: scheduler.Done}
}

// handleRequest submits req's role chain to the scheduler pool, waits for
// its verdict, and writes the response, refreshing the bound
// ClientSession's keepalive on the way out (spec §3). The wait happens on
// this connection's own reader goroutine; the chain itself runs (and
// suspends) as a pool task.
func (c *RTSPConnection) handleRequest(req *base.Request) error {
	rc := &requestContext{conn: c, req: req, waitLoopsLeft: -1}

	task := &requestTask{rc: rc, done: make(chan struct{})}
	c.s.pool.Submit(task)

	select {
	case <-task.done:
	case <-c.s.pool.Done():
		return errors.New("scheduler shut down")
	}
	res := task.res

	if rc.session != nil {
		timeout := c.s.Config.SessionTimeout
		if rc.session.IsPublisher() {
			timeout = c.s.Config.TimeoutBroadcasterSession
		}
		rc.session.Touch(timeout)
	}

	if res.Header == nil {
		res.Header = make(base.Header)
	}
	if rc.cseq != "" {
		res.Header.Set("CSeq", rc.cseq)
	}

	return c.writeResponse(res)
}

// roleFilterTunnel is the RoleFilter slot: it rejects requests missing the
// CSeq every RTSP request must carry (spec §4.5 OPTIONS/.../RTP-Info all
// echo CSeq back).
func (s *Server) roleFilterTunnel(rc *requestContext) RoleOutcome {
	cseq, ok := rc.req.Header.Get("CSeq")
	if !ok {
		return RoleOutcome{Done: true, Err: errkind.New(errkind.BadRequest, "CSeq header missing")}
	}
	rc.cseq = cseq
	return RoleOutcome{Done: true}
}

// roleRoute is the RoleRoute slot: it resolves rc.session, preferring a
// Session header's value over whatever session this connection already
// carries (spec §4.5 tie-break). A DESCRIBE's Session header is not looked
// up here; methodDescribe rejects it as HeaderFieldNotValid.
func (s *Server) roleRoute(rc *requestContext) RoleOutcome {
	hv, hasHeader := rc.req.Header.Get("Session")
	if hasHeader && rc.req.Method != base.Describe {
		id := strings.SplitN(hv, ";", 2)[0]
		cs, ok := s.sessionByID(id)
		if !ok {
			return RoleOutcome{Done: true, Response: sessionNotFound()}
		}
		cs.BindConnection(rc.conn.id)
		rc.conn.mu.Lock()
		rc.conn.session = cs
		rc.conn.mu.Unlock()
		rc.session = cs
		return RoleOutcome{Done: true}
	}

	rc.conn.mu.Lock()
	rc.session = rc.conn.session
	rc.conn.mu.Unlock()
	return RoleOutcome{Done: true}
}

// roleAuthenticate is the RoleAuthenticate slot: it challenges ANNOUNCE
// and RECORD when a broadcaster credential is configured (spec §6
// authenticate_local_broadcast / auth_user / auth_pass).
func (s *Server) roleAuthenticate(rc *requestContext) RoleOutcome {
	if s.authV == nil {
		return RoleOutcome{Done: true}
	}
	if rc.req.Method != base.Announce && rc.req.Method != base.Record {
		return RoleOutcome{Done: true}
	}

	hv, ok := rc.req.Header["Authorization"]
	if ok {
		if err := s.authV.ValidateHeader(hv, rc.req.Method, rc.req.URL); err == nil {
			return RoleOutcome{Done: true}
		}
	}

	return RoleOutcome{Done: true, Response: &base.Response{
		StatusCode: base.StatusUnauthorized,
		Header:     base.Header{"WWW-Authenticate": s.authV.GenerateHeader()},
	}}
}

// roleAuthorize is the RoleAuthorize slot: it enforces the broadcaster IP
// allow list (spec §6 ip_allow_list).
func (s *Server) roleAuthorize(rc *requestContext) RoleOutcome {
	if rc.req.Method != base.Announce || len(s.Config.IPAllowList) == 0 {
		return RoleOutcome{Done: true}
	}

	host, _, err := net.SplitHostPort(rc.conn.nconn.RemoteAddr().String())
	if err != nil {
		host = rc.conn.nconn.RemoteAddr().String()
	}

	for _, allowed := range s.Config.IPAllowList {
		if allowed == host {
			return RoleOutcome{Done: true}
		}
	}

	return RoleOutcome{Done: true, Err: errkind.New(errkind.Forbidden, "broadcaster ip not allowed")}
}

// roleProcess is the RoleProcess slot: it dispatches to the method
// handler table (spec §4.5 "Process").
func (s *Server) roleProcess(rc *requestContext) RoleOutcome {
	var res *base.Response
	var err error

	switch rc.req.Method {
	case base.Options:
		res, err = s.methodOptions(rc)
	case base.Describe:
		res, err = s.methodDescribe(rc)
	case base.Announce:
		res, err = s.methodAnnounce(rc)
	case base.Setup:
		res, err = s.methodSetup(rc)
	case base.Play:
		res, err = s.methodPlay(rc)
		if err == errNeedsIdle {
			return RoleOutcome{NeedsIdle: true}
		}
	case base.Record:
		res, err = s.methodRecord(rc)
	case base.Pause:
		res, err = s.methodPause(rc)
	case base.Teardown:
		res, err = s.methodTeardown(rc)
	case base.SetParameter, base.GetParameter:
		res, err = s.methodSetParameter(rc)
	default:
		err = errkind.New(errkind.BadRequest, "unsupported method")
	}

	if err != nil {
		return RoleOutcome{Done: true, Err: err}
	}
	return RoleOutcome{Done: true, Response: res}
}
