package reflector

import (
	"io"
	"net"
	"sync"

	"github.com/kelpstream/rtsp-reflector/pkg/errkind"
)

// TunnelHalf is one side of an HTTP-tunneled pair (spec §4.6, §9 "HTTP
// tunnel socket transfer"). RTSPConnection implements it.
type TunnelHalf interface {
	// IsGet reports whether this half arrived as the HTTP GET (downstream)
	// request, as opposed to the POST (upstream) request.
	IsGet() bool
	// DonateInput surrenders this half's decoded RTSP input stream together
	// with ownership of its socket. The half becomes terminal: its own
	// goroutine unwinds without closing the socket, which now belongs to
	// the adopting half.
	DonateInput() (io.Reader, net.Conn)
	// AdoptInput installs a donated input stream on this half, which
	// becomes the live RTSP control side. donorSock is closed when this
	// half closes.
	AdoptInput(r io.Reader, donorSock net.Conn)
}

// TunnelPairing matches a GET half-connection to a POST half-connection
// by session cookie so RTSP can flow as tunneled HTTP (spec §4.6, §3).
type TunnelPairing struct {
	mu      sync.Mutex
	pending map[string]TunnelHalf
}

// NewTunnelPairing allocates an empty pairing table.
func NewTunnelPairing() *TunnelPairing {
	return &TunnelPairing{pending: make(map[string]TunnelHalf)}
}

// ResolveOrRegister implements the binding algorithm from spec §4.6: if
// cookie already has a pending half of the complementary direction, the
// POST half's input stream and socket move to the GET half, and the cookie
// is removed from the table (paired == true). If the existing half is the
// same direction, the call fails. Otherwise self is registered as the new
// pending half (paired == false).
func (t *TunnelPairing) ResolveOrRegister(cookie string, self TunnelHalf) (paired bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.pending[cookie]
	if !ok {
		t.pending[cookie] = self
		return false, nil
	}

	if existing.IsGet() == self.IsGet() {
		return false, errkind.New(errkind.BadRequest, "tunnel cookie already bound to a connection of the same direction").
			WithReason("RequestFailed")
	}

	delete(t.pending, cookie)

	// The GET half always survives as the live control channel; the POST
	// half's decoded input stream becomes its read side. The POST half's
	// socket stays open (the client keeps writing the base64 body on it)
	// but ownership moves to the GET half.
	getHalf, postHalf := existing, self
	if self.IsGet() {
		getHalf, postHalf = self, existing
	}

	r, sock := postHalf.DonateInput()
	getHalf.AdoptInput(r, sock)

	return true, nil
}

// Abandon removes cookie's pending half without pairing it, used when a
// HTTPTunnelWait connection times out or the peer disconnects.
func (t *TunnelPairing) Abandon(cookie string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, cookie)
}

// Count reports how many cookies are currently awaiting their
// complementary half.
func (t *TunnelPairing) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
