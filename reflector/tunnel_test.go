package reflector

import (
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeHalf is a TunnelHalf with scripted direction and a recorded
// donate/adopt history.
type fakeHalf struct {
	get     bool
	body    io.Reader
	sock    net.Conn
	donated bool

	adoptedReader io.Reader
	adoptedSock   net.Conn
}

func (f *fakeHalf) IsGet() bool { return f.get }

func (f *fakeHalf) DonateInput() (io.Reader, net.Conn) {
	f.donated = true
	return f.body, f.sock
}

func (f *fakeHalf) AdoptInput(r io.Reader, donorSock net.Conn) {
	f.adoptedReader = r
	f.adoptedSock = donorSock
}

func TestTunnelFirstHalfWaits(t *testing.T) {
	tp := NewTunnelPairing()

	paired, err := tp.ResolveOrRegister("abc", &fakeHalf{get: true})
	require.NoError(t, err)
	require.False(t, paired)
	require.Equal(t, 1, tp.Count())
}

func TestTunnelPairGetThenPost(t *testing.T) {
	tp := NewTunnelPairing()

	get := &fakeHalf{get: true}
	post := &fakeHalf{get: false, body: strings.NewReader("decoded rtsp bytes")}

	_, err := tp.ResolveOrRegister("abc", get)
	require.NoError(t, err)

	paired, err := tp.ResolveOrRegister("abc", post)
	require.NoError(t, err)
	require.True(t, paired)

	// the POST half donated its input; the GET half adopted it; the
	// cookie is gone from the table.
	require.True(t, post.donated)
	require.Equal(t, post.body, get.adoptedReader)
	require.Equal(t, 0, tp.Count())
}

func TestTunnelPairPostThenGet(t *testing.T) {
	tp := NewTunnelPairing()

	post := &fakeHalf{get: false, body: strings.NewReader("x")}
	get := &fakeHalf{get: true}

	_, err := tp.ResolveOrRegister("abc", post)
	require.NoError(t, err)

	paired, err := tp.ResolveOrRegister("abc", get)
	require.NoError(t, err)
	require.True(t, paired)

	// direction decides the transfer, not arrival order: the GET half
	// still ends up with the POST half's stream.
	require.True(t, post.donated)
	require.Equal(t, post.body, get.adoptedReader)
	require.False(t, get.donated)
}

func TestTunnelSameDirectionRejected(t *testing.T) {
	tp := NewTunnelPairing()

	_, err := tp.ResolveOrRegister("abc", &fakeHalf{get: true})
	require.NoError(t, err)

	_, err = tp.ResolveOrRegister("abc", &fakeHalf{get: true})
	require.Error(t, err)

	// the original half stays registered.
	require.Equal(t, 1, tp.Count())
}

func TestTunnelAbandon(t *testing.T) {
	tp := NewTunnelPairing()
	tp.ResolveOrRegister("abc", &fakeHalf{get: true})

	tp.Abandon("abc")
	require.Equal(t, 0, tp.Count())

	// after abandonment the cookie is free again.
	paired, err := tp.ResolveOrRegister("abc", &fakeHalf{get: false})
	require.NoError(t, err)
	require.False(t, paired)
}
