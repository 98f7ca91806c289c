package reflector

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/sourcedesc"
)

func testSession(name string) *ReflectorSession {
	return NewReflectorSession(name, sourcedesc.SourceDescriptor{}, DefaultConfig(), nil, zerolog.Nop())
}

func TestResolveUnknown(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	_, ok := r.Resolve("nope")
	require.False(t, ok)
}

func TestResolveOrRegisterInserts(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	cand := testSession("live/s1")

	got, inserted := r.ResolveOrRegister("live/s1", cand)
	require.True(t, inserted)
	require.Same(t, cand, got)
	require.Equal(t, 1, got.RefCount())
	require.Equal(t, 1, r.Count())
}

func TestResolveOrRegisterReturnsExisting(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	first := testSession("live/s1")
	r.ResolveOrRegister("live/s1", first)

	second := testSession("live/s1")
	got, inserted := r.ResolveOrRegister("live/s1", second)
	require.False(t, inserted)
	require.Same(t, first, got)
	require.Equal(t, 2, first.RefCount())
	require.Equal(t, 0, second.RefCount())
	require.Equal(t, 1, r.Count())
}

// resolveOrRegister followed by release leaves the registry in the
// pre-call state when no other party held the session.
func TestResolveReleaseRoundTrip(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	s := testSession("live/s1")

	r.ResolveOrRegister("live/s1", s)
	require.Equal(t, 1, r.Count())

	r.Release(s)

	require.Eventually(t, func() bool {
		return r.Count() == 0 && s.RefCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestReleaseKeepsHeldSession(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	s := testSession("live/s1")

	r.ResolveOrRegister("live/s1", s)
	got, ok := r.Resolve("live/s1")
	require.True(t, ok)
	require.Equal(t, 2, got.RefCount())

	r.Release(s)
	require.Equal(t, 1, r.Count())
	require.Equal(t, 1, s.RefCount())
}

func TestUnregister(t *testing.T) {
	r := NewSessionRegistry(zerolog.Nop())
	s := testSession("live/s1")
	r.ResolveOrRegister("live/s1", s)

	got, ok := r.Unregister("live/s1")
	require.True(t, ok)
	require.Same(t, s, got)
	require.Equal(t, 0, r.Count())

	_, ok = r.Unregister("live/s1")
	require.False(t, ok)
}
