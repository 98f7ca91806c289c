package headers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

func TestSessionRead(t *testing.T) {
	var h Session
	require.NoError(t, h.Read(base.HeaderValue{"A3eqwsafq3rFASqew"}))
	require.Equal(t, "A3eqwsafq3rFASqew", h.Session)
	require.Nil(t, h.Timeout)

	var h2 Session
	require.NoError(t, h2.Read(base.HeaderValue{"A3eqwsafq3rFASqew; timeout=47"}))
	require.Equal(t, "A3eqwsafq3rFASqew", h2.Session)
	require.NotNil(t, h2.Timeout)
	require.Equal(t, uint(47), *h2.Timeout)
}

func TestSessionWrite(t *testing.T) {
	require.Equal(t, base.HeaderValue{"abc"}, Session{Session: "abc"}.Write())

	to := uint(60)
	require.Equal(t, base.HeaderValue{"abc;timeout=60"}, Session{Session: "abc", Timeout: &to}.Write())
}

func TestSessionReadErrors(t *testing.T) {
	var h Session
	require.Error(t, h.Read(base.HeaderValue{}))
	require.Error(t, h.Read(base.HeaderValue{"a", "b"}))
	require.Error(t, h.Read(base.HeaderValue{"abc;timeout=x"}))
}
