package headers

import (
	"fmt"
	"strings"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

// AuthMethod is an authentication method.
type AuthMethod int

// supported authentication methods.
const (
	AuthBasic AuthMethod = iota
	AuthDigest
)

// Auth is a WWW-Authenticate or Authorization header.
type Auth struct {
	Method    AuthMethod
	Username  *string
	Realm     *string
	Nonce     *string
	URI       *string
	Response  *string
	Opaque    *string
	Stale     *string
	Algorithm *string
}

func authFindValue(v0 string) (string, string, error) {
	if v0 == "" {
		return "", "", nil
	}

	if v0[0] == '"' {
		i := 1
		for {
			if i >= len(v0) {
				return "", "", fmt.Errorf("apices not closed (%v)", v0)
			}
			if v0[i] == '"' {
				return v0[1:i], v0[i+1:], nil
			}
			i++
		}
	}

	i := 0
	for {
		if i >= len(v0) || v0[i] == ',' {
			return v0[:i], v0[i:], nil
		}
		i++
	}
}

// Read decodes a WWW-Authenticate or Authorization header.
func (h *Auth) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to find method (%s)", v0)
	}

	switch v0[:i] {
	case "Basic":
		h.Method = AuthBasic

	case "Digest":
		h.Method = AuthDigest

	default:
		return fmt.Errorf("invalid method (%s)", v0[:i])
	}
	v0 = v0[i+1:]

	for len(v0) > 0 {
		i := strings.IndexByte(v0, '=')
		if i < 0 {
			return fmt.Errorf("unable to find key (%s)", v0)
		}
		var key string
		key, v0 = v0[:i], v0[i+1:]

		val, rest, err := authFindValue(v0)
		if err != nil {
			return err
		}
		v0 = rest

		switch key {
		case "username":
			h.Username = &val
		case "realm":
			h.Realm = &val
		case "nonce":
			h.Nonce = &val
		case "uri":
			h.URI = &val
		case "response":
			h.Response = &val
		case "opaque":
			h.Opaque = &val
		case "stale":
			h.Stale = &val
		case "algorithm":
			h.Algorithm = &val
		}

		if len(v0) > 0 && v0[0] == ',' {
			v0 = v0[1:]
		}
		for len(v0) > 0 && v0[0] == ' ' {
			v0 = v0[1:]
		}
	}

	return nil
}

// Write encodes a WWW-Authenticate or Authorization header.
func (h Auth) Write() base.HeaderValue {
	ret := ""
	switch h.Method {
	case AuthBasic:
		ret += "Basic"
	case AuthDigest:
		ret += "Digest"
	}
	ret += " "

	var rets []string

	if h.Username != nil {
		rets = append(rets, `username="`+*h.Username+`"`)
	}
	if h.Realm != nil {
		rets = append(rets, `realm="`+*h.Realm+`"`)
	}
	if h.Nonce != nil {
		rets = append(rets, `nonce="`+*h.Nonce+`"`)
	}
	if h.URI != nil {
		rets = append(rets, `uri="`+*h.URI+`"`)
	}
	if h.Response != nil {
		rets = append(rets, `response="`+*h.Response+`"`)
	}
	if h.Opaque != nil {
		rets = append(rets, `opaque="`+*h.Opaque+`"`)
	}
	if h.Stale != nil {
		rets = append(rets, `stale="`+*h.Stale+`"`)
	}
	if h.Algorithm != nil {
		rets = append(rets, `algorithm="`+*h.Algorithm+`"`)
	}

	ret += strings.Join(rets, ", ")

	return base.HeaderValue{ret}
}

// ReadAuth parses a WWW-Authenticate or Authorization header value.
func ReadAuth(v base.HeaderValue) (*Auth, error) {
	var h Auth
	if err := h.Read(v); err != nil {
		return nil, err
	}
	return &h, nil
}
