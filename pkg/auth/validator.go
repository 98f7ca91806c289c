// Package auth implements RTSP Basic and Digest authentication for
// publisher and subscriber credentials.
package auth

import (
	"crypto/md5" //nolint:gosec
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
	"github.com/kelpstream/rtsp-reflector/pkg/headers"
)

func md5Hex(s string) string {
	h := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// Validator checks Basic/Digest credentials sent by a client against a
// single configured user/pass pair.
type Validator struct {
	user    string
	pass    string
	methods []headers.AuthMethod
	realm   string
	nonce   string
}

// NewValidator allocates a Validator. If methods is nil, Basic and Digest
// are both accepted.
func NewValidator(user, pass string, methods []headers.AuthMethod) *Validator {
	if methods == nil {
		methods = []headers.AuthMethod{headers.AuthBasic, headers.AuthDigest}
	}

	nonceByts := make([]byte, 16)
	rand.Read(nonceByts) //nolint:errcheck

	return &Validator{
		user:    user,
		pass:    pass,
		methods: methods,
		realm:   "rtsp-reflector",
		nonce:   hex.EncodeToString(nonceByts),
	}
}

// GenerateHeader builds the WWW-Authenticate header value(s) a client needs
// in order to authenticate.
func (va *Validator) GenerateHeader() base.HeaderValue {
	var ret base.HeaderValue
	for _, m := range va.methods {
		switch m {
		case headers.AuthBasic:
			ret = append(ret, headers.Auth{Method: headers.AuthBasic, Realm: &va.realm}.Write()...)

		case headers.AuthDigest:
			ret = append(ret, headers.Auth{Method: headers.AuthDigest, Realm: &va.realm, Nonce: &va.nonce}.Write()...)
		}
	}
	return ret
}

// ValidateHeader validates the Authorization header sent in response to
// GenerateHeader's challenge.
func (va *Validator) ValidateHeader(v base.HeaderValue, method base.Method, ur *base.URL) error {
	if len(v) == 0 {
		return fmt.Errorf("authorization header not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("authorization header provided multiple times")
	}

	v0 := v[0]

	switch {
	case strings.HasPrefix(v0, "Basic "):
		inResponse := v0[len("Basic "):]
		response := base64.StdEncoding.EncodeToString([]byte(va.user + ":" + va.pass))
		if inResponse != response {
			return fmt.Errorf("wrong response")
		}

	case strings.HasPrefix(v0, "Digest "):
		a, err := headers.ReadAuth(base.HeaderValue{v0})
		if err != nil {
			return err
		}

		switch {
		case a.Realm == nil:
			return fmt.Errorf("realm not provided")
		case a.Nonce == nil:
			return fmt.Errorf("nonce not provided")
		case a.Username == nil:
			return fmt.Errorf("username not provided")
		case a.URI == nil:
			return fmt.Errorf("uri not provided")
		case a.Response == nil:
			return fmt.Errorf("response not provided")
		}

		if *a.Nonce != va.nonce {
			return fmt.Errorf("wrong nonce")
		}
		if *a.Realm != va.realm {
			return fmt.Errorf("wrong realm")
		}
		if *a.Username != va.user {
			return fmt.Errorf("wrong username")
		}
		if *a.URI != ur.String() {
			return fmt.Errorf("wrong url")
		}

		response := md5Hex(md5Hex(va.user+":"+va.realm+":"+va.pass) +
			":" + va.nonce + ":" + md5Hex(string(method)+":"+*a.URI))

		if *a.Response != response {
			return fmt.Errorf("wrong response")
		}

	default:
		return fmt.Errorf("unsupported authorization header")
	}

	return nil
}
