// Package headers decodes and encodes the RTSP headers the reflector
// understands: Transport, Session, RTP-Info and the WWW-Authenticate /
// Authorization pair.
package headers

import "strings"

// keyValParse splits a header value on separator into a map of key to value.
// A token with no '=' is kept as a key mapped to the empty string, so that
// bare flags ("unicast", "RTP/AVP") and key=value pairs ("ttl=15") are both
// representable.
func keyValParse(str string, separator byte) (map[string]string, error) {
	ret := make(map[string]string)

	for _, tok := range strings.Split(str, string(separator)) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		if i := strings.IndexByte(tok, '='); i >= 0 {
			ret[tok[:i]] = strings.Trim(tok[i+1:], `"`)
		} else {
			ret[tok] = ""
		}
	}

	return ret, nil
}
