package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

// Session is a Session header.
type Session struct {
	Session string
	Timeout *uint
}

// Read decodes a Session header.
func (h *Session) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.Split(v[0], ";")
	h.Session = parts[0]

	for _, kv := range parts[1:] {
		kv = strings.TrimLeft(kv, " ")
		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) != 2 {
			return fmt.Errorf("unable to parse key-value (%v)", kv)
		}

		if tmp[0] == "timeout" {
			iv, err := strconv.ParseUint(tmp[1], 10, 64)
			if err != nil {
				return err
			}
			uiv := uint(iv)
			h.Timeout = &uiv
		}
	}

	return nil
}

// Write encodes a Session header.
func (h Session) Write() base.HeaderValue {
	ret := h.Session
	if h.Timeout != nil {
		ret += ";timeout=" + strconv.FormatUint(uint64(*h.Timeout), 10)
	}
	return base.HeaderValue{ret}
}
