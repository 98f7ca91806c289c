package base

import (
	"bufio"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	headerMaxEntryCount  = 255
	headerMaxKeyLength   = 512
	headerMaxValueLength = 2048
)

func headerKeyNormalize(in string) string {
	switch strings.ToLower(in) {
	case "rtp-info":
		return "RTP-Info"

	case "www-authenticate":
		return "WWW-Authenticate"

	case "cseq":
		return "CSeq"

	case "x-sessioncookie":
		return "X-SessionCookie"

	case "x-dynamic-rate":
		return "X-Dynamic-Rate"
	}
	return http.CanonicalHeaderKey(in)
}

// HeaderValue is a header value: a RTSP header may be repeated, so each
// header key maps to a slice of raw values.
type HeaderValue []string

// Header is the map of header values of a Request or Response.
type Header map[string]HeaderValue

func (h *Header) read(rb *bufio.Reader) error {
	*h = make(Header)
	count := 0

	for {
		byt, err := rb.ReadByte()
		if err != nil {
			return err
		}

		if byt == '\r' {
			if err := readByteEqual(rb, '\n'); err != nil {
				return err
			}
			break
		}

		if count >= headerMaxEntryCount {
			return fmt.Errorf("headers count exceeds %d", headerMaxEntryCount)
		}

		key := string([]byte{byt})
		byts, err := readBytesLimited(rb, ':', headerMaxKeyLength-1)
		if err != nil {
			return fmt.Errorf("header value is missing")
		}
		key += string(byts[:len(byts)-1])
		key = headerKeyNormalize(key)

		// RFC 2616: field value may be preceded by any amount of spaces.
		for {
			byt, err = rb.ReadByte()
			if err != nil {
				return err
			}
			if byt != ' ' {
				break
			}
		}
		rb.UnreadByte() //nolint:errcheck

		byts, err = readBytesLimited(rb, '\r', headerMaxValueLength)
		if err != nil {
			return err
		}
		val := string(byts[:len(byts)-1])

		if err := readByteEqual(rb, '\n'); err != nil {
			return err
		}

		(*h)[key] = append((*h)[key], val)
		count++
	}

	return nil
}

func (h Header) write(wb *bufio.Writer) error {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, val := range h[key] {
			if _, err := wb.Write([]byte(key + ": " + val + "\r\n")); err != nil {
				return err
			}
		}
	}

	_, err := wb.Write([]byte("\r\n"))
	return err
}

// Get returns the first value of a header key, and whether it is present.
func (h Header) Get(key string) (string, bool) {
	vals, ok := h[headerKeyNormalize(key)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Set replaces a header key with a single value.
func (h Header) Set(key, val string) {
	h[headerKeyNormalize(key)] = HeaderValue{val}
}
