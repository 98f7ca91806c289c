// Package conn wraps a net.Conn (or any io.ReadWriter) with buffered RTSP
// request/response/interleaved-frame framing.
package conn

import (
	"bufio"
	"io"

	"github.com/kelpstream/rtsp-reflector/pkg/base"
)

const readBufferSize = 4096

// Conn reads and writes RTSP requests, responses and interleaved frames
// over an underlying byte stream.
type Conn struct {
	bw  *bufio.Writer
	br  *bufio.Reader
	req base.Request
	res base.Response
	fr  base.InterleavedFrame
}

// New allocates a Conn.
func New(rw io.ReadWriter) *Conn {
	return &Conn{
		bw: bufio.NewWriter(rw),
		br: bufio.NewReaderSize(rw, readBufferSize),
	}
}

// ReadRequest reads a Request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	err := c.req.Read(c.br)
	return &c.req, err
}

// ReadInterleavedFrame reads an InterleavedFrame.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	err := c.fr.Unmarshal(c.br)
	return &c.fr, err
}

// NextIsInterleavedFrame peeks the next byte to decide whether the next
// unit on the wire is an interleaved frame or a RTSP message.
func (c *Conn) NextIsInterleavedFrame() (bool, error) {
	b, err := c.br.Peek(1)
	if err != nil {
		return false, err
	}
	return b[0] == base.InterleavedFrameMagicByte, nil
}

// ReadInterleavedFrameOrRequest reads whichever of the two is next on the wire.
func (c *Conn) ReadInterleavedFrameOrRequest() (interface{}, error) {
	isFrame, err := c.NextIsInterleavedFrame()
	if err != nil {
		return nil, err
	}
	if isFrame {
		return c.ReadInterleavedFrame()
	}
	return c.ReadRequest()
}

// WriteResponse writes a Response.
func (c *Conn) WriteResponse(res *base.Response) error {
	return res.Write(c.bw)
}

// WriteInterleavedFrame writes an InterleavedFrame using buf as scratch space.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}
	if _, err := c.bw.Write(buf[:n]); err != nil {
		return err
	}
	return c.bw.Flush()
}
