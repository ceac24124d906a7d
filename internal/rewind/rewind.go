// Package rewind implements the stream adapter that lets the CONNECT
// demultiplexer peek bytes off a tunneled connection and hand them back to
// whichever consumer (TLS acceptor, inner HTTP server, blind tunnel copy)
// takes the stream next.
package rewind

import (
	"net"
)

// Conn wraps an underlying net.Conn together with a buffer of bytes that
// were already read from it. Reads drain the buffer first, then fall
// through to the underlying connection. Writes and Close pass straight
// through. A Conn is single-owner: once handed to a TLS acceptor or HTTP
// server, nothing else should read from it concurrently.
type Conn struct {
	net.Conn
	buf []byte
}

// New wraps c, re-presenting buffered bytes that were already consumed
// from it so the next reader sees them as if they had never been read.
func New(c net.Conn, buffered []byte) *Conn {
	return &Conn{Conn: c, buf: buffered}
}

// Read drains the pre-read buffer before falling through to the
// underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
