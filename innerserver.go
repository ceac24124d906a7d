package intercepthttp

import (
	"errors"
	"net"
	"net/http"
)

// errListenerClosed is returned by singleConnListener.Accept once the
// listener has been closed, so http.Server.Serve treats it as a permanent,
// expected shutdown rather than retrying.
var errListenerClosed = errors.New("intercepthttp: inner listener closed")

// singleConnListener adapts one already-accepted net.Conn (the plaintext
// stream recovered from a CONNECT tunnel, whether decrypted by tlsMITM or
// passed straight through) into the net.Listener shape http.Server.Serve
// requires, so the standard library's own HTTP/1.x parser and keep-alive
// handling can be reused instead of reimplemented.
type singleConnListener struct {
	connCh chan net.Conn
	closed chan struct{}
	addr   net.Addr
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	l := &singleConnListener{
		connCh: make(chan net.Conn, 1),
		closed: make(chan struct{}),
		addr:   conn.LocalAddr(),
	}
	l.connCh <- conn
	return l
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closed:
		return nil, errListenerClosed
	}
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.addr }

// serveStream runs an HTTP/1.x server over a single decrypted connection
// recovered from a CONNECT tunnel, rewriting every request's URI to carry
// scheme and authority before looping it back into dispatch. The server
// exits once the one connection it serves is closed.
func (p *Proxy) serveStream(stream net.Conn, scheme, authority string, clientAddr net.Addr) {
	logger := loggerForAuthority(authority)
	ln := newSingleConnListener(stream)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rewriteInnerURI(r, scheme, authority)
			p.dispatch(w, r, clientAddr)
		}),
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				ln.Close()
			}
		},
	}

	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, errListenerClosed) && !errors.Is(err, http.ErrServerClosed) {
		logTransportErr(logger, "inner HTTP server ended", err)
	}
}

// rewriteInnerURI fills in the scheme and authority a request arriving on
// a decrypted MITM stream omits, since such a request's request-line only
// ever carries a path (HTTP/1.0 and HTTP/1.1 clients address the origin
// implicitly via the now-established tunnel).
func rewriteInnerURI(r *http.Request, scheme, authority string) {
	r.URL.Scheme = scheme
	r.URL.Host = authority
	if r.Host == "" {
		r.Host = authority
	}
}
