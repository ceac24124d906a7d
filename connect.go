package intercepthttp

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/coriolislabs/intercepthttp/internal/helper"
	"github.com/coriolislabs/intercepthttp/internal/rewind"
	"github.com/coriolislabs/intercepthttp/internal/spawner"
)

// handleConnect answers a CONNECT request's tunnel and, once the pipe is
// established, hands the raw socket to demuxConnect in a detached task so
// the accepting goroutine is free to serve the next request.
func (p *Proxy) handleConnect(w http.ResponseWriter, req *http.Request, httpCtx *HTTPContext, handler HTTPHandler) {
	authority := req.URL.Host
	if authority == "" {
		authority = req.Host
	}
	if authority == "" {
		http.Error(w, "CONNECT request missing authority", http.StatusBadRequest)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxying not supported on this connection", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to establish tunnel", http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		return
	}

	spawnCtx := spawner.FromRequest(req, httpCtx.ClientAddr)
	spawner.Go(req.Context(), spawnCtx, "connect-tunnel", func() {
		p.demuxConnect(clientConn, authority, req, httpCtx, handler, spawnCtx.Logger())
	})
}

// demuxConnect decides, from the first bytes the client writes after the
// 200 Connection Established reply, whether the tunneled traffic is
// plaintext HTTP, a TLS client hello, or something this proxy cannot
// interpret. A handler that declines interception always gets a blind
// tunnel, regardless of what the prefix looks like.
func (p *Proxy) demuxConnect(clientConn net.Conn, authority string, connectReq *http.Request, httpCtx *HTTPContext, handler HTTPHandler, logger *slog.Logger) {
	buf := make([]byte, 4)
	n, err := clientConn.Read(buf)
	if err != nil {
		logTransportErr(logger, "failed to read CONNECT prefix", err)
		clientConn.Close()
		return
	}
	rc := rewind.New(clientConn, append([]byte(nil), buf[:n]...))

	if !handler.ShouldIntercept(httpCtx, connectReq) {
		p.blindTunnel(rc, authority, logger)
		return
	}

	switch {
	case n >= 4 && bytes.Equal(buf[:4], []byte("GET ")):
		p.serveStream(rc, "http", authority, httpCtx.ClientAddr)
	case n >= 3 && helper.IsTLS(buf[:n]):
		p.tlsMITM(rc, authority, httpCtx.ClientAddr)
	default:
		logger.Warn("unrecognized CONNECT prefix, tunneling blind", "prefix", fmt.Sprintf("%x", buf[:n]))
		p.blindTunnel(rc, authority, logger)
	}
}

// blindTunnel copies bytes verbatim between the client and the origin in
// both directions without ever parsing them, used both for
// handler-declined interception and for prefixes this proxy can't MITM.
func (p *Proxy) blindTunnel(client net.Conn, authority string, logger *slog.Logger) {
	logger = logger.With("authority", authority)
	defer client.Close()

	server, err := net.Dial("tcp", authority)
	if err != nil {
		logger.Error("failed to dial blind tunnel origin", "error", err)
		return
	}
	defer server.Close()

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(server, client)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(client, server)
		errc <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			logTransportErr(logger, "blind tunnel copy ended", err)
		}
	}
}
