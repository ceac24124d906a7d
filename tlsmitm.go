package intercepthttp

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/coriolislabs/intercepthttp/cert"
)

// tlsMITM terminates the client's TLS handshake using a certificate minted
// by the proxy's CA for authority, then hands the decrypted stream to
// serveStream. A handshake or certificate-minting failure only aborts this
// one tunnel; the accepting goroutine and every other connection are
// unaffected.
func (p *Proxy) tlsMITM(rc net.Conn, authority string, clientAddr net.Addr) {
	logger := loggerForAuthority(authority)

	tlsConfig, err := p.ca.GenServerConfig(context.Background(), cert.Authority(authority))
	if err != nil {
		logger.Error("failed to generate server TLS config", "error", err)
		rc.Close()
		return
	}

	tlsConn := tls.Server(rc, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		logTransportErr(logger, "client TLS handshake failed", err)
		tlsConn.Close()
		return
	}

	p.serveStream(tlsConn, "https", authority, clientAddr)
}
