// Package intercepthttp is an intercepting HTTP/HTTPS/WebSocket forward
// proxy library. It terminates TLS with certificates minted on the fly by
// a caller-supplied cert.CA, decodes the plaintext traffic tunneled
// through CONNECT, and exposes every request, response, and WebSocket
// frame to caller-supplied HTTPHandler/WebSocketHandler implementations
// before forwarding it on.
package intercepthttp

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"go.uber.org/atomic"

	"github.com/coriolislabs/intercepthttp/cert"
	"github.com/coriolislabs/intercepthttp/internal/proxycontext"
)

// Config holds the knobs that shape how a Proxy listens and authenticates
// its clients. Everything that shapes traffic interception itself
// (the CA, outbound client, handlers) is passed directly to NewProxy,
// mirroring the teacher's Args-struct-for-wiring / Config-struct-for-policy
// split.
type Config struct {
	// Addr is the address the proxy listens on, e.g. ":8080".
	Addr string

	// AuthProxy, if set, is consulted before any other processing for
	// every inbound request. Returning false rejects the request with a
	// 407 Proxy Authentication Required.
	AuthProxy func(req *http.Request) bool
}

// Proxy is a running (or not-yet-started) MITM proxy instance. It owns a
// shared CA handle, an outbound HTTP client, and the two handler values a
// caller clones per dispatched event; all of this is cheap to share across
// goroutines since HTTPHandler/WebSocketHandler implementations are
// required to be independently cloneable.
type Proxy struct {
	cfg Config

	ca          cert.CA
	client      *http.Client
	httpHandler HTTPHandler
	wsHandler   WebSocketHandler
	wsConnector *tls.Config

	server     *http.Server
	connStats  atomic.Int64
}

// ActiveRequests reports the number of requests currently being handled by
// the outer listener; requests served inside an intercepted CONNECT tunnel
// are not counted. It is a lock-free counter exposed for tests and metrics
// rather than a mutex, mirroring the teacher's per-connection FlowCount.
func (p *Proxy) ActiveRequests() int64 {
	return p.connStats.Load()
}

// NewProxy constructs a Proxy. ca mints server certificates for
// TLS-intercepted CONNECT tunnels; client performs outbound, non-CONNECT
// forwarding; httpHandler and wsHandler are cloned once per dispatched
// request/bridge. wsConnector may be nil, in which case the default TLS
// configuration is used when dialing wss:// origins.
func NewProxy(cfg Config, ca cert.CA, client *http.Client, httpHandler HTTPHandler, wsHandler WebSocketHandler, wsConnector *tls.Config) *Proxy {
	p := &Proxy{
		cfg:         cfg,
		ca:          ca,
		client:      client,
		httpHandler: httpHandler,
		wsHandler:   wsHandler,
		wsConnector: wsConnector,
	}
	p.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: http.HandlerFunc(p.serveOuter),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			return proxycontext.WithClientAddr(ctx, c.RemoteAddr())
		},
	}
	return p
}

// Start listens on Config.Addr and serves until Shutdown or Close is
// called. It blocks, the way the teacher's Attacker.Start does.
func (p *Proxy) Start() error {
	err := p.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Serve is like Start but accepts on an already-opened listener, for
// callers that need control over socket options or port 0 resolution.
func (p *Proxy) Serve(ln net.Listener) error {
	err := p.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new connections and waits for
// in-flight ones to finish, honoring ctx's deadline.
func (p *Proxy) Shutdown(ctx context.Context) error {
	return p.server.Shutdown(ctx)
}

// Close stops the proxy immediately, closing all active connections.
func (p *Proxy) Close() error {
	return p.server.Close()
}

func (p *Proxy) serveOuter(w http.ResponseWriter, r *http.Request) {
	p.connStats.Inc()
	defer p.connStats.Dec()

	if p.cfg.AuthProxy != nil && !p.cfg.AuthProxy(r) {
		w.Header().Set("Proxy-Authenticate", `Basic realm="intercepthttp"`)
		http.Error(w, "Proxy Authentication Required", http.StatusProxyAuthRequired)
		return
	}

	clientAddr, _ := proxycontext.ClientAddr(r.Context())
	if r.URL.Scheme == "" {
		r.URL.Scheme = "http"
	}
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}
	p.dispatch(w, r, clientAddr)
}
