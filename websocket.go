package intercepthttp

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coriolislabs/intercepthttp/internal/spawner"
)

// reservedDialerHeaders are set by websocket.Dialer itself; passing any of
// them except Host in the request header causes Dial to fail, and a passed
// Host would override the one Dial derives from the origin URL, so all are
// stripped from whatever the client sent before dialing the origin.
var reservedDialerHeaders = []string{
	"Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version",
	"Sec-Websocket-Extensions", "Host",
}

// bridgeWebSocket performs the WebSocket-specific half of dispatch: dial
// the origin first, and only once that handshake has actually succeeded,
// upgrade the client side and start relaying frames. This ordering means a
// client never sees a successful upgrade for an origin that was never
// actually reachable.
//
// gorilla/websocket's Upgrader always computes and sends its own
// Sec-WebSocket-Accept from the client's Sec-WebSocket-Key (the library
// gives no hook to substitute the origin's raw handshake response, which
// in any case was computed against a different key - the one the proxy
// sent when dialing out). What does carry real, origin-chosen meaning is
// the negotiated subprotocol, so that is the part forwarded into the
// client-side upgrade's response header; see DESIGN.md.
func (p *Proxy) bridgeWebSocket(w http.ResponseWriter, req *http.Request, httpCtx *HTTPContext) {
	logger := loggerFor(req, httpCtx.ClientAddr)

	if req.URL.Host == "" {
		http.Error(w, "WebSocket upgrade missing target host", http.StatusBadRequest)
		return
	}
	if req.Header.Get("Sec-WebSocket-Key") == "" || req.Header.Get("Sec-WebSocket-Version") == "" {
		http.Error(w, "WebSocket upgrade missing required headers", http.StatusBadRequest)
		return
	}

	originURL := *req.URL
	switch req.URL.Scheme {
	case "http":
		originURL.Scheme = "ws"
	case "https":
		originURL.Scheme = "wss"
	default:
		http.Error(w, "cannot bridge WebSocket for unknown scheme", http.StatusBadRequest)
		return
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	if originURL.Scheme == "wss" {
		dialer.TLSClientConfig = p.wsConnector
	}

	originConn, originResp, err := dialer.DialContext(req.Context(), originURL.String(), dialHeaders(req.Header))
	if err != nil {
		logger.Error("websocket dial to origin failed", "error", err)
		http.Error(w, "failed to reach WebSocket origin", http.StatusBadGateway)
		return
	}

	responseHeader := http.Header{}
	if proto := originResp.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", proto)
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	clientConn, err := upgrader.Upgrade(w, req, responseHeader)
	if err != nil {
		logger.Error("failed to upgrade client connection", "error", err)
		originConn.Close()
		return
	}

	spawnCtx := spawner.FromRequest(req, httpCtx.ClientAddr)
	originURIStr := originURL.String()
	clientAddrStr := addrString(httpCtx.ClientAddr)

	spawner.Go(req.Context(), spawnCtx, "websocket-bridge", func() {
		p.pumpWebSocket(spawnCtx, clientConn, originConn, clientAddrStr, originURIStr)
	})
}

// pumpWebSocket runs the two independent frame pumps described in the
// data model: one per direction, each with its own cloned WebSocketHandler
// so neither can observe the other's mutable state. Either direction may
// end first (a half-close, a handler choosing to stop relaying); the other
// keeps running until it too ends, and only then are both sockets closed.
func (p *Proxy) pumpWebSocket(spawnCtx spawner.Context, clientConn, originConn *websocket.Conn, clientAddrStr, originURIStr string) {
	logger := loggerForAuthority(originURIStr)
	done := make(chan struct{}, 2)

	spawner.Go(context.Background(), spawnCtx, "websocket-pump-server-to-client", func() {
		defer func() { done <- struct{}{} }()
		handler := p.wsHandler.Clone()
		ctx := &WebSocketContext{Direction: ServerToClient, Src: originURIStr, Dst: clientAddrStr}
		if err := handler.HandleWebSocket(ctx, originConn, clientConn); err != nil {
			logTransportErr(logger, "server-to-client pump ended", err)
		}
	})
	spawner.Go(context.Background(), spawnCtx, "websocket-pump-client-to-server", func() {
		defer func() { done <- struct{}{} }()
		handler := p.wsHandler.Clone()
		ctx := &WebSocketContext{Direction: ClientToServer, Src: clientAddrStr, Dst: originURIStr}
		if err := handler.HandleWebSocket(ctx, clientConn, originConn); err != nil {
			logTransportErr(logger, "client-to-server pump ended", err)
		}
	})

	<-done
	<-done
	originConn.Close()
	clientConn.Close()
}

func dialHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, key := range reservedDialerHeaders {
		dst.Del(key)
	}
	return dst
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
