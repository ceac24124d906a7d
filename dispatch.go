package intercepthttp

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/coriolislabs/intercepthttp/internal/helper"
	"github.com/coriolislabs/intercepthttp/internal/normalize"
)

// dispatch is the single entry point every request passes through,
// whether it arrived on the outer listener or looped back from an inner
// MITM server (serveStream). It implements the handle_request ->
// CONNECT/WebSocket/forward branch, exactly once per logical request.
func (p *Proxy) dispatch(w http.ResponseWriter, r *http.Request, clientAddr net.Addr) {
	httpCtx := &HTTPContext{ClientAddr: clientAddr}
	handler := p.httpHandler.Clone()

	result := handler.HandleRequest(httpCtx, r)
	if result.IsShortCircuit() {
		writeResponse(w, result.Response)
		return
	}
	req := result.Request

	switch {
	case req.Method == http.MethodConnect:
		p.handleConnect(w, req, httpCtx, handler)
	case isWebSocketUpgrade(req):
		p.bridgeWebSocket(w, req, httpCtx)
	default:
		checked := helper.NewResponseCheck(w)
		p.forward(checked, req, httpCtx, handler)
		// Asserts the dispatcher contract that every non-hijacking branch
		// writes exactly one response; catches a future forward() change
		// that returns early without reaching writeResponse.
		if rc, ok := checked.(*helper.ResponseCheck); ok && !rc.Wrote {
			w.WriteHeader(http.StatusBadGateway)
		}
	}
}

func (p *Proxy) forward(w http.ResponseWriter, req *http.Request, httpCtx *HTTPContext, handler HTTPHandler) {
	normalize.Request(req)
	req.RequestURI = ""

	res, err := p.client.Do(req)
	if err != nil {
		writeResponse(w, handler.HandleError(httpCtx, &TransportError{Op: "forward", Err: err}))
		return
	}
	defer res.Body.Close()

	writeResponse(w, handler.HandleResponse(httpCtx, res))
}

// writeResponse copies res onto w. A nil Body is treated as empty, the way
// a handler-constructed short-circuit response is expected to work.
func writeResponse(w http.ResponseWriter, res *http.Response) {
	if res == nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	for key, values := range res.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(res.StatusCode)
	if res.Body != nil {
		_, _ = io.Copy(w, res.Body)
		res.Body.Close()
	}
}

func isWebSocketUpgrade(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func loggerFor(req *http.Request, clientAddr net.Addr) *slog.Logger {
	return slog.Default().With(
		"method", req.Method,
		"uri", req.URL.String(),
		"client_addr", clientAddr,
	)
}

func loggerForAuthority(authority string) *slog.Logger {
	return slog.Default().With("authority", authority)
}
