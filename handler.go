package intercepthttp

import (
	"net"
	"net/http"
)

// HTTPContext carries the peer address of the originating client. It is
// immutable for the lifetime of a logical request and is passed to every
// HTTPHandler call for that request.
type HTTPContext struct {
	ClientAddr net.Addr
}

// RequestOrResponse is the result of HandleRequest: either a (possibly
// modified) request to forward, or a response to return immediately
// without ever touching the network. Exactly one of Request/Response is
// set; construct with ForwardRequest or ShortCircuit.
type RequestOrResponse struct {
	Request  *http.Request
	Response *http.Response
}

// ForwardRequest wraps req as the request to forward.
func ForwardRequest(req *http.Request) RequestOrResponse {
	return RequestOrResponse{Request: req}
}

// ShortCircuit wraps res as the response to return without forwarding.
func ShortCircuit(res *http.Response) RequestOrResponse {
	return RequestOrResponse{Response: res}
}

// IsShortCircuit reports whether this result short-circuits the forward.
func (r RequestOrResponse) IsShortCircuit() bool {
	return r.Response != nil
}

// WebSocketDirection tags which way a WebSocket frame pump is flowing.
type WebSocketDirection int

const (
	// ClientToServer tags the pump reading from the client-side socket
	// and writing to the server-side (origin) socket.
	ClientToServer WebSocketDirection = iota
	// ServerToClient tags the pump reading from the origin and writing
	// to the client.
	ServerToClient
)

func (d WebSocketDirection) String() string {
	if d == ServerToClient {
		return "server-to-client"
	}
	return "client-to-server"
}

// WebSocketContext is passed once per direction to WebSocketHandler.
// Src/Dst are endpoint identifiers: a peer address on the client side, an
// authority URI on the origin side.
type WebSocketContext struct {
	Direction WebSocketDirection
	Src       string
	Dst       string
}

// MessageSource is anything a WebSocket frame pump can read frames from.
// *websocket.Conn satisfies this directly.
type MessageSource interface {
	ReadMessage() (messageType int, data []byte, err error)
}

// MessageSink is anything a WebSocket frame pump can write frames to.
// *websocket.Conn satisfies this directly.
type MessageSink interface {
	WriteMessage(messageType int, data []byte) error
}

// HTTPHandler is the set of operations a user supplies to observe and
// rewrite HTTP traffic passing through the proxy. Implementations must be
// safe to use from multiple goroutines concurrently via Clone: no
// ordering between handler clones is assumed.
type HTTPHandler interface {
	// HandleRequest may return a replacement request to forward or a
	// response that short-circuits the forward.
	HandleRequest(ctx *HTTPContext, req *http.Request) RequestOrResponse

	// HandleResponse may transform the response on its way back to the
	// client.
	HandleResponse(ctx *HTTPContext, res *http.Response) *http.Response

	// HandleError converts an outbound-transport failure into a
	// client-facing response.
	HandleError(ctx *HTTPContext, err error) *http.Response

	// ShouldIntercept is consulted once per CONNECT request; if it
	// returns false the connection is tunneled blind.
	ShouldIntercept(ctx *HTTPContext, connectReq *http.Request) bool

	// Clone returns a fresh handler the proxy can hand to one dispatched
	// event without risking shared mutable state with another.
	Clone() HTTPHandler
}

// WebSocketHandler observes and rewrites WebSocket traffic. HandleWebSocket
// is invoked once per direction per bridged connection: it must consume
// src until the stream ends or sink returns an error, forwarding frames
// (possibly transformed, dropped, or injected) to sink in the order they
// arrive.
type WebSocketHandler interface {
	HandleWebSocket(ctx *WebSocketContext, src MessageSource, sink MessageSink) error

	// Clone returns a fresh handler for one pump direction.
	Clone() WebSocketHandler
}

// NoopHandler is a zero-value HTTPHandler that forwards everything
// unchanged: requests pass through, responses pass through, transport
// errors become a best-effort 502, and every CONNECT is intercepted. It has
// no WebSocket methods; NoopWebSocketHandler is the WebSocket-side
// counterpart that relays every frame verbatim. Embed it to
// get default no-op behavior for the methods a handler doesn't care
// about, the way the teacher's BaseAddon embeds into concrete addons.
type NoopHandler struct{}

func (NoopHandler) HandleRequest(_ *HTTPContext, req *http.Request) RequestOrResponse {
	return ForwardRequest(req)
}

func (NoopHandler) HandleResponse(_ *HTTPContext, res *http.Response) *http.Response {
	return res
}

func (NoopHandler) HandleError(_ *HTTPContext, err error) *http.Response {
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Status:     http.StatusText(http.StatusBadGateway),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       http.NoBody,
	}
}

func (NoopHandler) ShouldIntercept(_ *HTTPContext, _ *http.Request) bool {
	return true
}

func (NoopHandler) Clone() HTTPHandler { return NoopHandler{} }

var _ HTTPHandler = NoopHandler{}

// NoopWebSocketHandler is a zero-value WebSocketHandler that relays every
// frame verbatim in both directions, the way a transparent bridge would
// before any handler-side transformation is applied.
type NoopWebSocketHandler struct{}

func (NoopWebSocketHandler) HandleWebSocket(_ *WebSocketContext, src MessageSource, sink MessageSink) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := sink.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}

func (NoopWebSocketHandler) Clone() WebSocketHandler { return NoopWebSocketHandler{} }

var _ WebSocketHandler = NoopWebSocketHandler{}
