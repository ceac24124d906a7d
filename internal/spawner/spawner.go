// Package spawner launches the detached background tasks that outlive a
// single dispatcher call: CONNECT tunnels, TLS MITM loops, and WebSocket
// frame pumps. It is the only place such goroutines are started, so every
// one of them gets a structured logger carrying method/URI/version/peer
// context and a panic recovery that turns a crash into a log line instead
// of taking down the accepting goroutine.
package spawner

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	uuid "github.com/satori/go.uuid"
)

// Context identifies the request that caused a background task to be
// spawned, so every log line the task emits can be correlated back to it.
// ID mirrors the teacher's conn.ClientConn.ID / types.Flow.ID correlation
// identifiers, minted once per spawn rather than reused across requests.
type Context struct {
	ID         uuid.UUID
	Method     string
	URI        string
	Proto      string
	ClientAddr net.Addr
}

// FromRequest builds a Context from the inbound request that triggered a
// CONNECT tunnel or WebSocket bridge.
func FromRequest(req *http.Request, clientAddr net.Addr) Context {
	return Context{
		ID:         uuid.NewV4(),
		Method:     req.Method,
		URI:        req.URL.String(),
		Proto:      req.Proto,
		ClientAddr: clientAddr,
	}
}

// Logger returns a slog.Logger pre-populated with the spawn context.
func (c Context) Logger() *slog.Logger {
	return slog.Default().With(
		"spawn_id", c.ID.String(),
		"method", c.Method,
		"uri", c.URI,
		"proto", c.Proto,
		"client_addr", c.ClientAddr,
	)
}

// Go launches fn in its own goroutine. A panic inside fn is recovered and
// logged with the spawn context rather than propagated; the caller never
// observes fn's completion, matching the "detached task" semantics of the
// dispatcher's CONNECT and WebSocket paths.
func Go(_ context.Context, ctx Context, name string, fn func()) {
	logger := ctx.Logger().With("task", name)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("recovered from panic in spawned task", "panic", r)
			}
		}()
		fn()
	}()
}
