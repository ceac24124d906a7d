// Package proxycontext carries per-connection values that the standard
// library's request context doesn't otherwise expose: the address of the
// client that accepted the underlying TCP connection, threaded in via the
// outer http.Server's ConnContext hook so it survives keep-alive. The inner
// MITM loopback server does not set it; it receives the address as an
// explicit argument instead.
package proxycontext

import (
	"context"
	"net"
)

type contextKey string

const clientAddrKey contextKey = "clientAddr"

// WithClientAddr attaches addr to ctx.
func WithClientAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, clientAddrKey, addr)
}

// ClientAddr retrieves the client address attached by WithClientAddr.
func ClientAddr(ctx context.Context) (net.Addr, bool) {
	addr, ok := ctx.Value(clientAddrKey).(net.Addr)
	return addr, ok
}
