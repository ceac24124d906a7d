package intercepthttp

import (
	"errors"
	"log/slog"
	"strings"
)

// ProtocolError indicates the client sent a request the dispatcher cannot
// act on: a CONNECT with no authority, or a WebSocket upgrade missing its
// required headers. It always results in a 400 response to the client.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "intercepthttp: " + e.Reason }

// TransportError wraps a failure reaching the origin: a dial, a TLS
// handshake, or an outbound client.Do. It is handed to HTTPHandler's
// HandleError so a handler can decide what the client sees.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "intercepthttp: " + e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// shutdownNoisePrefix marks an error produced only because a connection or
// listener was already being torn down when a background task observed it.
const shutdownNoisePrefix = "error shutting down connection"

func isShutdownNoise(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), shutdownNoisePrefix)
}

// benignTransportMsgs are substrings of errors that are an ordinary
// consequence of a peer disconnecting or a deadline firing, not a defect
// worth surfacing at error level.
var benignTransportMsgs = []string{
	"read: connection reset by peer",
	"write: broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"io: read/write on closed pipe",
	"connect: connection refused",
	"connect: connection reset by peer",
	"use of closed network connection",
	"context canceled",
	"operation was canceled",
	"server closed idle connection",
	"broken pipe",
	"deadline exceeded",
}

func isBenignTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errListenerClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range benignTransportMsgs {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// logTransportErr logs err at Debug if it is an ordinary disconnect/timeout,
// and at Error otherwise. Nil errors and shutdown noise are silently
// dropped, matching the "no propagation to the caller" rule for background
// tunnel and bridge tasks: they only ever log.
func logTransportErr(logger *slog.Logger, msg string, err error) {
	if err == nil || isShutdownNoise(err) {
		return
	}
	if isBenignTransport(err) {
		logger.Debug(msg, "error", err)
		return
	}
	logger.Error(msg, "error", err)
}
