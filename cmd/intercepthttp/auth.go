package main

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// basicAuth validates Proxy-Authorization against a fixed set of
// credentials, grounded on the teacher's DefaultBasicAuth.
type basicAuth struct {
	creds map[string]string
}

// newBasicAuth parses a "user:pass|user2:pass2" credential list.
func newBasicAuth(spec string) *basicAuth {
	auth := &basicAuth{creds: make(map[string]string)}
	for _, entry := range strings.Split(spec, "|") {
		name, pass, ok := strings.Cut(entry, ":")
		if !ok {
			slog.Error("invalid proxy auth format", "value", entry)
			os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
		}
		auth.creds[name] = pass
	}
	return auth
}

func (a *basicAuth) check(req *http.Request) bool {
	header := req.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		slog.Warn("failed to decode Proxy-Authorization header", "error", err)
		return false
	}
	name, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	want, found := a.creds[name]
	return found && want == pass
}
