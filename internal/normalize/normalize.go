// Package normalize canonicalizes a request before it is handed to the
// outbound HTTP client, the way the original proxy's normalize_request
// step does: strip hop-dependent headers, coalesce multiple Cookie
// headers, and force HTTP/1.1 framing since the outbound leg is always
// HTTP/1.1.
package normalize

import (
	"net/http"
	"strings"
)

// Request canonicalizes req in place and returns it for chaining.
//
// Operations, in order:
//  1. Remove the Host header, both the header entry and req.Host; the
//     outbound client reconstructs it from the URI authority.
//  2. If multiple Cookie headers are present, join their values with
//     "; " in header-entry iteration order and replace them with a
//     single Cookie header.
//  3. Force the protocol version to HTTP/1.1.
//
// HTTP/2 allows multiple Cookie fields; HTTP/1.x does not, and the
// outbound leg here is always HTTP/1.1.
func Request(req *http.Request) *http.Request {
	req.Header.Del("Host")
	req.Host = ""

	if cookies := req.Header.Values("Cookie"); len(cookies) > 1 {
		req.Header.Set("Cookie", strings.Join(cookies, "; "))
	}

	req.Proto = "HTTP/1.1"
	req.ProtoMajor = 1
	req.ProtoMinor = 1

	return req
}
