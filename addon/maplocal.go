package addon

import (
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/samber/lo"

	intercepthttp "github.com/coriolislabs/intercepthttp"
)

// MapLocalItem maps one request pattern onto a local filesystem path,
// directory or single file, the same shape as the teacher's map-local
// addon's from/to pair.
type MapLocalItem struct {
	// Host, if non-empty, must exactly match the request's URL host.
	Host string
	// PathPrefix, if non-empty, must prefix the request's URL path.
	PathPrefix string
	// To is the local file or directory served in place of the match. A
	// directory serves PathPrefix-stripped request paths beneath it.
	To string
}

func (item MapLocalItem) matches(req *http.Request) bool {
	if item.Host != "" && req.URL.Host != item.Host {
		return false
	}
	return item.PathPrefix == "" || strings.HasPrefix(req.URL.Path, item.PathPrefix)
}

func (item MapLocalItem) resolve(req *http.Request) string {
	stat, err := os.Stat(item.To)
	if err != nil || !stat.IsDir() {
		return item.To
	}
	sub := strings.TrimPrefix(req.URL.Path, item.PathPrefix)
	return path.Join(item.To, sub)
}

// MapLocal is an HTTPHandler that serves matching requests straight from
// the local filesystem instead of forwarding them, grounded on the
// teacher's map-local addon but expressed as a HandleRequest short-circuit
// rather than a Requestheaders hook into an addon chain.
type MapLocal struct {
	intercepthttp.NoopHandler
	Items []MapLocalItem
}

func (ml MapLocal) HandleRequest(_ *intercepthttp.HTTPContext, req *http.Request) intercepthttp.RequestOrResponse {
	item, found := lo.Find(ml.Items, func(item MapLocalItem) bool { return item.matches(req) })
	if !found {
		return intercepthttp.ForwardRequest(req)
	}

	f, err := os.Open(item.resolve(req))
	if err != nil {
		if os.IsNotExist(err) {
			return intercepthttp.ShortCircuit(plainResponse(http.StatusNotFound, nil))
		}
		return intercepthttp.ShortCircuit(plainResponse(http.StatusInternalServerError, nil))
	}
	return intercepthttp.ShortCircuit(plainResponse(http.StatusOK, f))
}

func (ml MapLocal) Clone() intercepthttp.HTTPHandler {
	return MapLocal{Items: append([]MapLocalItem(nil), ml.Items...)}
}

var _ intercepthttp.HTTPHandler = MapLocal{}

func plainResponse(status int, body io.ReadCloser) *http.Response {
	if body == nil {
		body = io.NopCloser(strings.NewReader(""))
	}
	return &http.Response{
		StatusCode: status,
		Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
		Header: http.Header{},
		Body:   body,
	}
}
