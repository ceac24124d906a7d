package addon

import (
	"net/http"

	"github.com/samber/lo"
	"github.com/tidwall/match"

	intercepthttp "github.com/coriolislabs/intercepthttp"
)

// InterceptRules is an HTTPHandler whose ShouldIntercept is driven by a
// list of glob patterns matched against "host" or "host:port" (whichever
// the CONNECT authority carries). A CONNECT target matching any Skip
// pattern is tunneled blind; everything else is intercepted.
type InterceptRules struct {
	intercepthttp.NoopHandler
	Skip []string
}

func (r InterceptRules) ShouldIntercept(_ *intercepthttp.HTTPContext, connectReq *http.Request) bool {
	authority := connectReq.URL.Host
	if authority == "" {
		authority = connectReq.Host
	}
	return !lo.SomeBy(r.Skip, func(pattern string) bool {
		return match.Match(authority, pattern)
	})
}

func (r InterceptRules) Clone() intercepthttp.HTTPHandler {
	return InterceptRules{Skip: append([]string(nil), r.Skip...)}
}

var _ intercepthttp.HTTPHandler = InterceptRules{}
