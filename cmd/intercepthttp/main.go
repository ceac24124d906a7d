// Command intercepthttp runs a standalone intercepting HTTP/HTTPS/WebSocket
// forward proxy, wiring the library's HTTPHandler/WebSocketHandler
// contracts to a small, composable set of addons selected from the command
// line.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"

	"github.com/tidwall/match"
	"golang.org/x/net/http2"

	intercepthttp "github.com/coriolislabs/intercepthttp"
	"github.com/coriolislabs/intercepthttp/addon"
	"github.com/coriolislabs/intercepthttp/cert/selfsignca"
	"github.com/coriolislabs/intercepthttp/internal/helper"
	"github.com/coriolislabs/intercepthttp/version"
)

func main() {
	cfg := loadConfig()

	if cfg.version {
		fmt.Println("intercepthttp: " + version.String())
		return
	}

	logOut := os.Stdout
	if cfg.logFile != "" {
		f, err := os.OpenFile(cfg.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.debug,
	})))

	ca, err := selfsignca.New(cfg.certPath)
	if err != nil {
		slog.Error("failed to create CA", "error", err)
		os.Exit(1)
	}

	client, err := buildOutboundClient(cfg)
	if err != nil {
		slog.Error("failed to build outbound client", "error", err)
		os.Exit(1)
	}

	httpHandler := buildHandler(cfg)

	proxyCfg := intercepthttp.Config{Addr: cfg.addr}
	if cfg.proxyAuth != "" {
		slog.Info("proxy authentication enabled")
		proxyCfg.AuthProxy = newBasicAuth(cfg.proxyAuth).check
	}

	p := intercepthttp.NewProxy(proxyCfg, ca, client, httpHandler, intercepthttp.NoopWebSocketHandler{}, nil)

	slog.Info("intercepthttp started", "addr", cfg.addr)
	if err := p.Start(); err != nil {
		slog.Error("proxy exited", "error", err)
		os.Exit(1)
	}
}

// buildHandler composes the configured addons into a single HTTPHandler,
// layering interception rules, local-file mapping, and content decoding the
// way an operator would stack them in order.
func buildHandler(cfg *config) intercepthttp.HTTPHandler {
	var skip []string
	skip = append(skip, cfg.ignoreHost...)
	if len(cfg.allowHost) > 0 {
		// allow-host is an allow-list: skip everything, then un-skip below
		// isn't expressible as glob negation, so fold it into ShouldIntercept
		// via a dedicated handler instead of InterceptRules' skip-only shape.
		return allowListHandler{allow: cfg.allowHost, next: buildStack(cfg, nil)}
	}
	return buildStack(cfg, skip)
}

func buildStack(cfg *config, skip []string) intercepthttp.HTTPHandler {
	stack := stackedHandler{
		rules:   addon.InterceptRules{Skip: skip},
		decoder: addon.Decoder{},
	}
	if cfg.mapLocal != "" {
		var items []addon.MapLocalItem
		if err := helper.NewStructFromFile(cfg.mapLocal, &items); err != nil {
			slog.Warn("load map-local error", "error", err)
		} else {
			stack.mapLocal = addon.MapLocal{Items: items}
		}
	}
	return stack
}

// stackedHandler runs InterceptRules' ShouldIntercept, MapLocal's
// HandleRequest (when configured), and Decoder's HandleResponse in
// sequence - manual composition standing in for the addon chain the
// teacher used a registered slice for.
type stackedHandler struct {
	intercepthttp.NoopHandler
	rules    addon.InterceptRules
	mapLocal addon.MapLocal
	decoder  addon.Decoder
}

func (h stackedHandler) ShouldIntercept(ctx *intercepthttp.HTTPContext, connectReq *http.Request) bool {
	return h.rules.ShouldIntercept(ctx, connectReq)
}

func (h stackedHandler) HandleRequest(ctx *intercepthttp.HTTPContext, req *http.Request) intercepthttp.RequestOrResponse {
	if h.mapLocal.Items != nil {
		return h.mapLocal.HandleRequest(ctx, req)
	}
	return intercepthttp.ForwardRequest(req)
}

func (h stackedHandler) HandleResponse(ctx *intercepthttp.HTTPContext, res *http.Response) *http.Response {
	return h.decoder.HandleResponse(ctx, res)
}

func (h stackedHandler) Clone() intercepthttp.HTTPHandler {
	return stackedHandler{
		rules:    h.rules.Clone().(addon.InterceptRules),
		mapLocal: h.mapLocal.Clone().(addon.MapLocal),
		decoder:  addon.Decoder{},
	}
}

var _ intercepthttp.HTTPHandler = stackedHandler{}

// allowListHandler intercepts only authorities matching one of allow's glob
// patterns, delegating everything else to next.
type allowListHandler struct {
	allow []string
	next  intercepthttp.HTTPHandler
}

func (h allowListHandler) ShouldIntercept(_ *intercepthttp.HTTPContext, connectReq *http.Request) bool {
	authority := connectReq.URL.Host
	if authority == "" {
		authority = connectReq.Host
	}
	for _, pattern := range h.allow {
		if match.Match(authority, pattern) {
			return true
		}
	}
	return false
}

func (h allowListHandler) HandleRequest(ctx *intercepthttp.HTTPContext, req *http.Request) intercepthttp.RequestOrResponse {
	return h.next.HandleRequest(ctx, req)
}

func (h allowListHandler) HandleResponse(ctx *intercepthttp.HTTPContext, res *http.Response) *http.Response {
	return h.next.HandleResponse(ctx, res)
}

func (h allowListHandler) HandleError(ctx *intercepthttp.HTTPContext, err error) *http.Response {
	return h.next.HandleError(ctx, err)
}

func (h allowListHandler) Clone() intercepthttp.HTTPHandler {
	return allowListHandler{allow: append([]string(nil), h.allow...), next: h.next.Clone()}
}

var _ intercepthttp.HTTPHandler = allowListHandler{}

// buildOutboundClient constructs the *http.Client passed to NewProxy,
// optionally chaining outbound connections through an upstream proxy and
// optionally forcing HTTP/2, mirroring the teacher's
// DefaultClientFactory.CreateMainClient ForceAttemptHTTP2 knob.
func buildOutboundClient(cfg *config) (*http.Client, error) {
	transport := &http.Transport{
		ForceAttemptHTTP2: true,
	}

	if cfg.upstream != "" {
		upstreamURL, err := url.Parse(cfg.upstream)
		if err != nil {
			return nil, err
		}
		// -upstream may omit the port (e.g. socks5://127.0.0.1); default
		// it from the scheme the same way a missing origin port would be.
		upstreamURL.Host = helper.CanonicalAddr(upstreamURL)
		transport.DialContext = func(ctx context.Context, _, address string) (net.Conn, error) {
			return helper.GetProxyConn(ctx, upstreamURL, address, false)
		}
	}

	if cfg.forceHTTP2 {
		h2Transport := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
				if transport.DialContext != nil {
					return transport.DialContext(ctx, network, addr)
				}
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		}
		return &http.Client{Transport: h2Transport}, nil
	}

	return &http.Client{Transport: transport}, nil
}
