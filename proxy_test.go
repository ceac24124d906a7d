package intercepthttp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coriolislabs/intercepthttp/cert/selfsignca"
)

func handleError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func testSendRequest(t *testing.T, endpoint string, client *http.Client, bodyWant string) {
	t.Helper()
	req, err := http.NewRequest("GET", endpoint, nil)
	handleError(t, err)
	resp, err := client.Do(req)
	handleError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	handleError(t, err)
	if string(body) != bodyWant {
		t.Fatalf("expected %s, but got %s", bodyWant, body)
	}
}

type testProxyHelper struct {
	server    *http.Server
	proxyAddr string

	ln            net.Listener
	tlsPlainLn    net.Listener
	tlsLn         net.Listener
	httpEndpoint  string
	httpsEndpoint string
	proxy         *Proxy

	getProxyClient func() *http.Client
}

func (hlp *testProxyHelper) init(t *testing.T, handler HTTPHandler) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	hlp.server.Handler = mux

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	hlp.ln = ln

	tlsPlainLn, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	hlp.tlsPlainLn = tlsPlainLn

	ca, err := selfsignca.NewMemory()
	handleError(t, err)
	tlsCert, err := ca.GetCert("localhost")
	handleError(t, err)
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{*tlsCert}}
	hlp.server.TLSConfig = tlsConfig
	hlp.tlsLn = tls.NewListener(tlsPlainLn, tlsConfig)

	httpEndpoint := "http://" + ln.Addr().String() + "/"
	httpsPort := tlsPlainLn.Addr().(*net.TCPAddr).Port
	httpsEndpoint := "https://localhost:" + strconv.Itoa(httpsPort) + "/"
	hlp.httpEndpoint = httpEndpoint
	hlp.httpsEndpoint = httpsEndpoint

	outbound := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	proxyCA, err := selfsignca.NewMemory()
	handleError(t, err)

	hlp.proxy = NewProxy(Config{Addr: hlp.proxyAddr}, proxyCA, outbound, handler, NoopWebSocketHandler{}, nil)

	hlp.getProxyClient = func() *http.Client {
		return &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				Proxy: func(r *http.Request) (*url.URL, error) {
					return url.Parse("http://127.0.0.1" + hlp.proxyAddr)
				},
			},
		}
	}
}

// interceptHandler short-circuits a couple of well-known paths, the way
// the teacher's interceptAddon did for its addon-chain equivalent test.
type interceptHandler struct{ NoopHandler }

func (interceptHandler) HandleRequest(_ *HTTPContext, req *http.Request) RequestOrResponse {
	if req.URL.Path == "/intercept-request" {
		return ShortCircuit(&http.Response{
			StatusCode: 200,
			Proto:      "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1,
			Header: http.Header{}, Body: io.NopCloser(strings.NewReader("intercept-request")),
		})
	}
	return ForwardRequest(req)
}

func (interceptHandler) Clone() HTTPHandler { return interceptHandler{} }

func TestProxyForwarding(t *testing.T) {
	helper := &testProxyHelper{server: &http.Server{}, proxyAddr: "127.0.0.1:0"}
	helper.init(t, interceptHandler{})
	defer helper.ln.Close()
	defer helper.tlsPlainLn.Close()
	go func() { _ = helper.server.Serve(helper.ln) }()
	go func() { _ = helper.server.Serve(helper.tlsLn) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	helper.proxyAddr = ln.Addr().String()
	go func() { _ = helper.proxy.Serve(ln) }()
	time.Sleep(10 * time.Millisecond)

	proxyClient := helper.getProxyClient()

	t.Run("can proxy http", func(t *testing.T) {
		testSendRequest(t, helper.httpEndpoint, proxyClient, "ok")
	})

	t.Run("can proxy https via TLS MITM", func(t *testing.T) {
		testSendRequest(t, helper.httpsEndpoint, proxyClient, "ok")
	})

	t.Run("can short-circuit request", func(t *testing.T) {
		testSendRequest(t, helper.httpEndpoint+"intercept-request", proxyClient, "intercept-request")
	})
}

func TestProxyBlindTunnelWhenShouldInterceptDeclines(t *testing.T) {
	helper := &testProxyHelper{server: &http.Server{}, proxyAddr: "127.0.0.1:0"}
	helper.init(t, declineInterceptHandler{})
	defer helper.ln.Close()
	defer helper.tlsPlainLn.Close()
	go func() { _ = helper.server.Serve(helper.ln) }()
	go func() { _ = helper.server.Serve(helper.tlsLn) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)
	helper.proxyAddr = ln.Addr().String()
	go func() { _ = helper.proxy.Serve(ln) }()
	time.Sleep(10 * time.Millisecond)

	proxyClient := helper.getProxyClient()
	testSendRequest(t, helper.httpsEndpoint, proxyClient, "ok")
}

type declineInterceptHandler struct{ NoopHandler }

func (declineInterceptHandler) ShouldIntercept(_ *HTTPContext, _ *http.Request) bool { return false }
func (declineInterceptHandler) Clone() HTTPHandler                                  { return declineInterceptHandler{} }

func TestProxyShutdown(t *testing.T) {
	helper := &testProxyHelper{server: &http.Server{}, proxyAddr: "127.0.0.1:0"}
	helper.init(t, NoopHandler{})
	defer helper.ln.Close()
	defer helper.tlsPlainLn.Close()
	go func() { _ = helper.server.Serve(helper.ln) }()
	go func() { _ = helper.server.Serve(helper.tlsLn) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	handleError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- helper.proxy.Serve(ln) }()
	time.Sleep(10 * time.Millisecond)

	if err := helper.proxy.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown got error %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("expected nil or ErrServerClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown timeout")
	}
}
