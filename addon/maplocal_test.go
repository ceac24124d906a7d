package addon

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	intercepthttp "github.com/coriolislabs/intercepthttp"
)

func TestMapLocalServesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.html")
	if err := os.WriteFile(file, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	ml := MapLocal{Items: []MapLocalItem{{Host: "example.com", PathPrefix: "/assets", To: dir}}}
	req := &http.Request{URL: &url.URL{Host: "example.com", Path: "/assets/index.html"}}

	result := ml.HandleRequest(&intercepthttp.HTTPContext{}, req)
	if !result.IsShortCircuit() {
		t.Fatal("expected a short-circuit response")
	}
	body, err := io.ReadAll(result.Response.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected file contents, got %q", body)
	}
}

func TestMapLocalForwardsWhenNoItemMatches(t *testing.T) {
	ml := MapLocal{Items: []MapLocalItem{{Host: "example.com", To: t.TempDir()}}}
	req := &http.Request{URL: &url.URL{Host: "other.com", Path: "/"}}

	result := ml.HandleRequest(&intercepthttp.HTTPContext{}, req)
	if result.IsShortCircuit() {
		t.Fatal("expected request to be forwarded unchanged")
	}
}

func TestMapLocalNotFound(t *testing.T) {
	ml := MapLocal{Items: []MapLocalItem{{Host: "example.com", To: t.TempDir()}}}
	req := &http.Request{URL: &url.URL{Host: "example.com", Path: "/missing.txt"}}

	result := ml.HandleRequest(&intercepthttp.HTTPContext{}, req)
	if !result.IsShortCircuit() || result.Response.StatusCode != http.StatusNotFound {
		t.Fatal("expected a 404 short-circuit response")
	}
}
