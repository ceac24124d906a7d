package addon

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"

	intercepthttp "github.com/coriolislabs/intercepthttp"
)

func TestDecoderHandleResponseGzip(t *testing.T) {
	plain := []byte("hello world")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	res := &http.Response{
		Header: http.Header{"Content-Encoding": {"gzip"}},
		Body:   io.NopCloser(bytes.NewReader(buf.Bytes())),
	}

	got := Decoder{}.HandleResponse(&intercepthttp.HTTPContext{}, res)
	body, err := io.ReadAll(got.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, plain) {
		t.Fatalf("expected %q, got %q", plain, body)
	}
	if got.Header.Get("Content-Encoding") != "" {
		t.Fatal("expected Content-Encoding to be stripped")
	}
}

func TestDecoderHandleResponseBrotli(t *testing.T) {
	plain := []byte("hello brotli")
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, _ = w.Write(plain)
	_ = w.Close()

	res := &http.Response{
		Header: http.Header{"Content-Encoding": {"br"}},
		Body:   io.NopCloser(bytes.NewReader(buf.Bytes())),
	}

	got := Decoder{}.HandleResponse(&intercepthttp.HTTPContext{}, res)
	body, err := io.ReadAll(got.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, plain) {
		t.Fatalf("expected %q, got %q", plain, body)
	}
}

func TestDecoderHandleResponseOnErrorLeavesBodyUntouched(t *testing.T) {
	broken := []byte("not gzip data")
	res := &http.Response{
		Header: http.Header{"Content-Encoding": {"gzip"}},
		Body:   io.NopCloser(bytes.NewReader(broken)),
	}

	got := Decoder{}.HandleResponse(&intercepthttp.HTTPContext{}, res)
	body, err := io.ReadAll(got.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, broken) {
		t.Fatalf("expected body untouched on decode error, got %q", body)
	}
	if got.Header.Get("Content-Encoding") != "gzip" {
		t.Fatal("expected Content-Encoding left alone on decode error")
	}
}
