// Package addon collects optional HTTPHandler implementations built on top
// of the core dispatcher: content decoding, static-file mapping, and
// glob-based interception rules. None of these are required by the
// dispatcher itself; they compose the way the teacher's own addon package
// did; unlike the teacher's addon chain, each one here is a complete,
// standalone HTTPHandler a caller selects directly, since intercepthttp
// has no addon registry of its own.
package addon

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	intercepthttp "github.com/coriolislabs/intercepthttp"
	"github.com/coriolislabs/intercepthttp/internal/helper"
)

// maxBufferedBody bounds how much of a response body Decoder holds in
// memory to decode. A body over the limit is passed through still
// compressed rather than read fully into memory.
const maxBufferedBody = 10 << 20

// Decoder is an HTTPHandler that replaces a response's body with its
// content-decoded form, stripping Content-Encoding/Transfer-Encoding and
// fixing up Content-Length, so downstream code never has to deal with
// compressed bodies. A body that fails to decode, or that exceeds
// maxBufferedBody, is left untouched.
type Decoder struct {
	intercepthttp.NoopHandler
}

func (Decoder) HandleResponse(_ *intercepthttp.HTTPContext, res *http.Response) *http.Response {
	if res.Body == nil {
		return res
	}

	raw, rest, err := helper.ReaderToBuffer(res.Body, maxBufferedBody)
	if err != nil {
		res.Body.Close()
		res.Body = io.NopCloser(bytes.NewReader(nil))
		return res
	}
	if raw == nil {
		// Over the limit: rest replays what's already been read followed
		// by the remainder of res.Body, so pair it with the original
		// Close rather than closing res.Body now.
		res.Body = bodyWithCloser{rest, res.Body}
		return res
	}
	res.Body.Close()

	decoded, err := decodeBody(raw, res.Header.Get("Content-Encoding"))
	if err != nil {
		res.Body = io.NopCloser(bytes.NewReader(raw))
		return res
	}

	res.Header.Del("Content-Encoding")
	res.Header.Del("Transfer-Encoding")
	res.Header.Set("Content-Length", strconv.Itoa(len(decoded)))
	res.ContentLength = int64(len(decoded))
	res.Body = io.NopCloser(bytes.NewReader(decoded))
	return res
}

// bodyWithCloser pairs a replacement Reader with a Closer from elsewhere,
// for when the body being swapped in still reads from the original's
// underlying connection.
type bodyWithCloser struct {
	io.Reader
	io.Closer
}

func (Decoder) Clone() intercepthttp.HTTPHandler { return Decoder{} }

var _ intercepthttp.HTTPHandler = Decoder{}

func decodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch contentEncoding {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, &unsupportedEncodingError{contentEncoding}
	}
}

type unsupportedEncodingError struct{ encoding string }

func (e *unsupportedEncodingError) Error() string {
	return "addon: unsupported content-encoding " + e.encoding
}
