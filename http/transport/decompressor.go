package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/fereidani/httpdecompressor"
)

// NewDecompressor wraps rt so response bodies are transparently decoded
// according to Content-Encoding (gzip, deflate, br, zstd, snappy, lz4).
// Uncompressed responses pass through untouched.
func NewDecompressor(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		panic("transport: NewDecompressor called with nil RoundTripper")
	}

	return &decompressor{next: rt}
}

type decompressor struct {
	next http.RoundTripper
}

var _ http.RoundTripper = (*decompressor)(nil)

func (d *decompressor) RoundTrip(req *http.Request) (*http.Response, error) {
	rsp, err := d.next.RoundTrip(req)
	if err != nil {
		return rsp, err
	}

	orig := rsp.Body

	body, err := httpdecompressor.Reader(rsp)
	if err != nil {
		_ = orig.Close()

		return nil, err
	}

	if body == orig {
		return rsp, nil
	}

	rsp.Body = &decodedBody{Reader: body, decoder: body, orig: orig}

	return rsp, nil
}

// decodedBody closes the decoder before the connection's body.
type decodedBody struct {
	io.Reader

	decoder io.Closer
	orig    io.Closer
}

func (b *decodedBody) Close() error {
	return errors.Join(b.decoder.Close(), b.orig.Close())
}
