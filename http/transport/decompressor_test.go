package transport

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"status":"ok","checks":["db","queue","cache"]}`

func TestDecompressor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		encoding string
		compress func(io.Writer) io.WriteCloser
	}{
		{encoding: "gzip", compress: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{encoding: "br", compress: func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) }},
		{encoding: "zstd", compress: func(w io.Writer) io.WriteCloser {
			zw, _ := zstd.NewWriter(w)

			return zw
		}},
		{encoding: "snappy", compress: func(w io.Writer) io.WriteCloser { return snappy.NewBufferedWriter(w) }},
		{encoding: "lz4", compress: func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) }},
		{encoding: ""},
	}

	for _, tc := range tests {
		t.Run("encoding "+tc.encoding, func(t *testing.T) {
			t.Parallel()

			body := []byte(payload)

			if tc.compress != nil {
				var buf bytes.Buffer

				w := tc.compress(&buf)
				_, err := w.Write(body)
				require.NoError(t, err)
				require.NoError(t, w.Close())

				body = buf.Bytes()
			}

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.encoding != "" {
					w.Header().Set("Content-Encoding", tc.encoding)
				}

				_, _ = w.Write(body)
			}))
			defer srv.Close()

			// DisableCompression keeps net/http from negotiating and decoding gzip itself.
			client := &http.Client{Transport: NewDecompressor(&http.Transport{DisableCompression: true})}

			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			rsp, err := client.Do(req)
			require.NoError(t, err)

			got, err := io.ReadAll(rsp.Body)
			require.NoError(t, err)
			require.NoError(t, rsp.Body.Close())

			assert.JSONEq(t, payload, string(got))
		})
	}
}

func TestDecompressor_NilPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewDecompressor(nil) })
}

type closeCounter struct {
	io.Reader

	closed int
}

func (c *closeCounter) Close() error {
	c.closed++

	return nil
}

func TestDecompressor_ClosesUnderlyingBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(payload))
	require.NoError(t, gw.Close())

	orig := &closeCounter{Reader: bytes.NewReader(buf.Bytes())}

	rt := NewDecompressor(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Encoding": []string{"gzip"}},
			Body:       orig,
			Request:    req,
		}, nil
	}))

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "http://probe.invalid/", nil)

	rsp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	_, err = io.ReadAll(rsp.Body)
	require.NoError(t, err)
	require.NoError(t, rsp.Body.Close())
	assert.Equal(t, 1, orig.closed)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
