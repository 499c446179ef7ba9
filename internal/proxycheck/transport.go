package proxycheck

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport advertises gzip/deflate/brotli support and
// transparently decodes whatever the upstream picked. The stock
// Transport only handles gzip, and only when it negotiated the header
// itself.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// decodeBody swaps resp.Body for a decoding reader according to
// Content-Encoding and fixes the length headers up to match.
func decodeBody(resp *http.Response) error {
	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	if encoding == "" {
		return nil
	}

	var body io.ReadCloser
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip body: %w", err)
		}
		body = gz
	case "deflate":
		// Most servers send the zlib-wrapped form despite the name.
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("deflate body: %w", err)
		}
		body = zr
	case "br":
		body = io.NopCloser(brotli.NewReader(resp.Body))
	default:
		return fmt.Errorf("unsupported content-encoding %q", encoding)
	}

	resp.Body = &decodedBody{decoded: body, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// decodedBody closes both the decoder and the network body underneath.
type decodedBody struct {
	decoded io.ReadCloser
	raw     io.ReadCloser
}

func (b *decodedBody) Read(p []byte) (int, error) { return b.decoded.Read(p) }

func (b *decodedBody) Close() error {
	err := b.decoded.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
