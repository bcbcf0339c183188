package client

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// readBody reads resp.Body, undoing any Content-Encoding. The transport
// leaves bodies encoded because Accept-Encoding is set explicitly.
// A limit of zero or less disables the size cap.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	r, err := decodeReader(resp.Header.Get("Content-Encoding"), resp.Body)
	if errors.Is(err, io.EOF) {
		// encoded but empty, common on redirects
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok && r != io.Reader(resp.Body) {
		defer func() { _ = c.Close() }()
	}

	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}

func decodeReader(encoding string, body io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "deflate":
		return newDeflateReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams; servers
// disagree on what "deflate" means.
func newDeflateReader(body io.Reader) (io.Reader, error) {
	br := bufio.NewReader(body)
	header, err := br.Peek(2)
	if err != nil {
		return nil, err
	}
	if isZlibHeader(header[0], header[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
