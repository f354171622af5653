package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"

	"arctic-gateway/internal/model"
)

var (
	// ErrInvalidJSON is returned when an upstream declares a JSON content type
	// but the body does not parse.
	ErrInvalidJSON = errors.New("upstream returned invalid JSON")

	// ErrUnsupportedEncoding is returned when a JSON body is wrapped in a
	// content encoding the gateway cannot decode.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
)

// prepareResponse decodes the body, re-serializes JSON bodies, and filters
// headers in place. A JSON response with an empty body (204, or a 200 with
// no content) is relayed empty with its status rather than failing.
func prepareResponse(resp *model.ProxyResponse) error {
	body, decoded, err := decodeContent(resp.Header.Values("Content-Encoding"), resp.Body)
	if err != nil {
		return err
	}

	if isJSON(resp.Header.Get("Content-Type")) && len(body) > 0 {
		if !decoded {
			return fmt.Errorf("%w %q", ErrUnsupportedEncoding, resp.Header.Get("Content-Encoding"))
		}
		if body, err = reencodeJSON(body); err != nil {
			return err
		}
	}

	resp.Header = relayHeaders(resp.Header)
	if decoded {
		resp.Header.Del("Content-Encoding")
	}
	resp.Body = body
	return nil
}

// isJSON reports whether a Content-Type value declares a JSON body.
func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}

// reencodeJSON validates body and returns its compact serialization.
func reencodeJSON(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}
	return []byte(gjson.GetBytes(body, "@ugly").Raw), nil
}

// decodeContent undoes a Content-Encoding chain, last coding first. It
// reports decoded=false and returns the body untouched when a coding is not
// supported; identity and empty codings decode trivially.
func decodeContent(values []string, body []byte) ([]byte, bool, error) {
	var codings []string
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && c != "identity" {
				codings = append(codings, c)
			}
		}
	}
	if len(codings) == 0 || len(body) == 0 {
		return body, true, nil
	}

	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		r, err := newDecoder(codings[i], bytes.NewReader(out))
		if errors.Is(err, ErrUnsupportedEncoding) {
			return body, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
		out, err = io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, false, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
	}
	return out, true, nil
}

func newDecoder(coding string, r io.Reader) (io.ReadCloser, error) {
	switch coding {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return zlib.NewReader(r)
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "zstd":
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}
	return nil, ErrUnsupportedEncoding
}
