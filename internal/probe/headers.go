package probe

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/andybalholm/brotli"
)

// BrowserHeaders returns the header set a browser on the challenge frontend
// sends to the accounts API.
func BrowserHeaders(target config.TargetConfig) map[string]string {
	origin := target.Origin()
	return map[string]string{
		"User-Agent":      target.UserAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Origin":          origin,
		"Referer":         origin + "/",
		"Sec-Fetch-Dest":  "empty",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Site":  "same-site",
		"Te":              "trailers",
		"Connection":      "keep-alive",
	}
}

var gzipMagic = []byte{0x1f, 0x8b}

// decodeBody undoes the Content-Encoding advertised by Accept-Encoding. The
// HTTP client only unwraps gzip on its own.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	var r io.Reader

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("deflate body: %w", err)
		}
		defer zr.Close()
		r = zr
	case "gzip":
		if !bytes.HasPrefix(body, gzipMagic) {
			return body, nil
		}
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gr.Close()
		r = gr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s body: %w", encoding, err)
	}
	return decoded, nil
}
