package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/andybalholm/brotli"
)

var (
	headCloseRe = regexp.MustCompile(`(?i)</head>`)
	bodyCloseRe = regexp.MustCompile(`(?i)</body>`)
)

// InjectionMarkup renders the markup block added to proxied HTML pages:
// a script assigning the support origin global, one script tag per asset
// path, then the configured fragments in order.
func InjectionMarkup(config Configuration) string {
	parts := []string{
		fmt.Sprintf(`<script>window.%s = %q;</script>`, SupportOriginGlobal, config.SupportOrigin),
	}
	for _, path := range config.AssetPaths {
		parts = append(parts, fmt.Sprintf(`<script src=%q></script>`, config.SupportOrigin+path))
	}
	for _, fragment := range config.Fragments {
		if fragment.Markup == "" {
			continue
		}
		parts = append(parts, fragment.Markup)
	}
	return strings.Join(parts, "\n")
}

// RewriteHTML inserts markup in front of the closing head tag, falling back
// to the closing body tag. Documents with neither are returned unchanged,
// reported by the second return value.
func RewriteHTML(body []byte, markup string) ([]byte, bool) {
	loc := headCloseRe.FindIndex(body)
	if loc == nil {
		loc = bodyCloseRe.FindIndex(body)
	}
	if loc == nil {
		return body, false
	}

	insertion := []byte(markup + "\n")
	rewritten := make([]byte, 0, len(body)+len(insertion))
	rewritten = append(rewritten, body[:loc[0]]...)
	rewritten = append(rewritten, insertion...)
	rewritten = append(rewritten, body[loc[0]:]...)
	return rewritten, true
}

// DecodeBody undoes the upstream transfer compression so the document can
// be rewritten. Unsupported encodings return the body untouched with the
// second return value false so callers can pass the response through.
func DecodeBody(body []byte, encoding string) ([]byte, bool, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, true, nil
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, false, err
		}
		defer reader.Close()
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return nil, false, err
		}
		return decoded, true, nil
	case "deflate":
		decoded, err := decodeDeflate(body)
		if err != nil {
			return nil, false, err
		}
		return decoded, true, nil
	case "br":
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, false, err
		}
		return decoded, true, nil
	default:
		return body, false, nil
	}
}

// decodeDeflate handles both spellings of deflate seen in the wild: the
// zlib-wrapped stream the RFC asks for and the raw stream some servers send.
func decodeDeflate(body []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(body))
	if err == nil {
		defer reader.Close()
		decoded, err := io.ReadAll(reader)
		if err == nil {
			return decoded, nil
		}
	}

	rawReader := flate.NewReader(bytes.NewReader(body))
	defer rawReader.Close()
	return io.ReadAll(rawReader)
}
