package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectionMarkup_GlobalAndAssets(t *testing.T) {
	config := Configuration{
		SupportOrigin: "http://localhost:3001",
		AssetPaths:    []string{"/client.js", "/overlay.js"},
	}

	markup := InjectionMarkup(config)

	lines := strings.Split(markup, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `<script>window.`+SupportOriginGlobal+` = "http://localhost:3001";</script>`, lines[0])
	assert.Equal(t, `<script src="http://localhost:3001/client.js"></script>`, lines[1])
	assert.Equal(t, `<script src="http://localhost:3001/overlay.js"></script>`, lines[2])
}

func TestInjectionMarkup_FragmentsKeepOrderAndSkipEmpty(t *testing.T) {
	config := Configuration{
		SupportOrigin: "http://localhost:3001",
		Fragments: []InjectionFragment{
			{Name: "banner", Markup: "<div id=banner></div>"},
			{Name: "empty", Markup: ""},
			{Name: "meta", Markup: `<meta name="session" content="dev">`},
		},
	}

	markup := InjectionMarkup(config)

	lines := strings.Split(markup, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "<div id=banner></div>", lines[1])
	assert.Equal(t, `<meta name="session" content="dev">`, lines[2])
	assert.NotContains(t, markup, "empty")
}

func TestRewriteHTML(t *testing.T) {
	markup := "<script>tag</script>"

	tests := []struct {
		name     string
		body     string
		expected string
		changed  bool
	}{
		{
			name:     "before_closing_head",
			body:     "<html><head><title>x</title></head><body></body></html>",
			expected: "<html><head><title>x</title><script>tag</script>\n</head><body></body></html>",
			changed:  true,
		},
		{
			name:     "closing_head_case_insensitive",
			body:     "<HTML><HEAD></HEAD><BODY></BODY></HTML>",
			expected: "<HTML><HEAD><script>tag</script>\n</HEAD><BODY></BODY></HTML>",
			changed:  true,
		},
		{
			name:     "falls_back_to_closing_body",
			body:     "<html><body><p>hi</p></body></html>",
			expected: "<html><body><p>hi</p><script>tag</script>\n</body></html>",
			changed:  true,
		},
		{
			name:     "no_anchor_keeps_document",
			body:     "<p>fragment without head or body</p>",
			expected: "<p>fragment without head or body</p>",
			changed:  false,
		},
		{
			name:     "only_first_head_rewritten",
			body:     "<head></head><head></head>",
			expected: "<head><script>tag</script>\n</head><head></head>",
			changed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rewritten, changed := RewriteHTML([]byte(tt.body), markup)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.expected, string(rewritten))
		})
	}
}

func TestDecodeBody_Identity(t *testing.T) {
	body := []byte("<html></html>")

	for _, encoding := range []string{"", "identity"} {
		decoded, supported, err := DecodeBody(body, encoding)
		require.NoError(t, err)
		assert.True(t, supported)
		assert.Equal(t, body, decoded)
	}
}

func TestDecodeBody_Gzip(t *testing.T) {
	original := []byte("<html><head></head></html>")

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write(original)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, supported, err := DecodeBody(buf.Bytes(), "gzip")
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, original, decoded)
}

func TestDecodeBody_DeflateZlibWrapped(t *testing.T) {
	original := []byte("<html><body>deflate</body></html>")

	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	_, err := writer.Write(original)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, supported, err := DecodeBody(buf.Bytes(), "deflate")
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, original, decoded)
}

func TestDecodeBody_DeflateRaw(t *testing.T) {
	original := []byte("<html><body>raw deflate</body></html>")

	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = writer.Write(original)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, supported, err := DecodeBody(buf.Bytes(), "deflate")
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, original, decoded)
}

func TestDecodeBody_Brotli(t *testing.T) {
	original := []byte("<html><body>brotli</body></html>")

	var buf bytes.Buffer
	writer := brotli.NewWriter(&buf)
	_, err := writer.Write(original)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, supported, err := DecodeBody(buf.Bytes(), "br")
	require.NoError(t, err)
	assert.True(t, supported)
	assert.Equal(t, original, decoded)
}

func TestDecodeBody_UnsupportedEncodingPassesThrough(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}

	decoded, supported, err := DecodeBody(body, "zstd")
	require.NoError(t, err)
	assert.False(t, supported)
	assert.Equal(t, body, decoded)
}

func TestDecodeBody_CorruptStream(t *testing.T) {
	_, _, err := DecodeBody([]byte("definitely not gzip"), "gzip")
	assert.Error(t, err)
}
