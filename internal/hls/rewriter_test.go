package hls

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	baseUrl   = "https://cdn.example.com/hls/master.m3u8"
	proxyBase = "http://localhost:3001"
	referer   = "https://embed.example.com/"
)

func TestRewriteSegmentsProxied(t *testing.T) {
	manifest := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXTINF:4.0,",
		"seg-1.ts",
		"#EXTINF:4.0,",
		"/hls/seg-2.ts",
		"",
	}, "\n")

	out := Rewrite(manifest, baseUrl, proxyBase, referer, true)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	assert.Equal(t,
		"http://localhost:3001/proxy?url="+url.QueryEscape("https://cdn.example.com/hls/seg-1.ts")+"&referer="+url.QueryEscape(referer),
		lines[3])
	assert.Equal(t,
		"http://localhost:3001/proxy?url="+url.QueryEscape("https://cdn.example.com/hls/seg-2.ts")+"&referer="+url.QueryEscape(referer),
		lines[5])
	assert.Equal(t, "", lines[6], "trailing blank line preserved")
}

func TestRewriteSegmentsAbsoluteWhenNotProxied(t *testing.T) {
	manifest := "#EXTM3U\n#EXTINF:4.0,\nseg-1.ts"

	out := Rewrite(manifest, baseUrl, proxyBase, referer, false)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "https://cdn.example.com/hls/seg-1.ts", lines[2])
}

func TestRewriteUriAttribute(t *testing.T) {
	manifest := "#EXTM3U\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234` + "\n" +
		"#EXTINF:4.0,\nseg-1.ts"

	out := Rewrite(manifest, baseUrl, proxyBase, referer, true)
	lines := strings.Split(out, "\n")

	require.Contains(t, lines[1], `URI="http://localhost:3001/proxy?url=`)
	assert.Contains(t, lines[1], url.QueryEscape("https://cdn.example.com/hls/key.bin"))
	assert.Contains(t, lines[1], "METHOD=AES-128")
	assert.Contains(t, lines[1], "IV=0x1234")
}

func TestRewriteMalformedUriPassesThrough(t *testing.T) {
	manifest := "#EXTM3U\n#EXTINF:4.0,\nhttp://bad url with spaces\n#EXT-X-ENDLIST"

	out := Rewrite(manifest, baseUrl, proxyBase, referer, true)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "http://bad url with spaces", lines[2])
	assert.Equal(t, "#EXT-X-ENDLIST", lines[3])
}

func TestRewriteAlreadyProxiedNotDoubleWrapped(t *testing.T) {
	proxied := ProxyUrl(proxyBase, "https://cdn.example.com/hls/seg-1.ts", referer)
	manifest := "#EXTM3U\n#EXTINF:4.0,\n" + proxied

	out := Rewrite(manifest, baseUrl, proxyBase, referer, true)
	lines := strings.Split(out, "\n")

	assert.Equal(t, proxied, lines[2])
}

func TestRewriteInvalidBaseReturnsInput(t *testing.T) {
	manifest := "#EXTM3U\nseg-1.ts"
	assert.Equal(t, manifest, Rewrite(manifest, "http://bad base\x7f", proxyBase, referer, true))
}

func TestIsManifest(t *testing.T) {
	assert.True(t, IsManifest([]byte("#EXTM3U\n#EXT-X-VERSION:3")))
	assert.True(t, IsManifest([]byte("\n#EXTM3U")))
	assert.False(t, IsManifest([]byte("<html></html>")))
	assert.False(t, IsManifest([]byte{0x47, 0x40, 0x00}))
}
