package hls

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SignatureTag starts every real playlist; bodies without it are served raw.
const SignatureTag = "#EXTM3U"

const ContentType = "application/vnd.apple.mpegurl"

var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// IsManifest reports whether a body looks like an HLS playlist.
func IsManifest(body []byte) bool {
	return strings.HasPrefix(strings.TrimLeft(string(body), "\uFEFF \t\r\n"), SignatureTag)
}

// Rewrite returns the manifest with every referenced URI resolved against
// baseUrl and, when proxySegments is set, wrapped in a proxy URL carrying the
// referer. Tag lines without a URI attribute, blank lines and lines whose URI
// fails to resolve pass through unchanged.
func Rewrite(manifest, baseUrl, proxyBase, referer string, proxySegments bool) string {
	base, err := url.Parse(baseUrl)
	if err != nil {
		return manifest
	}

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			if strings.Contains(trimmed, `URI="`) {
				lines[i] = uriAttrRe.ReplaceAllStringFunc(trimmed, func(attr string) string {
					uri := uriAttrRe.FindStringSubmatch(attr)[1]
					rewritten, ok := rewriteUri(uri, base, proxyBase, referer, proxySegments)
					if !ok {
						return attr
					}
					return fmt.Sprintf(`URI="%s"`, rewritten)
				})
			}
			continue
		}

		if rewritten, ok := rewriteUri(trimmed, base, proxyBase, referer, proxySegments); ok {
			lines[i] = rewritten
		}
	}

	return strings.Join(lines, "\n")
}

func rewriteUri(uri string, base *url.URL, proxyBase, referer string, proxySegments bool) (string, bool) {
	resolved, err := base.Parse(uri)
	if err != nil {
		return "", false
	}
	absolute := resolved.String()

	if !proxySegments {
		return absolute, true
	}

	// already points back at us: wrapping again would double-nest
	if strings.HasPrefix(absolute, proxyBase+"/proxy?") {
		return absolute, true
	}

	return ProxyUrl(proxyBase, absolute, referer), true
}

// ProxyUrl builds the /proxy URL for an absolute target.
func ProxyUrl(proxyBase, target, referer string) string {
	proxied := fmt.Sprintf("%s/proxy?url=%s", proxyBase, url.QueryEscape(target))
	if referer != "" {
		proxied += "&referer=" + url.QueryEscape(referer)
	}

	return proxied
}
