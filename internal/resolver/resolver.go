package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnresolvable is returned when every resolution strategy failed.
var ErrUnresolvable = errors.New("unable to resolve video url")

// Media is a directly fetchable source plus the referer some origins require.
type Media struct {
	Url     string
	Referer string
}

type Resolver interface {
	Resolve(ctx context.Context, url string) (Media, error)
}

// directExtensions are treated as already-playable links and skip resolution.
var directExtensions = []string{".m3u8", ".mp4", ".webm", ".mkv", ".avi", ".mov", ".flv", ".txt"}

func IsDirectLink(url string) bool {
	lower := strings.ToLower(url)
	if i := strings.IndexByte(lower, '?'); i >= 0 {
		lower = lower[:i]
	}

	for _, ext := range directExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

var youtubeIdRe = regexp.MustCompile(`^.*(youtu.be/|v/|u/\w/|embed/|watch\?v=|&v=)([^#&?]*).*`)

// YoutubeId extracts the 11-char video id from a YouTube URL, or "" if the
// URL is not one. Such URLs are passed through unresolved so clients keep the
// native embeddable player.
func YoutubeId(url string) string {
	match := youtubeIdRe.FindStringSubmatch(url)
	if match != nil && len(match[2]) == 11 {
		return match[2]
	}

	return ""
}

func IsEmbeddable(url string) bool {
	return YoutubeId(url) != ""
}
