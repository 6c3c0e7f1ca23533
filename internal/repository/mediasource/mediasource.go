package mediasource

import "errors"

var ErrNotFound = errors.New("media source not found")

// MediaSource is a resolved, directly fetchable url plus the referer some
// origins require.
type MediaSource struct {
	Url     string `json:"url"`
	Referer string `json:"referer,omitempty"`
}
