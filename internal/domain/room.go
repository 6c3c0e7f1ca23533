package domain

import "time"

type Member struct {
	Id          string `json:"id"`
	Nickname    string `json:"nickname"`
	IsBuffering bool   `json:"isBuffering"`
}

// Room holds the shared playback state of one viewing session. CurrentTime is
// the playback offset at the last mutation; while playing, the effective
// position advances with the wall clock from LastUpdated. LastUpdated == 0
// means the clock is frozen (paused or buffering).
type Room struct {
	VideoUrl             string  `json:"videoUrl"`
	Referer              string  `json:"referer"`
	IsPlaying            bool    `json:"isPlaying"`
	CurrentTime          float64 `json:"currentTime"`
	LastUpdated          int64   `json:"lastUpdated"`
	WasPlayingBeforeSeek bool    `json:"-"`
}

// PositionNow returns the effective playback position at now.
func (r *Room) PositionNow(now time.Time) float64 {
	if r.IsPlaying && r.LastUpdated != 0 {
		return r.CurrentTime + float64(now.UnixMilli()-r.LastUpdated)/1000
	}

	return r.CurrentTime
}

// Freeze materializes the effective position into CurrentTime and stops the
// clock. Safe to call on an already-frozen room.
func (r *Room) Freeze(now time.Time) {
	r.CurrentTime = r.PositionNow(now)
	r.LastUpdated = 0
}

// Resume restarts the clock at the given position.
func (r *Room) Resume(at float64, now time.Time) {
	r.CurrentTime = at
	r.LastUpdated = now.UnixMilli()
	r.IsPlaying = true
}
