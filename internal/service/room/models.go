package room

// PlayerAction is the play/pause/seek instruction broadcast to every member.
type PlayerAction struct {
	Action string  `json:"action"`
	Time   float64 `json:"time"`
}

const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
)
