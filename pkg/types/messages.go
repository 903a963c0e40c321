package types

// Client -> Server message types on /ws/presence.
const (
	MsgStartPlaying = "start-playing" // gameId
	MsgStopPlaying  = "stop-playing"
)

// Server -> Client message types on /ws/presence.
const (
	MsgActivityUpdate = "friends-activity-update" // delta
	MsgError          = "error"                   // error
)

type ClientMessage struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
}

type ServerMessage struct {
	Type  string `json:"type"`
	Delta *Delta `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
}
