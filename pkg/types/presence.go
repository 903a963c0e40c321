package types

import "time"

// Activity kinds.
const (
	KindIdle    = "idle"
	KindPlaying = "playing"
	KindHosting = "hosting"
)

type Activity struct {
	Kind     string `json:"kind"`
	GameID   string `json:"gameId,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
}

// Record is one user's current activity as of Seq.
type Record struct {
	UserID    string    `json:"userId"`
	Activity  Activity  `json:"activity"`
	UpdatedAt time.Time `json:"updatedAt"`
	Seq       uint64    `json:"seq"`
}

// Delta is a pushed change to one user's Record. Seq strictly increases per user.
type Delta struct {
	UserID   string    `json:"userId"`
	Activity Activity  `json:"activity"`
	At       time.Time `json:"at"`
	Seq      uint64    `json:"seq"`
}
