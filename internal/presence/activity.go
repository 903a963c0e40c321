package presence

import (
	"errors"
	"time"

	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type Kind string

const (
	KindIdle    Kind = "idle"
	KindPlaying Kind = "playing"
	KindHosting Kind = "hosting"
)

// Activity is what a user is doing right now. RoomID and RoomCode are set
// while hosting, and while playing inside a joined room.
type Activity struct {
	Kind     Kind   `json:"kind"`
	GameID   string `json:"gameId,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
	RoomCode string `json:"roomCode,omitempty"`
}

func Idle() Activity { return Activity{Kind: KindIdle} }

func Playing(gameID string) Activity { return Activity{Kind: KindPlaying, GameID: gameID} }

func (a Activity) InRoom(roomID string) bool { return roomID != "" && a.RoomID == roomID }

type Record struct {
	UserID    string    `json:"userId"`
	Activity  Activity  `json:"activity"`
	UpdatedAt time.Time `json:"updatedAt"`
	Seq       uint64    `json:"seq"`
}

// Delta is one change to one user's Record. Seq strictly increases per user.
type Delta struct {
	UserID   string    `json:"userId"`
	Activity Activity  `json:"activity"`
	At       time.Time `json:"at"`
	Seq      uint64    `json:"seq"`
}

func (r Record) Delta() Delta {
	return Delta{UserID: r.UserID, Activity: r.Activity, At: r.UpdatedAt, Seq: r.Seq}
}

func (a Activity) Wire() types.Activity {
	return types.Activity{Kind: string(a.Kind), GameID: a.GameID, RoomID: a.RoomID, RoomCode: a.RoomCode}
}

func (r Record) Wire() types.Record {
	return types.Record{UserID: r.UserID, Activity: r.Activity.Wire(), UpdatedAt: r.UpdatedAt, Seq: r.Seq}
}

func (d Delta) Wire() types.Delta {
	return types.Delta{UserID: d.UserID, Activity: d.Activity.Wire(), At: d.At, Seq: d.Seq}
}
