package types

import "time"

type CreateRoomRequest struct {
	GameID string `json:"gameId"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type StartPlayingRequest struct {
	GameID string `json:"gameId"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Room states as they appear on the wire.
const (
	RoomOpen   = "OPEN"
	RoomActive = "ACTIVE"
	RoomClosed = "CLOSED"
)

type Room struct {
	ID           string     `json:"id"`
	RoomCode     string     `json:"roomCode"`
	HostID       string     `json:"hostId"`
	Host         UserRef    `json:"host"`
	GameID       string     `json:"gameId"`
	State        string     `json:"state"`
	Members      []string   `json:"members"` // host first
	CreatedAt    time.Time  `json:"createdAt"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	CloseReason  string     `json:"closeReason,omitempty"`
}

// RoomResponse wraps a room. RoomCode is repeated at the top level for
// clients that only need the shareable code.
type RoomResponse struct {
	RoomCode string `json:"roomCode"`
	Room     Room   `json:"room"`
}

// FriendsSnapshot is the poll result: the ground truth for every friend it lists.
type FriendsSnapshot struct {
	Friends        []Record `json:"friends"`
	Rooms          []Room   `json:"rooms"`
	PollIntervalMS int64    `json:"pollIntervalMs"`
}

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
