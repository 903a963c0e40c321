package room

import (
	"slices"
	"time"

	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

type State string

const (
	StateOpen   State = "OPEN"
	StateActive State = "ACTIVE"
	StateClosed State = "CLOSED"
)

type CloseReason string

const (
	ReasonHostClosed CloseReason = "host_closed"
	ReasonHostLeft   CloseReason = "host_left"
	ReasonExpired    CloseReason = "expired"
)

// Room is a hosted session. Values handed out by the Registry are copies.
type Room struct {
	ID           string      `json:"id"`
	Code         string      `json:"roomCode"`
	HostID       string      `json:"hostId"`
	GameID       string      `json:"gameId"`
	State        State       `json:"state"`
	Members      []string    `json:"members"` // host first
	CreatedAt    time.Time   `json:"createdAt"`
	LastActiveAt time.Time   `json:"lastActiveAt"`
	ClosedAt     time.Time   `json:"closedAt,omitzero"`
	CloseReason  CloseReason `json:"closeReason,omitempty"`
}

func (r Room) IsLive() bool { return r.State == StateOpen || r.State == StateActive }

func (r Room) HasMember(userID string) bool { return slices.Contains(r.Members, userID) }

func (r Room) MemberCount() int { return len(r.Members) }

func (r *Room) clone() Room {
	c := *r
	c.Members = slices.Clone(r.Members)
	return c
}

// Wire converts the room to its JSON form with host resolved.
func (r Room) Wire(host types.UserRef) types.Room {
	w := types.Room{
		ID:           r.ID,
		RoomCode:     r.Code,
		HostID:       r.HostID,
		Host:         host,
		GameID:       r.GameID,
		State:        string(r.State),
		Members:      slices.Clone(r.Members),
		CreatedAt:    r.CreatedAt,
		LastActiveAt: r.LastActiveAt,
		CloseReason:  string(r.CloseReason),
	}
	if w.Members == nil {
		w.Members = []string{}
	}
	if !r.ClosedAt.IsZero() {
		closed := r.ClosedAt
		w.ClosedAt = &closed
	}
	return w
}
