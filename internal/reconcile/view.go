// Package reconcile keeps a client's projection of its friends' activity,
// seeded by periodic polls and refined by best-effort pushes.
package reconcile

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

// Projection is a point-in-time copy of a View.
type Projection struct {
	Friends  map[string]types.Record
	Rooms    []types.Room
	PolledAt time.Time
}

// View is the local projection. A poll replaces every entry it covers; a push
// only lands when its Seq is newer than what was applied for that user.
type View struct {
	mu       sync.Mutex
	friends  map[string]types.Record
	rooms    []types.Room
	polledAt time.Time
}

func NewView() *View {
	return &View{friends: make(map[string]types.Record)}
}

// ApplySnapshot installs a poll result. The snapshot lists every current
// friend, so users missing from it are dropped.
func (v *View) ApplySnapshot(s types.FriendsSnapshot, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := make(map[string]types.Record, len(s.Friends))
	for _, rec := range s.Friends {
		next[rec.UserID] = rec
	}
	v.friends = next
	v.rooms = slices.Clone(s.Rooms)
	v.polledAt = at
}

// ApplyDelta applies a pushed delta and reports whether it changed the view.
// Deltas at or below the last applied Seq for the user are ignored.
func (v *View) ApplyDelta(d types.Delta) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	cur, ok := v.friends[d.UserID]
	if ok && d.Seq <= cur.Seq {
		return false
	}
	v.friends[d.UserID] = types.Record{
		UserID:    d.UserID,
		Activity:  d.Activity,
		UpdatedAt: d.At,
		Seq:       d.Seq,
	}
	return true
}

func (v *View) LastSeq(userID string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.friends[userID].Seq
}

func (v *View) Snapshot() Projection {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Projection{
		Friends:  maps.Clone(v.friends),
		Rooms:    slices.Clone(v.rooms),
		PolledAt: v.polledAt,
	}
}
