package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/room"
)

// roomEventTimeout bounds store writes made on behalf of the room registry.
const roomEventTimeout = 2 * time.Second

// Publisher receives every delta the tracker produces. It must not block.
type Publisher interface {
	Publish(Delta)
}

type FriendLister interface {
	Friends(ctx context.Context, userID string) ([]string, error)
}

// Tracker keeps one Record per user in a Store. Writes from this instance
// are serialized so its deltas reach the publisher in Seq order.
type Tracker struct {
	mu    sync.Mutex
	store Store

	pub     Publisher
	friends FriendLister
	now     func() time.Time
	log     *zap.Logger
}

type TrackerOption func(*Tracker)

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func WithFriends(f FriendLister) TrackerOption {
	return func(t *Tracker) { t.friends = f }
}

// WithStore replaces the default in-memory store, e.g. with a RedisStore
// shared by every instance.
func WithStore(s Store) TrackerOption {
	return func(t *Tracker) { t.store = s }
}

func NewTracker(pub Publisher, log *zap.Logger, opts ...TrackerOption) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{
		store: NewMemoryStore(),
		pub:   pub,
		now:   time.Now,
		log:   log.Named("presence"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetActivity overwrites the user's record and publishes the resulting delta.
func (t *Tracker) SetActivity(ctx context.Context, userID string, a Activity) (Delta, error) {
	if userID == "" {
		return Delta{}, ErrNotAuthenticated
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setLocked(ctx, userID, a)
}

func (t *Tracker) ClearActivity(ctx context.Context, userID string) (Delta, error) {
	return t.SetActivity(ctx, userID, Idle())
}

// StartPlaying marks the user as playing gameID outside of any room.
func (t *Tracker) StartPlaying(ctx context.Context, userID, gameID string) (Delta, error) {
	return t.SetActivity(ctx, userID, Playing(gameID))
}

// ClearIfPlaying resets the user to idle only while they are still playing
// gameID outside of a room. Used when the session that declared it goes away.
func (t *Tracker) ClearIfPlaying(ctx context.Context, userID, gameID string) (Delta, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok, err := t.current(ctx, userID)
	if err != nil || !ok || rec.Activity != Playing(gameID) {
		return Delta{}, false, err
	}
	d, err := t.setLocked(ctx, userID, Idle())
	return d, err == nil, err
}

func (t *Tracker) GetActivity(ctx context.Context, userID string) (Record, bool, error) {
	return t.current(ctx, userID)
}

// FriendActivity returns one record per friend of userID. Friends without a
// record are reported idle with Seq 0.
func (t *Tracker) FriendActivity(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if t.friends == nil {
		return nil, nil
	}
	ids, err := t.friends.Friends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends of %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	recs, err := t.store.Get(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := recs[id]
		if !ok {
			rec = Record{UserID: id, Activity: Idle()}
		}
		out = append(out, rec)
	}
	return out, nil
}

// HandleRoomEvent keeps presence in step with the room registry. Store
// failures are logged; the next poll reflects whatever was stored.
func (t *Tracker) HandleRoomEvent(e room.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), roomEventTimeout)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.applyRoomEvent(ctx, e); err != nil {
		t.log.Error("room event not applied",
			zap.String("event", string(e.Type)), zap.String("room_id", e.Room.ID), zap.Error(err))
	}
}

func (t *Tracker) applyRoomEvent(ctx context.Context, e room.Event) error {
	switch e.Type {
	case room.EvtRoomCreated:
		_, err := t.setLocked(ctx, e.UserID, Activity{
			Kind:     KindHosting,
			GameID:   e.Room.GameID,
			RoomID:   e.Room.ID,
			RoomCode: e.Room.Code,
		})
		return err

	case room.EvtRoomJoined:
		if e.UserID == e.Room.HostID {
			return nil
		}
		_, err := t.setLocked(ctx, e.UserID, Activity{
			Kind:     KindPlaying,
			GameID:   e.Room.GameID,
			RoomID:   e.Room.ID,
			RoomCode: e.Room.Code,
		})
		return err

	case room.EvtRoomLeft:
		rec, ok, err := t.current(ctx, e.UserID)
		if err != nil || !ok || !rec.Activity.InRoom(e.Room.ID) {
			return err
		}
		_, err = t.setLocked(ctx, e.UserID, Idle())
		return err

	case room.EvtRoomClosed:
		recs, err := t.store.Get(ctx, e.Room.Members...)
		if err != nil {
			return err
		}
		for _, member := range e.Room.Members {
			if rec, ok := recs[member]; ok && rec.Activity.InRoom(e.Room.ID) {
				if _, err := t.setLocked(ctx, member, Idle()); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (t *Tracker) current(ctx context.Context, userID string) (Record, bool, error) {
	recs, err := t.store.Get(ctx, userID)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := recs[userID]
	return rec, ok, nil
}

// setLocked requires t.mu held. Publishing under the lock keeps this
// instance's deltas for a user reaching the publisher in Seq order.
func (t *Tracker) setLocked(ctx context.Context, userID string, a Activity) (Delta, error) {
	rec, err := t.store.Put(ctx, userID, a, t.now())
	if err != nil {
		return Delta{}, err
	}

	t.log.Debug("activity set",
		zap.String("user_id", userID), zap.String("kind", string(a.Kind)),
		zap.String("game_id", a.GameID), zap.Uint64("seq", rec.Seq))

	d := rec.Delta()
	if t.pub != nil {
		t.pub.Publish(d)
	}
	return d, nil
}
