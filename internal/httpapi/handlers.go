package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/friends"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
	"github.com/DoyleJ11/skygames-rooms/internal/room"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

// UserDirectory resolves display names. friends.Directory satisfies it.
type UserDirectory interface {
	Username(ctx context.Context, userID string) (string, error)
}

type API struct {
	Rooms        *room.Registry
	Presence     *presence.Tracker
	Users        UserDirectory // optional; hosts are shown by id without it
	PollInterval time.Duration
	Log          *zap.Logger
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json body", errBadRequest)
	}
	return nil
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	gameID := strings.TrimSpace(req.GameID)
	if gameID == "" {
		a.writeError(w, r, fmt.Errorf("%w: gameId is required", errBadRequest))
		return
	}
	rm, err := a.Rooms.CreateRoom(r.Context(), auth.UserID(r.Context()), gameID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.roomResponse(r.Context(), rm))
}

func (a *API) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req types.JoinRoomRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	rm, err := a.Rooms.JoinRoom(r.Context(), auth.UserID(r.Context()), req.RoomCode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.roomResponse(r.Context(), rm))
}

func (a *API) CloseRoom(w http.ResponseWriter, r *http.Request) {
	a.roomAction(w, r, a.Rooms.CloseRoom)
}

func (a *API) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	a.roomAction(w, r, a.Rooms.LeaveRoom)
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	a.roomAction(w, r, a.Rooms.RenewRoom)
}

type roomFunc func(ctx context.Context, userID, roomID string) error

func (a *API) roomAction(w http.ResponseWriter, r *http.Request, fn roomFunc) {
	if err := fn(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "roomId")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := a.Rooms.GetRoom(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.roomResponse(r.Context(), rm))
}

// FriendsActive is the room poll fallback: a bare array of friends' live rooms.
func (a *API) FriendsActive(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.Rooms.ListActiveRoomsForFriendsOf(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.wireRooms(r.Context(), rooms))
}

func (a *API) StartPlaying(w http.ResponseWriter, r *http.Request) {
	var req types.StartPlayingRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	gameID := strings.TrimSpace(req.GameID)
	if gameID == "" {
		a.writeError(w, r, fmt.Errorf("%w: gameId is required", errBadRequest))
		return
	}
	d, err := a.Presence.StartPlaying(r.Context(), auth.UserID(r.Context()), gameID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Wire())
}

func (a *API) GoIdle(w http.ResponseWriter, r *http.Request) {
	d, err := a.Presence.ClearActivity(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Wire())
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r.Context())
	rec, ok, err := a.Presence.GetActivity(r.Context(), uid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		rec = presence.Record{UserID: uid, Activity: presence.Idle()}
	}
	writeJSON(w, http.StatusOK, rec.Wire())
}

// FriendsSnapshot is the presence poll fallback: every friend's record plus their live rooms.
func (a *API) FriendsSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := auth.UserID(ctx)

	recs, err := a.Presence.FriendActivity(ctx, uid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rooms, err := a.Rooms.ListActiveRoomsForFriendsOf(ctx, uid)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	wire := make([]types.Record, 0, len(recs))
	for _, rec := range recs {
		wire = append(wire, rec.Wire())
	}
	writeJSON(w, http.StatusOK, types.FriendsSnapshot{
		Friends:        wire,
		Rooms:          a.wireRooms(ctx, rooms),
		PollIntervalMS: a.PollInterval.Milliseconds(),
	})
}

func (a *API) roomResponse(ctx context.Context, rm room.Room) types.RoomResponse {
	return types.RoomResponse{RoomCode: rm.Code, Room: rm.Wire(a.host(ctx, rm.HostID))}
}

// wireRooms converts rooms for the wire, oldest first, resolving each host once.
func (a *API) wireRooms(ctx context.Context, rooms []room.Room) []types.Room {
	slices.SortFunc(rooms, func(x, y room.Room) int { return x.CreatedAt.Compare(y.CreatedAt) })
	hosts := make(map[string]types.UserRef)
	out := make([]types.Room, 0, len(rooms))
	for _, rm := range rooms {
		h, ok := hosts[rm.HostID]
		if !ok {
			h = a.host(ctx, rm.HostID)
			hosts[rm.HostID] = h
		}
		out = append(out, rm.Wire(h))
	}
	return out
}

// host falls back to the user id as the display name when the directory cannot answer.
func (a *API) host(ctx context.Context, userID string) types.UserRef {
	ref := types.UserRef{ID: userID, Username: userID}
	if a.Users == nil {
		return ref
	}
	name, err := a.Users.Username(ctx, userID)
	switch {
	case err == nil:
		ref.Username = name
	case !errors.Is(err, friends.ErrUnknownUser):
		a.Log.Warn("username lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	return ref
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
