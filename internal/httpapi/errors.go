package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/presence"
	"github.com/DoyleJ11/skygames-rooms/internal/room"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

var errBadRequest = errors.New("bad request")

type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, room.ErrNotAuthenticated), errors.Is(err, presence.ErrNotAuthenticated):
		return apiError{http.StatusUnauthorized, "not_authenticated", "sign in required"}
	case errors.Is(err, room.ErrNotAuthorized):
		return apiError{http.StatusForbidden, "not_authorized", "only the host can do that"}
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrInvalidCode):
		return apiError{http.StatusNotFound, "invalid_code", "invalid room code"}
	case errors.Is(err, room.ErrRoomClosed):
		return apiError{http.StatusGone, "room_closed", "room closed"}
	case errors.Is(err, room.ErrCodeSpaceExhausted):
		return apiError{http.StatusServiceUnavailable, "code_space_exhausted", "could not create a room right now, try again"}
	case errors.Is(err, room.ErrRegistryStopped):
		return apiError{http.StatusServiceUnavailable, "unavailable", "shutting down"}
	case errors.Is(err, errBadRequest):
		return apiError{http.StatusBadRequest, "bad_request", err.Error()}
	default:
		return apiError{http.StatusInternalServerError, "internal", "internal error"}
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		a.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	if e.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, e.status, types.ErrorBody{Error: e.code, Message: e.message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
