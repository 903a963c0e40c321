package room

import "errors"

var ErrNotAuthenticated = errors.New("not authenticated")
var ErrNotAuthorized = errors.New("not authorized")
var ErrRoomNotFound = errors.New("room not found")
var ErrRoomClosed = errors.New("room closed")
var ErrInvalidCode = errors.New("invalid room code")
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
var ErrRegistryStopped = errors.New("room registry stopped")
