package room

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/metrics"
)

// FriendLister resolves a user's friend set. friends.Directory satisfies it.
type FriendLister interface {
	Friends(ctx context.Context, userID string) ([]string, error)
}

type Options struct {
	CodeLength   int
	CodeAttempts int
	IdleTimeout  time.Duration
	CloseGrace   time.Duration

	Codes   CodeGenerator    // defaults to RandomCodes(CodeLength)
	Now     func() time.Time // defaults to time.Now
	NewID   func() string    // defaults to uuid.NewString
	Sink    EventSink
	Friends FriendLister
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type registryMsg interface{ isRegistryMsg() }

type roomReply struct {
	room Room
	err  error
}

type createRoom struct {
	HostID string
	GameID string
	Reply  chan roomReply
}

type joinRoom struct {
	UserID string
	Code   string
	Reply  chan roomReply
}

type closeRoom struct {
	UserID string
	RoomID string
	Reply  chan error
}

type leaveRoom struct {
	UserID string
	RoomID string
	Reply  chan error
}

type renewRoom struct {
	UserID string
	RoomID string
	Reply  chan error
}

type renewHosted struct {
	HostID string
	Reply  chan int
}

type getRoom struct {
	Code  string
	Reply chan roomReply
}

type listHostedBy struct {
	HostIDs []string
	Reply   chan []Room
}

type SweepResult struct {
	Expired   int
	Reclaimed int
}

type sweep struct {
	Reply chan SweepResult
}

func (createRoom) isRegistryMsg()   {}
func (joinRoom) isRegistryMsg()     {}
func (closeRoom) isRegistryMsg()    {}
func (leaveRoom) isRegistryMsg()    {}
func (renewRoom) isRegistryMsg()    {}
func (renewHosted) isRegistryMsg()  {}
func (getRoom) isRegistryMsg()      {}
func (listHostedBy) isRegistryMsg() {}
func (sweep) isRegistryMsg()        {}

// Registry owns every Room. A single goroutine applies all reads and writes,
// so code uniqueness and join/close ordering need no further locking.
type Registry struct {
	inbox chan registryMsg
	opts  Options
	log   *zap.Logger

	rooms  map[string]*Room               // by id, live and closed-within-grace
	codes  map[string]string              // code -> room id, same lifetime as rooms
	byHost map[string]map[string]struct{} // host id -> live room ids

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry(parent context.Context, opts Options) *Registry {
	if opts.CodeLength == 0 {
		opts.CodeLength = 6
	}
	if opts.CodeAttempts == 0 {
		opts.CodeAttempts = 5
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	if opts.CloseGrace == 0 {
		opts.CloseGrace = time.Minute
	}
	if opts.Codes == nil {
		opts.Codes = RandomCodes(opts.CodeLength)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:  make(chan registryMsg, 64),
		opts:   opts,
		log:    opts.Logger.Named("registry"),
		rooms:  make(map[string]*Room),
		codes:  make(map[string]string),
		byHost: make(map[string]map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Stop terminates the loop. Calls made afterwards fail with ErrRegistryStopped.
func (r *Registry) Stop() {
	r.cancel()
	<-r.done
}

func (r *Registry) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case createRoom:
				room, err := r.create(msg.HostID, msg.GameID)
				msg.Reply <- roomReply{room: room, err: err}

			case joinRoom:
				room, err := r.join(msg.UserID, msg.Code)
				msg.Reply <- roomReply{room: room, err: err}

			case closeRoom:
				msg.Reply <- r.closeByHost(msg.UserID, msg.RoomID)

			case leaveRoom:
				msg.Reply <- r.leave(msg.UserID, msg.RoomID)

			case renewRoom:
				msg.Reply <- r.renew(msg.UserID, msg.RoomID)

			case renewHosted:
				msg.Reply <- r.renewHosted(msg.HostID)

			case getRoom:
				id, ok := r.codes[msg.Code]
				if !ok {
					msg.Reply <- roomReply{err: ErrRoomNotFound}
					break
				}
				msg.Reply <- roomReply{room: r.rooms[id].clone()}

			case listHostedBy:
				var out []Room
				for _, host := range msg.HostIDs {
					for id := range r.byHost[host] {
						out = append(out, r.rooms[id].clone())
					}
				}
				msg.Reply <- out

			case sweep:
				msg.Reply <- SweepResult{Expired: r.expire(), Reclaimed: r.reclaim()}
			}
		}
	}
}

// send hands m to the loop, giving up if ctx ends or the registry stops.
func (r *Registry) send(ctx context.Context, m registryMsg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRegistryStopped
	}
}

func await[T any](ctx context.Context, r *Registry, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.ctx.Done():
		return zero, ErrRegistryStopped
	}
}

func (r *Registry) CreateRoom(ctx context.Context, hostID, gameID string) (Room, error) {
	if hostID == "" {
		return Room{}, ErrNotAuthenticated
	}
	reply := make(chan roomReply, 1)
	if err := r.send(ctx, createRoom{HostID: hostID, GameID: gameID, Reply: reply}); err != nil {
		return Room{}, err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return Room{}, err
	}
	return res.room, res.err
}

func (r *Registry) JoinRoom(ctx context.Context, userID, code string) (Room, error) {
	if userID == "" {
		return Room{}, ErrNotAuthenticated
	}
	code, err := NormalizeCode(code, r.opts.CodeLength)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %w", ErrRoomNotFound, err)
	}
	reply := make(chan roomReply, 1)
	if err := r.send(ctx, joinRoom{UserID: userID, Code: code, Reply: reply}); err != nil {
		return Room{}, err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return Room{}, err
	}
	return res.room, res.err
}

// CloseRoom closes a room on behalf of its host. Closing an already closed room is a no-op.
func (r *Registry) CloseRoom(ctx context.Context, userID, roomID string) error {
	return r.mutate(ctx, userID, func(reply chan error) registryMsg {
		return closeRoom{UserID: userID, RoomID: roomID, Reply: reply}
	})
}

// LeaveRoom removes a member. The host leaving closes the room.
func (r *Registry) LeaveRoom(ctx context.Context, userID, roomID string) error {
	return r.mutate(ctx, userID, func(reply chan error) registryMsg {
		return leaveRoom{UserID: userID, RoomID: roomID, Reply: reply}
	})
}

// RenewRoom records host activity so the room is not expired.
func (r *Registry) RenewRoom(ctx context.Context, userID, roomID string) error {
	return r.mutate(ctx, userID, func(reply chan error) registryMsg {
		return renewRoom{UserID: userID, RoomID: roomID, Reply: reply}
	})
}

// RenewHostedRooms renews every live room hostID hosts and reports how many.
// A connected host session calls it to keep OPEN rooms from expiring.
func (r *Registry) RenewHostedRooms(ctx context.Context, hostID string) (int, error) {
	if hostID == "" {
		return 0, ErrNotAuthenticated
	}
	reply := make(chan int, 1)
	if err := r.send(ctx, renewHosted{HostID: hostID, Reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, r, reply)
}

func (r *Registry) mutate(ctx context.Context, userID string, build func(chan error) registryMsg) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	reply := make(chan error, 1)
	if err := r.send(ctx, build(reply)); err != nil {
		return err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return err
	}
	return res
}

// GetRoom looks a room up by code. Closed rooms still within their grace period are returned.
func (r *Registry) GetRoom(ctx context.Context, code string) (Room, error) {
	code, err := NormalizeCode(code, r.opts.CodeLength)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %w", ErrRoomNotFound, err)
	}
	reply := make(chan roomReply, 1)
	if err := r.send(ctx, getRoom{Code: code, Reply: reply}); err != nil {
		return Room{}, err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return Room{}, err
	}
	return res.room, res.err
}

// ListActiveRoomsForFriendsOf returns the live rooms hosted by userID's friends, in no order.
func (r *Registry) ListActiveRoomsForFriendsOf(ctx context.Context, userID string) ([]Room, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if r.opts.Friends == nil {
		return nil, nil
	}
	friendIDs, err := r.opts.Friends.Friends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friends of %s: %w", userID, err)
	}
	if len(friendIDs) == 0 {
		return nil, nil
	}
	reply := make(chan []Room, 1)
	if err := r.send(ctx, listHostedBy{HostIDs: friendIDs, Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, r, reply)
}

// ExpireInactiveRooms closes OPEN rooms whose host has not renewed within the idle timeout,
// then reclaims closed rooms whose grace period has passed.
func (r *Registry) ExpireInactiveRooms(ctx context.Context) (SweepResult, error) {
	reply := make(chan SweepResult, 1)
	if err := r.send(ctx, sweep{Reply: reply}); err != nil {
		return SweepResult{}, err
	}
	return await(ctx, r, reply)
}

// Run sweeps on a fixed interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			res, err := r.ExpireInactiveRooms(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if res.Expired > 0 || res.Reclaimed > 0 {
				r.log.Info("sweep", zap.Int("expired", res.Expired), zap.Int("reclaimed", res.Reclaimed))
			}
		}
	}
}

// --- loop-only helpers below; never call from another goroutine ---

func (r *Registry) create(hostID, gameID string) (Room, error) {
	for attempt := 1; attempt <= r.opts.CodeAttempts; attempt++ {
		code, err := r.opts.Codes()
		if err != nil {
			return Room{}, fmt.Errorf("generate room code: %w", err)
		}
		code = strings.ToUpper(code)
		if _, taken := r.codes[code]; taken {
			r.opts.Metrics.CodeCollision()
			r.log.Debug("collision on code, regenerating", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}

		now := r.opts.Now()
		room := &Room{
			ID:           r.opts.NewID(),
			Code:         code,
			HostID:       hostID,
			GameID:       gameID,
			State:        StateOpen,
			Members:      []string{hostID},
			CreatedAt:    now,
			LastActiveAt: now,
		}
		r.rooms[room.ID] = room
		r.codes[code] = room.ID
		if r.byHost[hostID] == nil {
			r.byHost[hostID] = make(map[string]struct{})
		}
		r.byHost[hostID][room.ID] = struct{}{}

		r.opts.Metrics.RoomCreated()
		r.log.Info("room created",
			zap.String("room_id", room.ID), zap.String("code", code),
			zap.String("host_id", hostID), zap.String("game_id", gameID))
		r.emit(Event{Type: EvtRoomCreated, Room: room.clone(), UserID: hostID})
		return room.clone(), nil
	}

	r.opts.Metrics.CodeSpaceExhausted()
	r.log.Warn("room code attempts exhausted", zap.Int("attempts", r.opts.CodeAttempts))
	return Room{}, ErrCodeSpaceExhausted
}

func (r *Registry) join(userID, code string) (Room, error) {
	id, ok := r.codes[code]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	room := r.rooms[id]
	if !room.IsLive() {
		return Room{}, ErrRoomClosed
	}
	if room.HasMember(userID) {
		return room.clone(), nil
	}

	room.Members = append(room.Members, userID)
	if room.State == StateOpen && userID != room.HostID {
		room.State = StateActive
	}

	r.opts.Metrics.RoomJoined()
	r.log.Info("room joined",
		zap.String("room_id", room.ID), zap.String("user_id", userID),
		zap.String("state", string(room.State)), zap.Int("members", len(room.Members)))
	r.emit(Event{Type: EvtRoomJoined, Room: room.clone(), UserID: userID})
	return room.clone(), nil
}

func (r *Registry) closeByHost(userID, roomID string) error {
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.HostID != userID {
		return ErrNotAuthorized
	}
	if !room.IsLive() {
		return nil
	}
	r.close(room, ReasonHostClosed)
	return nil
}

func (r *Registry) leave(userID, roomID string) error {
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !room.IsLive() {
		return ErrRoomClosed
	}
	if room.HostID == userID {
		r.close(room, ReasonHostLeft)
		return nil
	}
	i := slices.Index(room.Members, userID)
	if i < 0 {
		return nil
	}
	room.Members = append(room.Members[:i], room.Members[i+1:]...)
	r.log.Info("room left", zap.String("room_id", room.ID), zap.String("user_id", userID))
	r.emit(Event{Type: EvtRoomLeft, Room: room.clone(), UserID: userID})
	return nil
}

func (r *Registry) renew(userID, roomID string) error {
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.HostID != userID {
		return ErrNotAuthorized
	}
	if !room.IsLive() {
		return ErrRoomClosed
	}
	room.LastActiveAt = r.opts.Now()
	return nil
}

func (r *Registry) renewHosted(hostID string) int {
	now := r.opts.Now()
	for id := range r.byHost[hostID] {
		r.rooms[id].LastActiveAt = now
	}
	return len(r.byHost[hostID])
}

// close marks the room CLOSED; its code stays reserved until reclaim.
func (r *Registry) close(room *Room, reason CloseReason) {
	room.State = StateClosed
	room.ClosedAt = r.opts.Now()
	room.CloseReason = reason
	if hosted := r.byHost[room.HostID]; hosted != nil {
		delete(hosted, room.ID)
		if len(hosted) == 0 {
			delete(r.byHost, room.HostID)
		}
	}

	r.opts.Metrics.RoomClosed(string(reason))
	r.log.Info("room closed",
		zap.String("room_id", room.ID), zap.String("code", room.Code), zap.String("reason", string(reason)))
	r.emit(Event{Type: EvtRoomClosed, Room: room.clone(), UserID: room.HostID})
}

func (r *Registry) expire() int {
	now := r.opts.Now()
	n := 0
	for _, room := range r.rooms {
		if room.State == StateOpen && now.Sub(room.LastActiveAt) > r.opts.IdleTimeout {
			r.close(room, ReasonExpired)
			n++
		}
	}
	return n
}

func (r *Registry) reclaim() int {
	now := r.opts.Now()
	n := 0
	for id, room := range r.rooms {
		if room.State == StateClosed && now.Sub(room.ClosedAt) >= r.opts.CloseGrace {
			delete(r.codes, room.Code)
			delete(r.rooms, id)
			n++
		}
	}
	return n
}

func (r *Registry) emit(e Event) {
	if r.opts.Sink != nil {
		r.opts.Sink.HandleRoomEvent(e)
	}
}
