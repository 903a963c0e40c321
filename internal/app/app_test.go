package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/config"
	"github.com/DoyleJ11/skygames-rooms/internal/reconcile"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

func testConfig() config.Config {
	return config.Config{
		Env:           "test",
		HTTPAddr:      "127.0.0.1:0",
		CORSAllow:     []string{"http://localhost:3000"},
		JWTSecret:     "app-test-secret",
		StaticFriends: "alice=bob;bob=alice;carol=",
		Rooms: config.RoomConfig{
			CodeLength:    6,
			CodeAttempts:  5,
			IdleTimeout:   time.Minute,
			CloseGrace:    time.Minute,
			SweepInterval: time.Second,
		},
		SubscriberBuffer: 16,
		PollInterval:     50 * time.Millisecond,
	}
}

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	a, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)
	return a, srv
}

func token(t *testing.T, a *App, user string) string {
	t.Helper()
	tok, err := auth.New(a.Config.JWTSecret).Sign(user, time.Minute)
	require.NoError(t, err)
	return tok
}

func post(t *testing.T, srv *httptest.Server, tok, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, tok, path string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// projections keeps the latest view a reconcile loop reported.
type projections struct {
	mu   sync.Mutex
	last reconcile.Projection
}

func (p *projections) set(v reconcile.Projection) {
	p.mu.Lock()
	p.last = v
	p.mu.Unlock()
}

func (p *projections) polled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.last.PolledAt.IsZero()
}

func (p *projections) friend(id string) types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.Friends[id]
}

func TestApp_HostFriendAndStranger(t *testing.T) {
	a, srv := newTestApp(t)
	aliceTok, bobTok, carolTok := token(t, a, "alice"), token(t, a, "bob"), token(t, a, "carol")

	// bob runs the client loop against the real server
	seen := &projections{}
	loop := &reconcile.Loop{
		View:     reconcile.NewView(),
		Poller:   &reconcile.HTTPPoller{BaseURL: srv.URL, Token: bobTok},
		Feed:     reconcile.WebsocketFeed("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/presence", bobTok),
		Interval: a.Config.PollInterval,
		OnChange: seen.set,
	}
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-loopDone
	})

	require.Eventually(t, seen.polled, 2*time.Second, 10*time.Millisecond)

	resp := post(t, srv, aliceTok, "/api/rooms/create", types.CreateRoomRequest{GameID: "chess"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.RoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.RoomCode)

	require.Eventually(t, func() bool {
		rec := seen.friend("alice")
		return rec.Activity.Kind == types.KindHosting && rec.Activity.RoomID == created.Room.ID
	}, 2*time.Second, 10*time.Millisecond)

	var bobRooms []types.Room
	get(t, srv, bobTok, "/api/rooms/friends-active", &bobRooms)
	require.Len(t, bobRooms, 1)
	assert.Equal(t, created.RoomCode, bobRooms[0].RoomCode)
	assert.Equal(t, "alice", bobRooms[0].Host.ID)

	var carolRooms []types.Room
	get(t, srv, carolTok, "/api/rooms/friends-active", &carolRooms)
	assert.Empty(t, carolRooms)

	resp = post(t, srv, bobTok, "/api/rooms/join", types.JoinRoomRequest{RoomCode: strings.ToLower(created.RoomCode)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv, aliceTok, "/api/rooms/"+created.Room.ID+"/close", struct{}{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return seen.friend("alice").Activity.Kind == types.KindIdle
	}, 2*time.Second, 10*time.Millisecond)

	bobRooms = nil
	get(t, srv, bobTok, "/api/rooms/friends-active", &bobRooms)
	assert.Empty(t, bobRooms)
}

// startInstance runs one server instance against a shared redis.
func startInstance(t *testing.T, mr *miniredis.Miniredis, id string) (*App, *httptest.Server) {
	t.Helper()
	cfg := testConfig()
	cfg.InstanceID = id
	cfg.RedisAddr = mr.Addr()
	cfg.RedisChannel = "test:presence"
	cfg.RedisKeyPrefix = "test:"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.Relay)

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = a.Relay.Run(ctx, a.Broadcaster.Deliver)
	}()
	t.Cleanup(func() {
		cancel()
		<-relayDone
		_ = a.Close()
	})

	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)
	return a, srv
}

func TestApp_InstancesShareActivity(t *testing.T) {
	mr := miniredis.RunT(t)
	a, srvA := startInstance(t, mr, "instance-a")
	_, srvB := startInstance(t, mr, "instance-b")
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("test:presence")["test:presence"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	aliceTok, bobTok := token(t, a, "alice"), token(t, a, "bob")

	// bob watches through instance A
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	deltas, release, err := reconcile.DialFeed(ctx, "ws"+strings.TrimPrefix(srvA.URL, "http")+"/ws/presence", bobTok)
	require.NoError(t, err)
	defer release()

	// alice reports through instance B
	resp := post(t, srvB, aliceTok, "/api/presence/playing", types.StartPlayingRequest{GameID: "chess"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first types.Delta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	assert.Equal(t, uint64(1), first.Seq)

	select {
	case d := <-deltas:
		assert.Equal(t, "alice", d.UserID)
		assert.Equal(t, first.Seq, d.Seq)
		assert.Equal(t, first.Activity, d.Activity)
	case <-ctx.Done():
		t.Fatal("delta from instance B never reached instance A")
	}

	// the next write lands on A and continues the same sequence
	resp = post(t, srvA, aliceTok, "/api/presence/idle", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second types.Delta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	assert.Equal(t, uint64(2), second.Seq)

	// either instance answers the poll with the latest record
	for _, srv := range []*httptest.Server{srvA, srvB} {
		var snap types.FriendsSnapshot
		get(t, srv, bobTok, "/api/presence/friends", &snap)
		require.Len(t, snap.Friends, 1)
		assert.Equal(t, "alice", snap.Friends[0].UserID)
		assert.Equal(t, types.KindIdle, snap.Friends[0].Activity.Kind)
		assert.Equal(t, uint64(2), snap.Friends[0].Seq)
	}
}

func TestApp_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, a)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_BadStaticFriends(t *testing.T) {
	cfg := testConfig()
	cfg.StaticFriends = "=bob"
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, a)
}
