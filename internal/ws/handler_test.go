package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/auth"
	"github.com/DoyleJ11/skygames-rooms/internal/broadcast"
	"github.com/DoyleJ11/skygames-rooms/internal/friends"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

type fixture struct {
	url     string
	bc      *broadcast.Broadcaster
	tracker *presence.Tracker
}

func newFixture(t *testing.T, opts ...func(*Handler)) *fixture {
	t.Helper()
	// handler goroutines can outlive the test once the socket is hijacked
	log := zap.NewNop()

	dir := friends.NewStatic()
	dir.Set("alice", "Alice", "bob")
	dir.Set("bob", "Bob", "alice")
	dir.Set("carol", "Carol")

	bc := broadcast.New(context.Background(), broadcast.Options{Friends: dir, Buffer: 8, Logger: log})
	t.Cleanup(bc.Stop)
	tracker := presence.NewTracker(bc, log, presence.WithFriends(dir))

	h := &Handler{Broadcaster: bc, Presence: tracker, Log: log}
	for _, o := range opts {
		o(h)
	}
	// stand-in for the JWT middleware: ?user= becomes the caller
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), r.URL.Query().Get("user"))))
	}))
	t.Cleanup(srv.Close)

	return &fixture{url: "ws" + strings.TrimPrefix(srv.URL, "http"), bc: bc, tracker: tracker}
}

func (f *fixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.url+"?user="+user, nil)
	require.NoError(t, err)
	// the subscription is registered before the upgrade completes
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m types.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	return m
}

func TestHandler_PushesFriendDeltas(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "bob")

	_, err := f.tracker.StartPlaying(context.Background(), "alice", "G1")
	require.NoError(t, err)

	m := readMsg(t, conn)
	assert.Equal(t, types.MsgActivityUpdate, m.Type)
	require.NotNil(t, m.Delta)
	assert.Equal(t, "alice", m.Delta.UserID)
	assert.Equal(t, types.Activity{Kind: types.KindPlaying, GameID: "G1"}, m.Delta.Activity)
	assert.Equal(t, uint64(1), m.Delta.Seq)
}

func TestHandler_NonFriendReceivesNothing(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "carol")

	_, err := f.tracker.StartPlaying(context.Background(), "alice", "G1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var m types.ServerMessage
	err = wsjson.Read(ctx, conn, &m)
	assert.Error(t, err, "carol must not receive alice's delta, got %+v", m)
}

func TestHandler_ClientReportsPlaying(t *testing.T) {
	f := newFixture(t)
	bobConn := f.dial(t, "bob")
	aliceConn := f.dial(t, "alice")

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, aliceConn, types.ClientMessage{Type: types.MsgStartPlaying, GameID: "G3"}))

	m := readMsg(t, bobConn)
	require.NotNil(t, m.Delta)
	assert.Equal(t, types.Activity{Kind: types.KindPlaying, GameID: "G3"}, m.Delta.Activity)

	require.NoError(t, wsjson.Write(ctx, aliceConn, types.ClientMessage{Type: "dance"}))
	errMsg := readMsg(t, aliceConn)
	assert.Equal(t, types.MsgError, errMsg.Type)

	// alice disconnecting clears the activity her socket declared
	require.NoError(t, aliceConn.Close(websocket.StatusNormalClosure, ""))
	m = readMsg(t, bobConn)
	require.NotNil(t, m.Delta)
	assert.Equal(t, types.KindIdle, m.Delta.Activity.Kind)
	assert.Equal(t, uint64(2), m.Delta.Seq)
}

func TestHandler_ReleasesSubscriptionOnClose(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "bob")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		n, err := f.bc.Subscribers(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

type countingRenewer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRenewer) RenewHostedRooms(_ context.Context, hostID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[hostID]++
	return 1, nil
}

func (c *countingRenewer) count(hostID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[hostID]
}

func TestHandler_PingRenewsHostedRooms(t *testing.T) {
	renewer := &countingRenewer{calls: map[string]int{}}
	f := newFixture(t, func(h *Handler) {
		h.Rooms = renewer
		h.PingInterval = 20 * time.Millisecond
	})
	conn := f.dial(t, "alice")
	// pongs are only answered while the client reads
	conn.CloseRead(context.Background())

	require.Eventually(t, func() bool { return renewer.count("alice") >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, renewer.count("bob"))
}

func TestHandler_RejectsAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginPatterns(t *testing.T) {
	got := OriginPatterns([]string{"http://localhost:3000", "https://app.example.com/", "*.example.org"})
	assert.Equal(t, []string{"localhost:3000", "app.example.com", "*.example.org"}, got)
}
