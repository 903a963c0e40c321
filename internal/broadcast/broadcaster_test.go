package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/skygames-rooms/internal/presence"
)

type friendMap map[string][]string

func (f friendMap) Friends(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

// helper: receive one delta with a timeout so tests never hang
func recvDelta(t *testing.T, ch <-chan presence.Delta, within time.Duration) presence.Delta {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatalf("feed closed unexpectedly")
		}
		return d
	case <-time.After(within):
		t.Fatalf("timed out waiting for delta")
		return presence.Delta{}
	}
}

func recvNoDelta(t *testing.T, ch <-chan presence.Delta, within time.Duration) {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no delta within %v, got %+v", within, d)
	case <-time.After(within):
	}
}

func waitClosed(t *testing.T, ch <-chan presence.Delta, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("feed not closed within %v", within)
		}
	}
}

func newTestBroadcaster(t *testing.T, friends friendMap, buffer int) *Broadcaster {
	t.Helper()
	b := New(context.Background(), Options{Friends: friends, Buffer: buffer, Logger: zaptest.NewLogger(t)})
	t.Cleanup(b.Stop)
	return b
}

func delta(user string, seq uint64, game string) presence.Delta {
	return presence.Delta{UserID: user, Activity: presence.Playing(game), Seq: seq, At: time.Now()}
}

func TestBroadcaster_FriendsOnly(t *testing.T) {
	b := newTestBroadcaster(t, friendMap{"B": {"A"}, "C": {"D"}}, 8)
	ctx := context.Background()

	subB, err := b.Subscribe(ctx, "B")
	require.NoError(t, err)
	subC, err := b.Subscribe(ctx, "C")
	require.NoError(t, err)

	b.Publish(delta("A", 1, "G1"))

	got := recvDelta(t, subB.C, time.Second)
	assert.Equal(t, "A", got.UserID)
	assert.Equal(t, uint64(1), got.Seq)

	recvNoDelta(t, subC.C, 50*time.Millisecond)
}

func TestBroadcaster_PreservesPerUserOrder(t *testing.T) {
	b := newTestBroadcaster(t, friendMap{"B": {"A"}}, 128)
	sub, err := b.Subscribe(context.Background(), "B")
	require.NoError(t, err)

	for seq := uint64(1); seq <= 100; seq++ {
		b.Publish(delta("A", seq, "G"))
	}
	for want := uint64(1); want <= 100; want++ {
		assert.Equal(t, want, recvDelta(t, sub.C, time.Second).Seq)
	}
}

func TestBroadcaster_SlowSubscriberIsDropped(t *testing.T) {
	b := newTestBroadcaster(t, friendMap{"slow": {"A"}, "fast": {"A"}}, 2)
	ctx := context.Background()

	slow, err := b.Subscribe(ctx, "slow")
	require.NoError(t, err)
	fast, err := b.Subscribe(ctx, "fast")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var received []uint64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := range fast.C {
			received = append(received, d.Seq)
			if d.Seq == 5 {
				return
			}
		}
	}()

	for seq := uint64(1); seq <= 5; seq++ {
		b.Publish(delta("A", seq, "G"))
		// give the fast reader a chance to drain between publishes
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, received)

	waitClosed(t, slow.C, time.Second)

	require.Eventually(t, func() bool {
		n, err := b.Subscribers(ctx)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	// closing a dropped subscription is harmless
	slow.Close()
	b.Unsubscribe(slow)
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := newTestBroadcaster(t, friendMap{"B": {"A"}}, 4)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "B")
	require.NoError(t, err)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	sub.Close()
	waitClosed(t, sub.C, time.Second)

	n, err := b.Subscribers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	b.Unsubscribe(nil)
}

func TestBroadcaster_StopClosesFeeds(t *testing.T) {
	b := New(context.Background(), Options{Friends: friendMap{"B": {"A"}}, Logger: zaptest.NewLogger(t)})
	sub, err := b.Subscribe(context.Background(), "B")
	require.NoError(t, err)

	b.Stop()
	waitClosed(t, sub.C, time.Second)

	sub.Close()
	b.Publish(delta("A", 1, "G"))

	_, err = b.Subscribe(context.Background(), "B")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBroadcaster_SubscribeRequiresUser(t *testing.T) {
	b := newTestBroadcaster(t, nil, 4)
	_, err := b.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, presence.ErrNotAuthenticated)
}

type captureForwarder struct {
	mu  sync.Mutex
	got []presence.Delta
}

func (f *captureForwarder) Forward(d presence.Delta) {
	f.mu.Lock()
	f.got = append(f.got, d)
	f.mu.Unlock()
}

func (f *captureForwarder) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func TestBroadcaster_ForwardsLocalDeltasOnly(t *testing.T) {
	b := newTestBroadcaster(t, friendMap{"B": {"A"}}, 8)
	fwd := &captureForwarder{}
	b.SetForwarder(fwd)

	sub, err := b.Subscribe(context.Background(), "B")
	require.NoError(t, err)

	b.Publish(delta("A", 1, "G1"))
	b.Deliver(delta("A", 2, "G2"))

	assert.Equal(t, uint64(1), recvDelta(t, sub.C, time.Second).Seq)
	assert.Equal(t, uint64(2), recvDelta(t, sub.C, time.Second).Seq)
	assert.Equal(t, 1, fwd.len())
}

func TestRelayEnvelope(t *testing.T) {
	d := delta("A", 7, "G1")

	raw, err := encodeEnvelope("node-1", d)
	require.NoError(t, err)

	_, ok := decodeEnvelope("node-1", raw)
	assert.False(t, ok, "own messages are skipped")

	got, ok := decodeEnvelope("node-2", raw)
	require.True(t, ok)
	assert.Equal(t, d.UserID, got.UserID)
	assert.Equal(t, d.Seq, got.Seq)
	assert.Equal(t, d.Activity, got.Activity)

	_, ok = decodeEnvelope("node-2", []byte("not json"))
	assert.False(t, ok)
}
