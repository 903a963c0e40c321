package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/pkg/types"
)

type Poller interface {
	Poll(ctx context.Context) (types.FriendsSnapshot, error)
}

// FeedFunc opens a push feed. release must be called exactly once; the
// returned channel is closed when the feed ends.
type FeedFunc func(ctx context.Context) (deltas <-chan types.Delta, release func(), err error)

type Loop struct {
	View     *View
	Poller   Poller
	Feed     FeedFunc // optional; nil runs on polls alone
	Interval time.Duration
	OnChange func(Projection)
	Now      func() time.Time
	Log      *zap.Logger
}

// Run polls immediately and then every Interval, applying pushes in between,
// until ctx is done. The feed is always released before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.View == nil || l.Poller == nil {
		return fmt.Errorf("reconcile: view and poller are required")
	}
	if l.Interval <= 0 {
		l.Interval = 8 * time.Second
	}
	if l.Now == nil {
		l.Now = time.Now
	}
	if l.Log == nil {
		l.Log = zap.NewNop()
	}

	var (
		deltas  <-chan types.Delta
		release = func() {}
	)
	defer func() { release() }()

	openFeed := func() {
		if l.Feed == nil {
			return
		}
		ch, rel, err := l.Feed(ctx)
		if err != nil {
			l.Log.Debug("feed unavailable, polling only", zap.Error(err))
			return
		}
		deltas, release = ch, rel
	}

	openFeed()
	l.pollOnce(ctx)

	t := time.NewTicker(l.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-t.C:
			if deltas == nil {
				release()
				release = func() {}
				openFeed()
			}
			l.pollOnce(ctx)

		case d, ok := <-deltas:
			if !ok {
				// feed ended; keep polling and retry it on the next tick
				deltas = nil
				continue
			}
			if l.View.ApplyDelta(d) {
				l.changed()
			}
		}
	}
}

// pollOnce never fails the loop: errors and panics from the poller skip the cycle.
func (l *Loop) pollOnce(ctx context.Context) {
	snap, err := l.safePoll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.Log.Warn("poll failed, keeping last view", zap.Error(err))
		}
		return
	}
	l.View.ApplySnapshot(snap, l.Now())
	l.changed()
}

func (l *Loop) safePoll(ctx context.Context) (snap types.FriendsSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()
	return l.Poller.Poll(ctx)
}

func (l *Loop) changed() {
	if l.OnChange != nil {
		l.OnChange(l.View.Snapshot())
	}
}
