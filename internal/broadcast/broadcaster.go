package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/metrics"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
)

var ErrStopped = errors.New("broadcaster stopped")

type FriendLister interface {
	Friends(ctx context.Context, userID string) ([]string, error)
}

// Forwarder carries locally produced deltas to other instances. Forward must not block.
type Forwarder interface {
	Forward(presence.Delta)
}

type Options struct {
	Friends FriendLister
	Buffer  int // per-subscriber feed capacity
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type msg interface{ isBroadcastMsg() }

type subscribe struct {
	sub   *Subscription
	feed  chan presence.Delta
	Reply chan struct{}
}

type unsubscribe struct{ ID uint64 }

type deliver struct {
	Delta  presence.Delta
	Remote bool
}

type countSubs struct{ Reply chan int }

func (subscribe) isBroadcastMsg()   {}
func (unsubscribe) isBroadcastMsg() {}
func (deliver) isBroadcastMsg()     {}
func (countSubs) isBroadcastMsg()   {}

type subscriber struct {
	userID  string
	friends []string
	feed    chan presence.Delta
}

// Broadcaster fans deltas out to the subscribed friends of the user they concern.
// A single goroutine owns the subscriber table, so every subscriber sees one
// user's deltas in the order they were published.
type Broadcaster struct {
	inbox chan msg
	opts  Options
	log   *zap.Logger

	subs     map[uint64]*subscriber
	watchers map[string]map[uint64]struct{} // watched user id -> subscriber ids
	nextID   atomic.Uint64

	fwdMu sync.RWMutex
	fwd   Forwarder

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, opts Options) *Broadcaster {
	if opts.Buffer <= 0 {
		opts.Buffer = 32
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Broadcaster{
		inbox:    make(chan msg, 256),
		opts:     opts,
		log:      opts.Logger.Named("broadcast"),
		subs:     make(map[uint64]*subscriber),
		watchers: make(map[string]map[uint64]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.loop()
	return b
}

// SetForwarder attaches a relay for cross-instance delivery.
func (b *Broadcaster) SetForwarder(f Forwarder) {
	b.fwdMu.Lock()
	b.fwd = f
	b.fwdMu.Unlock()
}

// Stop ends the loop and closes every open feed.
func (b *Broadcaster) Stop() {
	b.cancel()
	<-b.done
}

// Publish queues a locally produced delta for fan-out. It never blocks; when
// the inbox is full the delta is dropped and clients catch up on their next poll.
func (b *Broadcaster) Publish(d presence.Delta) {
	if b.enqueue(deliver{Delta: d}) {
		b.opts.Metrics.DeltaPublished()
	}
}

// Deliver fans out a delta that arrived from another instance. It is not forwarded again.
func (b *Broadcaster) Deliver(d presence.Delta) {
	b.enqueue(deliver{Delta: d, Remote: true})
}

func (b *Broadcaster) enqueue(m deliver) bool {
	select {
	case <-b.ctx.Done():
		return false
	default:
	}
	select {
	case b.inbox <- m:
		return true
	default:
		b.log.Warn("inbox full, dropping delta",
			zap.String("user_id", m.Delta.UserID), zap.Uint64("seq", m.Delta.Seq))
		return false
	}
}

// Subscribe opens a feed of deltas about userID's friends. The friend set is
// resolved once, here; subscribe again to pick up friend list changes.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, presence.ErrNotAuthenticated
	}
	var friends []string
	if b.opts.Friends != nil {
		var err error
		friends, err = b.opts.Friends.Friends(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list friends of %s: %w", userID, err)
		}
	}

	feed := make(chan presence.Delta, b.opts.Buffer)
	sub := &Subscription{
		ID:      b.nextID.Add(1),
		UserID:  userID,
		C:       feed,
		friends: friends,
		b:       b,
	}
	reply := make(chan struct{})
	m := subscribe{sub: sub, feed: feed, Reply: reply}

	select {
	case b.inbox <- m:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrStopped
	}
	select {
	case <-reply:
		return sub, nil
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrStopped
	}
}

// Unsubscribe releases sub. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// Subscribers reports the number of open feeds.
func (b *Broadcaster) Subscribers(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case b.inbox <- countSubs{Reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-b.ctx.Done():
		return 0, ErrStopped
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-b.ctx.Done():
		return 0, ErrStopped
	}
}

func (b *Broadcaster) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case subscribe:
				b.add(msg.sub.ID, &subscriber{userID: msg.sub.UserID, friends: msg.sub.friends, feed: msg.feed})
				close(msg.Reply)

			case unsubscribe:
				b.remove(msg.ID, false)

			case deliver:
				b.fanOut(msg.Delta)
				if !msg.Remote {
					b.forward(msg.Delta)
				}

			case countSubs:
				msg.Reply <- len(b.subs)
			}
		}
	}
}

func (b *Broadcaster) add(id uint64, s *subscriber) {
	b.subs[id] = s
	for _, f := range s.friends {
		if b.watchers[f] == nil {
			b.watchers[f] = make(map[uint64]struct{})
		}
		b.watchers[f][id] = struct{}{}
	}
	b.opts.Metrics.SubscriberAdded()
	b.log.Debug("subscribed", zap.Uint64("sub_id", id), zap.String("user_id", s.userID), zap.Int("friends", len(s.friends)))
}

// remove closes the feed and forgets the subscriber. Unknown ids are ignored.
func (b *Broadcaster) remove(id uint64, dropped bool) {
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	for _, f := range s.friends {
		if w := b.watchers[f]; w != nil {
			delete(w, id)
			if len(w) == 0 {
				delete(b.watchers, f)
			}
		}
	}
	close(s.feed)
	b.opts.Metrics.SubscriberRemoved(dropped)
	if dropped {
		b.log.Info("dropping slow subscriber", zap.Uint64("sub_id", id), zap.String("user_id", s.userID))
	}
}

func (b *Broadcaster) fanOut(d presence.Delta) {
	for id := range b.watchers[d.UserID] {
		s := b.subs[id]
		select {
		case s.feed <- d:
			b.opts.Metrics.DeltaDelivered()
		default:
			// Subscriber is slow/full - drop them.
			b.remove(id, true)
		}
	}
}

func (b *Broadcaster) forward(d presence.Delta) {
	b.fwdMu.RLock()
	f := b.fwd
	b.fwdMu.RUnlock()
	if f != nil {
		f.Forward(d)
	}
}

func (b *Broadcaster) shutdown() {
	for id := range b.subs {
		b.remove(id, false)
	}
}

// Subscription is one open feed. Read deltas from C until it is closed.
type Subscription struct {
	ID     uint64
	UserID string
	C      <-chan presence.Delta

	friends []string
	b       *Broadcaster
	once    sync.Once
}

// Friends returns the friend set the feed is filtered by.
func (s *Subscription) Friends() []string { return append([]string(nil), s.friends...) }

// Close releases the feed. Safe to call more than once and after the broadcaster stopped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.b.inbox <- unsubscribe{ID: s.ID}:
		case <-s.b.ctx.Done():
		}
	})
}
