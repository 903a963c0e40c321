package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skygames-rooms/internal/metrics"
	"github.com/DoyleJ11/skygames-rooms/internal/presence"
)

// envelope is the payload published on the relay channel.
type envelope struct {
	Origin string         `json:"origin"`
	Delta  presence.Delta `json:"delta"`
}

func encodeEnvelope(origin string, d presence.Delta) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Delta: d})
}

// decodeEnvelope returns ok=false for malformed payloads and for our own messages.
func decodeEnvelope(self string, raw []byte) (presence.Delta, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return presence.Delta{}, false
	}
	if env.Origin == self || env.Delta.UserID == "" {
		return presence.Delta{}, false
	}
	return env.Delta, true
}

// RedisRelay shares deltas between server instances over a redis pub/sub channel.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	out     chan presence.Delta
	log     *zap.Logger
	metrics *metrics.Metrics
}

type RelayConfig struct {
	Channel string
	Origin  string // instance id, used to skip our own messages
}

// DialRedis connects to redis and verifies connectivity.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// NewRedisRelay publishes over rdb. The caller owns and closes the client.
func NewRedisRelay(rdb *redis.Client, cfg RelayConfig, log *zap.Logger, m *metrics.Metrics) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		rdb:     rdb,
		channel: cfg.Channel,
		origin:  cfg.Origin,
		out:     make(chan presence.Delta, 256),
		log:     log.Named("relay"),
		metrics: m,
	}
}

// Forward queues d for publication. A full queue drops the delta.
func (r *RedisRelay) Forward(d presence.Delta) {
	select {
	case r.out <- d:
	default:
		r.metrics.RelayError()
		r.log.Warn("relay queue full, dropping delta", zap.String("user_id", d.UserID))
	}
}

// Run publishes forwarded deltas and hands remote ones to deliver until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, deliver func(presence.Delta)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting ready
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	in := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d := <-r.out:
			raw, err := encodeEnvelope(r.origin, d)
			if err != nil {
				r.metrics.RelayError()
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
				r.metrics.RelayError()
				r.log.Warn("relay publish failed", zap.Error(err))
			}

		case m, ok := <-in:
			if !ok {
				return errors.New("redis relay channel closed")
			}
			if d, ok := decodeEnvelope(r.origin, []byte(m.Payload)); ok {
				deliver(d)
			}
		}
	}
}
