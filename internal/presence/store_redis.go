package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares records between server instances. Each user's Seq is an
// INCR counter written in the same MULTI as the activity hash field.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "skygames:"
	}
	return &RedisStore{rdb: rdb, prefix: keyPrefix}
}

func (s *RedisStore) seqKey(userID string) string {
	return s.prefix + "presence:seq:" + userID
}

func (s *RedisStore) activityKey() string {
	return s.prefix + "presence:activity"
}

type storedActivity struct {
	Activity  Activity  `json:"activity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *RedisStore) Put(ctx context.Context, userID string, a Activity, at time.Time) (Record, error) {
	raw, err := json.Marshal(storedActivity{Activity: a, UpdatedAt: at})
	if err != nil {
		return Record{}, fmt.Errorf("redis: marshal activity of %s: %w", userID, err)
	}

	var seq *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		seq = pipe.Incr(ctx, s.seqKey(userID))
		pipe.HSet(ctx, s.activityKey(), userID, raw)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("redis: put activity of %s: %w", userID, err)
	}
	return Record{UserID: userID, Activity: a, UpdatedAt: at, Seq: uint64(seq.Val())}, nil
}

func (s *RedisStore) Get(ctx context.Context, userIDs ...string) (map[string]Record, error) {
	out := make(map[string]Record, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = s.seqKey(id)
	}

	var seqs, acts *redis.SliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		seqs = pipe.MGet(ctx, keys...)
		acts = pipe.HMGet(ctx, s.activityKey(), userIDs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: get activity of %d users: %w", len(userIDs), err)
	}

	for i, id := range userIDs {
		rawSeq, ok := seqs.Val()[i].(string)
		if !ok {
			continue
		}
		rawAct, ok := acts.Val()[i].(string)
		if !ok {
			continue
		}
		seq, err := strconv.ParseUint(rawSeq, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: parse seq of %s: %w", id, err)
		}
		var sa storedActivity
		if err := json.Unmarshal([]byte(rawAct), &sa); err != nil {
			return nil, fmt.Errorf("redis: decode activity of %s: %w", id, err)
		}
		out[id] = Record{UserID: id, Activity: sa.Activity, UpdatedAt: sa.UpdatedAt, Seq: seq}
	}
	return out, nil
}
