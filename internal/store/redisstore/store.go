// Package redisstore backs the session store with Redis: the room setup as a
// JSON value, the rolling history as a list. Both keys share one inactivity
// TTL refreshed on every write, so a room's cached state expires as a unit.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaiwa-app/kaiwa/internal/ai"
	"github.com/kaiwa-app/kaiwa/internal/chat"
)

const (
	setupKeyPrefix   = "chatSetup::"
	historyKeyPrefix = "chatHistory::"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) PutSetup(ctx context.Context, roomID string, setup chat.Setup) error {
	b, err := json.Marshal(setup)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, setupKeyPrefix+roomID, b, s.ttl)
	pipe.Expire(ctx, historyKeyPrefix+roomID, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetSetup(ctx context.Context, roomID string) (chat.Setup, error) {
	b, err := s.rdb.Get(ctx, setupKeyPrefix+roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.Setup{}, chat.ErrSetupNotFound
		}
		return chat.Setup{}, err
	}
	var setup chat.Setup
	if err := json.Unmarshal(b, &setup); err != nil {
		return chat.Setup{}, err
	}
	return setup, nil
}

func (s *Store) AppendHistory(ctx context.Context, roomID string, msg ai.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, historyKeyPrefix+roomID, b)
	pipe.Expire(ctx, historyKeyPrefix+roomID, s.ttl)
	pipe.Expire(ctx, setupKeyPrefix+roomID, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetHistory(ctx context.Context, roomID string) ([]ai.Message, error) {
	vals, err := s.rdb.LRange(ctx, historyKeyPrefix+roomID, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	msgs := make([]ai.Message, 0, len(vals))
	for _, v := range vals {
		var m ai.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
