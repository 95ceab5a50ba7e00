package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

const (
	keyPrefix      = "cart:"
	maxTxRetries   = 10
	defaultSession = 7 * 24 * time.Hour
)

// RedisStore keeps each cart as a JSON array under "cart:<kind>:<id>".
// Session carts expire after SessionTTL; user carts do not expire.
type RedisStore struct {
	client     redis.UniversalClient
	sessionTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, sessionTTL time.Duration) *RedisStore {
	if sessionTTL <= 0 {
		sessionTTL = defaultSession
	}
	return &RedisStore{client: client, sessionTTL: sessionTTL}
}

func cartKey(owner domain.CartOwner) string {
	return keyPrefix + owner.Key()
}

func (s *RedisStore) ttl(owner domain.CartOwner) time.Duration {
	if owner.IsUser() {
		return 0
	}
	return s.sessionTTL
}

func decodeLines(raw []byte) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decoding cart: %w", err)
	}
	return lines, nil
}

func (s *RedisStore) Load(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error) {
	raw, err := s.client.Get(ctx, cartKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cart %s: %w", owner, err)
	}
	return decodeLines(raw)
}

// Update runs fn under WATCH and retries when another writer touched the
// cart between the read and the MULTI/EXEC.
func (s *RedisStore) Update(ctx context.Context, owner domain.CartOwner, fn UpdateFunc) error {
	key := cartKey(owner)

	txf := func(tx *redis.Tx) error {
		var lines []domain.CartLine
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if lines, err = decodeLines(raw); err != nil {
				return err
			}
		}

		next, err := fn(lines)
		if err != nil {
			return err
		}

		var data []byte
		if len(next) > 0 {
			if data, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encoding cart: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(next) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, data, s.ttl(owner))
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("updating cart %s: %w", owner, err)
		}
		return nil
	}
	return fmt.Errorf("updating cart %s: too much contention", owner)
}

func (s *RedisStore) Take(ctx context.Context, owner domain.CartOwner) ([]domain.CartLine, error) {
	raw, err := s.client.GetDel(ctx, cartKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taking cart %s: %w", owner, err)
	}
	return decodeLines(raw)
}

func (s *RedisStore) Delete(ctx context.Context, owner domain.CartOwner) error {
	if err := s.client.Del(ctx, cartKey(owner)).Err(); err != nil {
		return fmt.Errorf("deleting cart %s: %w", owner, err)
	}
	return nil
}
