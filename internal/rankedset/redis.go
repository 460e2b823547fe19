package rankedset

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis stores the set as a sorted set plus a hash of payloads under <key>:payload.
// Writes touching both keys go through MULTI so readers never see one without the other.
type Redis struct {
	client     redis.UniversalClient
	key        string
	payloadKey string
	order      Order
}

// NewRedis binds a set to key. The same key must always be opened with the same order.
func NewRedis(client redis.UniversalClient, key string, order Order) *Redis {
	return &Redis{
		client:     client,
		key:        key,
		payloadKey: key + ":payload",
		order:      order,
	}
}

func (s *Redis) Add(ctx context.Context, m Member) error {
	if m.ID == "" {
		return ErrEmptyID
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.key, &redis.Z{Score: m.Score, Member: m.ID})
		if m.Payload != "" {
			pipe.HSet(ctx, s.payloadKey, m.ID, m.Payload)
		} else {
			pipe.HDel(ctx, s.payloadKey, m.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rankedset %s: add %s: %w", s.key, m.ID, err)
	}
	return nil
}

func (s *Redis) UpdateScore(ctx context.Context, id string, score float64) (bool, error) {
	changed, err := s.client.ZAddArgs(ctx, s.key, redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: score, Member: id}},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("rankedset %s: update %s: %w", s.key, id, err)
	}
	return changed > 0, nil
}

func (s *Redis) Remove(ctx context.Context, id string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.key, id)
		pipe.HDel(ctx, s.payloadKey, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rankedset %s: remove %s: %w", s.key, id, err)
	}
	return removed.Val() > 0, nil
}

func (s *Redis) Get(ctx context.Context, id string) (Member, bool, error) {
	score, err := s.client.ZScore(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("rankedset %s: score %s: %w", s.key, id, err)
	}
	payload, err := s.client.HGet(ctx, s.payloadKey, id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Member{}, false, fmt.Errorf("rankedset %s: payload %s: %w", s.key, id, err)
	}
	return Member{ID: id, Score: score, Payload: payload}, true, nil
}

func (s *Redis) Top(ctx context.Context, n int) ([]Member, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	var (
		zs  []redis.Z
		err error
	)
	if s.order == Descending {
		zs, err = s.client.ZRevRangeWithScores(ctx, s.key, 0, stop).Result()
	} else {
		zs, err = s.client.ZRangeWithScores(ctx, s.key, 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("rankedset %s: top: %w", s.key, err)
	}
	return s.withPayloads(ctx, zs)
}

func (s *Redis) RangeByScore(ctx context.Context, min, max float64) ([]Member, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("rankedset %s: range: %w", s.key, err)
	}
	return s.withPayloads(ctx, zs)
}

func (s *Redis) Len(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("rankedset %s: len: %w", s.key, err)
	}
	return n, nil
}

func (s *Redis) withPayloads(ctx context.Context, zs []redis.Z) ([]Member, error) {
	if len(zs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i] = fmt.Sprint(z.Member)
	}
	payloads, err := s.client.HMGet(ctx, s.payloadKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("rankedset %s: payloads: %w", s.key, err)
	}
	out := make([]Member, len(zs))
	for i, z := range zs {
		out[i] = Member{ID: ids[i], Score: z.Score}
		if i < len(payloads) {
			if p, ok := payloads[i].(string); ok {
				out[i].Payload = p
			}
		}
	}
	return out, nil
}
