package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

const (
	entryKeyPrefix = "abdm:corr:"
	deadlineSetKey = "abdm:corr:deadlines"
)

// RedisStore shares correlation state across instances so a callback can be
// resolved by any instance, not only the one that originated the request.
// Entries are stored as JSON values alongside a sorted set scored by deadline
// for sweeping.
type RedisStore struct {
	client *redis.Client
	newID  func() domain.RequestID
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		newID:  domain.NewRequestID,
		now:    time.Now,
	}
}

type redisEntry struct {
	ProtocolID string    `json:"protocolId"`
	Kind       string    `json:"kind"`
	Owner      string    `json:"owner"`
	CreatedAt  time.Time `json:"createdAt"`
	Deadline   time.Time `json:"deadline"`
}

func (s *RedisStore) Allocate(ctx context.Context, kind Kind, owner string, deadline time.Time) (domain.RequestID, error) {
	id := s.newID()
	if owner == "" {
		owner = id.String()
	}
	payload, err := json.Marshal(redisEntry{
		ProtocolID: id.String(),
		Kind:       string(kind),
		Owner:      owner,
		CreatedAt:  s.now().UTC(),
		Deadline:   deadline.UTC(),
	})
	if err != nil {
		return "", err
	}
	// SETNX guards the uniqueness invariant; a collision on a fresh UUID
	// means another instance allocated the same token, so fail loudly.
	ok, err := s.client.SetNX(ctx, entryKeyPrefix+id.String(), payload, 0).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sentinel.ErrConflict
	}
	if err := s.client.ZAdd(ctx, deadlineSetKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: id.String(),
	}).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Resolve(ctx context.Context, id domain.RequestID) (Entry, error) {
	raw, err := s.client.Get(ctx, entryKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return Entry{
		ProtocolID: domain.RequestID(e.ProtocolID),
		Kind:       Kind(e.Kind),
		Owner:      e.Owner,
		CreatedAt:  e.CreatedAt,
		Deadline:   e.Deadline,
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, id domain.RequestID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKeyPrefix+id.String())
	pipe.ZRem(ctx, deadlineSetKey, id.String())
	_, err := pipe.Exec(ctx)
	return err
}

// SweepExpired claims expired members with ZPOPMIN style removal so that two
// sweeping instances never deliver the same expiry twice.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	ids, err := s.client.ZRangeByScore(ctx, deadlineSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(now),
	}).Result()
	if err != nil {
		return nil, err
	}
	var expired []Entry
	for _, raw := range ids {
		id := domain.RequestID(raw)
		// Only the instance that removes the member from the set owns the
		// expiry delivery.
		removed, err := s.client.ZRem(ctx, deadlineSetKey, raw).Result()
		if err != nil {
			return expired, err
		}
		if removed == 0 {
			continue
		}
		entry, err := s.Resolve(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if err := s.client.Del(ctx, entryKeyPrefix+raw).Err(); err != nil {
			return expired, err
		}
		expired = append(expired, entry)
	}
	return expired, nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
