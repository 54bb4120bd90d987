package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// saveScript replaces the checkpoint hash only when the stored sequence is
// not newer, then refreshes the TTL and the thread index.
//
// KEYS[1] checkpoint hash, KEYS[2] index zset
// ARGV[1] sequence, ARGV[2] encoded checkpoint, ARGV[3] ttl ms, ARGV[4] score, ARGV[5] thread id
var saveScript = backend.NewScript(`
local cur = redis.call("HGET", KEYS[1], "sequence")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "sequence", ARGV[1], "data", ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[5])
return 1
`)

// RedisStore persists checkpoints in Redis hashes, one per thread, with a
// sorted-set index for List.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the expiration for thread checkpoints. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to addr and returns a store.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "convograph:checkpoint:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	score := float64(time.Now().Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = 4102444800 // 2100-01-01
	}

	applied, err := saveScript.Run(ctx, s.client,
		[]string{s.key(cp.ThreadID), s.indexKey()},
		cp.Sequence, data, s.ttl.Milliseconds(), score, cp.ThreadID,
	).Int()
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if applied == 0 {
		return ErrStaleSequence
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	val, err := s.client.HGet(ctx, s.key(threadID), "data").Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := Unmarshal(val)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store. Index entries whose TTL has passed are pruned first.
func (s *RedisStore) List(ctx context.Context) ([]Info, error) {
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("prune checkpoint index: %w", err)
	}

	threads, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(threads))
	for _, threadID := range threads {
		cp, err := s.Load(ctx, threadID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, cp.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ThreadID < infos[j].ThreadID
	})
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
