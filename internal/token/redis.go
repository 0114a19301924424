package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "authtoken:v1:"
	// Expired tokens stay readable for a while so they are reported as
	// expired rather than unknown.
	defaultRetention = time.Hour
)

// replaceScript deletes the unused tokens indexed under KEYS[1] and stores
// the new token hash at KEYS[2].
var replaceScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, v in ipairs(members) do
  local k = ARGV[1] .. v
  local used = redis.call('HGET', k, 'used')
  if used ~= '1' then
    redis.call('DEL', k)
    redis.call('ZREM', KEYS[1], v)
  end
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2], 'user', ARGV[3], 'payload', ARGV[4], 'expires', ARGV[5], 'created', ARGV[6], 'used', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[7])
redis.call('ZADD', KEYS[1], ARGV[6], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
return 1
`)

// insertScript stores a token hash at KEYS[2] and indexes it under KEYS[1].
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('HSET', KEYS[2], 'user', ARGV[1], 'payload', ARGV[2], 'expires', ARGV[3], 'created', ARGV[4], 'used', '0')
redis.call('PEXPIRE', KEYS[2], ARGV[5])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[6])
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[5]) then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// markUsedScript returns -1 when the token is unknown, 0 when it is used or
// expired at ARGV[1], and 1 when this call flipped the flag.
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local used = redis.call('HGET', KEYS[1], 'used')
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires'))
if used == '1' or expires <= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '1')
return 1
`)

// RedisStore keeps tokens as Redis hashes with a per-(user, kind) sorted
// index ordered by creation time. Timestamps are stored in Unix milliseconds.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore builds a Redis-backed token store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, retention: defaultRetention, now: time.Now}
}

func kindPrefix(kind Kind) string {
	return redisPrefix + "tok:" + string(kind) + ":"
}

func valueKey(kind Kind, value string) string {
	return kindPrefix(kind) + value
}

func indexKey(userID string, kind Kind) string {
	return redisPrefix + "idx:" + userID + ":" + string(kind)
}

func (s *RedisStore) ttl(t Token) int64 {
	ttl := t.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < s.retention {
		ttl = s.retention
	}
	return ttl.Milliseconds()
}

// Replace atomically swaps the unused tokens of t.Kind owned by t.UserID for t.
func (s *RedisStore) Replace(ctx context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	res, err := replaceScript.Run(ctx, s.client,
		[]string{indexKey(t.UserID, t.Kind), valueKey(t.Kind, t.Value)},
		kindPrefix(t.Kind), t.Value, t.UserID, t.Payload,
		t.ExpiresAt.UnixMilli(), t.CreatedAt.UnixMilli(), s.ttl(t),
	).Int()
	if err != nil {
		return fmt.Errorf("replace token: %w", err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// Insert stores t alongside any existing tokens.
func (s *RedisStore) Insert(ctx context.Context, t Token) error {
	if err := checkToken(t); err != nil {
		return err
	}
	res, err := insertScript.Run(ctx, s.client,
		[]string{indexKey(t.UserID, t.Kind), valueKey(t.Kind, t.Value)},
		t.UserID, t.Payload, t.ExpiresAt.UnixMilli(), t.CreatedAt.UnixMilli(), s.ttl(t), t.Value,
	).Int()
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// Latest walks the user's index from newest to oldest and returns the first live token.
func (s *RedisStore) Latest(ctx context.Context, userID string, kind Kind, now time.Time) (Token, error) {
	values, err := s.client.ZRevRange(ctx, indexKey(userID, kind), 0, -1).Result()
	if err != nil {
		return Token{}, fmt.Errorf("read token index: %w", err)
	}
	for _, value := range values {
		t, err := s.Get(ctx, value, kind)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Token{}, err
		}
		if t.Live(now) {
			return t, nil
		}
	}
	return Token{}, ErrNotFound
}

// Get returns the token with value and kind.
func (s *RedisStore) Get(ctx context.Context, value string, kind Kind) (Token, error) {
	fields, err := s.client.HGetAll(ctx, valueKey(kind, value)).Result()
	if err != nil {
		return Token{}, fmt.Errorf("read token: %w", err)
	}
	if len(fields) == 0 {
		return Token{}, ErrNotFound
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("decode token expiry: %w", err)
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("decode token creation: %w", err)
	}
	t := Token{
		Value:     value,
		Kind:      kind,
		UserID:    fields["user"],
		ExpiresAt: time.UnixMilli(expires).UTC(),
		CreatedAt: time.UnixMilli(created).UTC(),
		Used:      fields["used"] == "1",
	}
	if p := fields["payload"]; p != "" {
		t.Payload = []byte(p)
	}
	return t, nil
}

// MarkUsed flips the used flag with a server-side compare-and-swap.
func (s *RedisStore) MarkUsed(ctx context.Context, value string, kind Kind, now time.Time) (Token, error) {
	res, err := markUsedScript.Run(ctx, s.client, []string{valueKey(kind, value)}, now.UnixMilli()).Int()
	if err != nil {
		return Token{}, fmt.Errorf("mark token used: %w", err)
	}
	switch res {
	case -1:
		return Token{}, ErrNotFound
	case 0:
		return Token{}, ErrUnavailable
	}
	return s.Get(ctx, value, kind)
}
