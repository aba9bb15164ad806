package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "typing"
	indexKeySuffix   = "index"
)

// evictScript pops every expired member of the index in one step so two
// service instances never report the same eviction.
var evictScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #expired > 0 then
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return expired
`)

// RedisStore keeps one sorted set per conversation, scored by expiry in
// unix milliseconds, plus a global index used for eviction.
type RedisStore struct {
	cli    redis.UniversalClient
	prefix string
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	Database int
	Timeout  time.Duration
}

// NewRedisClient builds a client for the presence store.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis: missing addr")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.Database,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}), nil
}

// NewRedisStore wraps cli. An empty prefix uses "typing".
func NewRedisStore(cli redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{cli: cli, prefix: prefix}
}

func (s *RedisStore) conversationKey(conversationID int64) string {
	return s.prefix + ":" + strconv.FormatInt(conversationID, 10)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":" + indexKeySuffix
}

func indexMember(conversationID, userID int64) string {
	return strconv.FormatInt(conversationID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func parseIndexMember(member string) (Entry, error) {
	conv, user, ok := strings.Cut(member, ":")
	if !ok {
		return Entry{}, fmt.Errorf("redis: malformed typing index member %q", member)
	}
	conversationID, err := strconv.ParseInt(conv, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("redis: malformed typing index member %q: %w", member, err)
	}
	userID, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("redis: malformed typing index member %q: %w", member, err)
	}
	return Entry{ConversationID: conversationID, UserID: userID}, nil
}

func (s *RedisStore) Touch(ctx context.Context, conversationID, userID int64, now time.Time, ttl time.Duration) (bool, error) {
	key := s.conversationKey(conversationID)
	member := strconv.FormatInt(userID, 10)
	expiresAt := float64(now.Add(ttl).UnixMilli())

	var prev *redis.FloatCmd
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.ZScore(ctx, key, member)
		pipe.ZAdd(ctx, key, redis.Z{Score: expiresAt, Member: member})
		pipe.Expire(ctx, key, 2*ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: expiresAt, Member: indexMember(conversationID, userID)})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	score, err := prev.Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return score <= float64(now.UnixMilli()), nil
}

func (s *RedisStore) Clear(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	key := s.conversationKey(conversationID)
	member := strconv.FormatInt(userID, 10)

	var prev *redis.FloatCmd
	_, err := s.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.ZScore(ctx, key, member)
		pipe.ZRem(ctx, key, member)
		pipe.ZRem(ctx, s.indexKey(), indexMember(conversationID, userID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	score, err := prev.Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return score > float64(now.UnixMilli()), nil
}

func (s *RedisStore) Active(ctx context.Context, conversationID int64, now time.Time) ([]int64, error) {
	members, err := s.cli.ZRangeByScore(ctx, s.conversationKey(conversationID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	users := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

func (s *RedisStore) Evict(ctx context.Context, now time.Time) ([]Entry, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	members, err := evictScript.Run(ctx, s.cli, []string{s.indexKey()}, cutoff).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	entries := make([]Entry, 0, len(members))
	touched := make(map[int64]struct{})
	for _, m := range members {
		entry, err := parseIndexMember(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
		touched[entry.ConversationID] = struct{}{}
	}

	pipe := s.cli.Pipeline()
	for conversationID := range touched {
		pipe.ZRemRangeByScore(ctx, s.conversationKey(conversationID), "-inf", cutoff)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return entries, err
	}
	return entries, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx).Err()
}
