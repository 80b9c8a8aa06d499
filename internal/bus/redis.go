package bus

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

// Default settings for RedisBackend.
const (
	DefaultRedisPrefix   = "sprintfleet"
	DefaultRedisTrimSize = 1000
)

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	// Prefix namespaces every key. Processes sharing a bus use the same prefix.
	Prefix string
	// TrimSize bounds each inbox and channel list. Older entries are lost.
	TrimSize int
	// MaxHistory bounds the global history list.
	MaxHistory int
}

// RedisBackend stores inboxes and history as Redis lists so several
// processes can share one bus. Every list is written with LPUSH followed by
// LTRIM 0..N-1, so the newest entry is at the head and readers reverse
// LRANGE results to get chronological order. Entries pushed past the trim
// size are dropped permanently, including unread inbox messages.
//
// Key layout:
//
//	{prefix}:participants      set of registered ids
//	{prefix}:inbox:{id}        inbox list
//	{prefix}:channel:{name}    per-channel history list
//	{prefix}:history           global history list
type RedisBackend struct {
	client     redis.UniversalClient
	prefix     string
	trimSize   int64
	maxHistory int64
}

// NewRedisBackend wraps an existing client. The backend owns the client and
// closes it on Close.
func NewRedisBackend(client redis.UniversalClient, cfg RedisConfig) *RedisBackend {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.TrimSize <= 0 {
		cfg.TrimSize = DefaultRedisTrimSize
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	return &RedisBackend{
		client:     client,
		prefix:     cfg.Prefix,
		trimSize:   int64(cfg.TrimSize),
		maxHistory: int64(cfg.MaxHistory),
	}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisBackend(client, cfg), nil
}

func (r *RedisBackend) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// createInbox adds ARGV[1] to the participant set KEYS[1] and clears its
// stale inbox KEYS[2]. It returns 0 without touching the inbox when the id
// is already a member.
var createInbox = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("DEL", KEYS[2])
return 1
`)

// CreateInbox implements Backend. Registration is atomic across processes:
// an id held by another process is rejected and its queue left intact.
func (r *RedisBackend) CreateInbox(ctx context.Context, id string) error {
	added, err := createInbox.Run(ctx, r.client,
		[]string{r.key("participants"), r.key("inbox", id)}, id).Int()
	if err != nil {
		return fmt.Errorf("create inbox %q: %w", id, err)
	}
	if added == 0 {
		return errors.NewAlreadyExistsError("participant", id).WithSentinel(errors.ErrAlreadyRegistered)
	}
	return nil
}

// DeleteInbox implements Backend.
func (r *RedisBackend) DeleteInbox(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key("inbox", id))
		pipe.SRem(ctx, r.key("participants"), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete inbox %q: %w", id, err)
	}
	return nil
}

// Push implements Backend.
func (r *RedisBackend) Push(ctx context.Context, id string, msg Message) error {
	if err := r.pushTrim(ctx, r.key("inbox", id), r.trimSize, msg); err != nil {
		return fmt.Errorf("push to inbox %q: %w", id, err)
	}
	return nil
}

func (r *RedisBackend) pushTrim(ctx context.Context, key string, size int64, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, size-1)
		return nil
	})
	return err
}

// Pop implements Backend. The oldest entry is at the tail of the list.
func (r *RedisBackend) Pop(ctx context.Context, id string) (Message, bool, error) {
	data, err := r.client.RPop(ctx, r.key("inbox", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("pop inbox %q: %w", id, err)
	}
	msg, err := Decode(data)
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// Len implements Backend.
func (r *RedisBackend) Len(ctx context.Context, id string) (int, error) {
	n, err := r.client.LLen(ctx, r.key("inbox", id)).Result()
	if err != nil {
		return 0, fmt.Errorf("inbox length %q: %w", id, err)
	}
	return int(n), nil
}

// AppendHistory implements Backend.
func (r *RedisBackend) AppendHistory(ctx context.Context, msg Message) error {
	if err := r.pushTrim(ctx, r.key("history"), r.maxHistory, msg); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if msg.Channel != "" {
		if err := r.pushTrim(ctx, r.key("channel", msg.Channel), r.trimSize, msg); err != nil {
			return fmt.Errorf("append channel history %q: %w", msg.Channel, err)
		}
	}
	return nil
}

// History implements Backend.
func (r *RedisBackend) History(ctx context.Context, limit int, channel string) ([]Message, error) {
	key := r.key("history")
	if channel != "" {
		key = r.key("channel", channel)
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := r.client.LRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		msg, err := Decode([]byte(item))
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	slices.Reverse(out)
	return out, nil
}

// IsRegistered implements Backend. It sees ids registered by any process
// sharing the prefix.
func (r *RedisBackend) IsRegistered(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key("participants"), id).Result()
	if err != nil {
		return false, fmt.Errorf("lookup participant %q: %w", id, err)
	}
	return ok, nil
}

// Participants implements Backend. It returns the ids registered by any
// process sharing the prefix.
func (r *RedisBackend) Participants(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.key("participants")).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
