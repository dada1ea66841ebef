package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript creates the bucket on first use, decrements while positive and
// never drives it below zero. It returns {allowed, remaining, pttl}.
var consumeScript = redis.NewScript(`
local points = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cur = redis.call('GET', KEYS[1])
if not cur then
  redis.call('SET', KEYS[1], points - 1, 'PX', window)
  return {1, points - 1, window}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
if tonumber(cur) > 0 then
  local left = redis.call('DECR', KEYS[1])
  return {1, left, ttl}
end
return {0, 0, ttl}
`)

const scanBatch = 100

// Redis is a Client backed by a single Redis deployment.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedis wraps an existing go-redis client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

// Connect builds a client from a redis:// URL or a plain host:port and
// verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*Redis, error) {
	var opt *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: redisURL}
	}
	r := NewRedis(redis.NewClient(opt))
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return unavailable(r.rdb.Set(ctx, key, val, ttl).Err())
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.rdb.Del(ctx, keys...).Result()
	return n, unavailable(err)
}

// DelPattern walks the keyspace with SCAN and deletes each page of matches,
// so it never blocks the server the way KEYS would.
func (r *Redis) DelPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, unavailable(err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, unavailable(err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (r *Redis) Consume(ctx context.Context, key string, points int, window time.Duration) (Consumption, error) {
	res, err := consumeScript.Run(ctx, r.rdb, []string{key}, points, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Consumption{}, unavailable(err)
	}
	if len(res) != 3 {
		return Consumption{}, unavailable(fmt.Errorf("consume: unexpected reply %v", res))
	}
	return Consumption{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   r.now().Add(time.Duration(res[2]) * time.Millisecond),
	}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return unavailable(r.rdb.Publish(ctx, channel, payload).Err())
}

// Subscribe waits for the server to confirm the subscription before
// returning, so a publish issued right after cannot be missed.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable(err)
	}
	sub := &redisSub{ps: ps, out: make(chan Message, 64), done: make(chan struct{})}
	go sub.pump(ps.Channel())
	return sub, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return unavailable(r.rdb.Ping(ctx).Err())
}

func (r *Redis) Close() error { return r.rdb.Close() }

type redisSub struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for m := range in {
		select {
		case s.out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Messages() <-chan Message { return s.out }

func (s *redisSub) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}
