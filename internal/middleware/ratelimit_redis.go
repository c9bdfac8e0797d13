package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はウィンドウログのソート済みセットに付けるキー接頭辞。
const redisKeyPrefix = "dashgate:ratelimit:"

// hitScript はウィンドウ外の削除、件数確認、追加を1回のスクリプト実行で行う。
// Redisはスクリプトを単一で実行するため、同じキーへの同時ヒットが取りこぼされることはない。
//
// KEYS[1] = キー, ARGV = {now(ms), window(ms), max, member}
// 戻り値 = {allowed(0|1), remaining, retryAfter(ms)}
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local retry = 0
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, 0, retry}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, max - count - 1, 0}
`)

// RedisWindowStore はRedisのソート済みセットでヒットログを共有するWindowStore実装。
// 複数プロセスで同じ制限を共有する場合に使う。
type RedisWindowStore struct {
	client redis.UniversalClient
}

// NewRedisWindowStore は新しいRedisWindowStoreを生成する。
func NewRedisWindowStore(client redis.UniversalClient) *RedisWindowStore {
	return &RedisWindowStore{client: client}
}

// Hit はWindowStoreを実装する。スコアはヒット時刻のミリ秒。
// 拒否されたヒットは記録しない。
func (s *RedisWindowStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	res, err := hitScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to record hit for %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("failed to record hit for %s: unexpected reply %v", key, res)
	}

	if res[0] == 0 {
		return Decision{Allowed: false, RetryAfter: time.Duration(res[2]) * time.Millisecond}, nil
	}
	return Decision{Allowed: true, Remaining: int(res[1])}, nil
}
