package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/types"
)

// reserveScript atomically checks the caller's monthly counter against the
// cap and reserves the estimate when it fits, in one round trip. The key
// expires shortly after its month ends.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local cap = tonumber(ARGV[1])
local est = tonumber(ARGV[2])
if used + est > cap then
  return {0, used}
end
redis.call('INCRBY', KEYS[1], est)
redis.call('EXPIREAT', KEYS[1], tonumber(ARGV[3]))
return {1, used}
`)

// RedisQuotaGuard enforces monthly token caps on a shared Redis counter, for
// deployments running more than one council instance. Check reserves the
// turn's estimate atomically; settling the reservation replaces the estimate
// with the actual spend once the turn finishes.
type RedisQuotaGuard struct {
	rdb    redis.UniversalClient
	caps   config.QuotaConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisQuotaGuard creates the Redis-backed quota guard.
func NewRedisQuotaGuard(rdb redis.UniversalClient, caps config.QuotaConfig, logger *zap.Logger) *RedisQuotaGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQuotaGuard{
		rdb:    rdb,
		caps:   caps,
		logger: logger.With(zap.String("component", "quota_redis")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// monthKey keys the counter by caller and UTC calendar month, so a new month
// starts from zero without any reset job.
func (g *RedisQuotaGuard) monthKey(callerKey string, now time.Time) string {
	return fmt.Sprintf("council:quota:%s:%s", callerKey, now.UTC().Format("200601"))
}

// Check implements council.QuotaGuard.
func (g *RedisQuotaGuard) Check(ctx context.Context, callerKey string, estimatedTokens int64) (council.QuotaReservation, error) {
	limit, ok := g.caps.CapFor(callerKey)
	if !ok || limit <= 0 {
		return unboundedReservation{}, nil
	}
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}

	now := g.now()
	_, monthEnd := MonthBoundsUTC(now)
	expireAt := monthEnd.Add(7 * 24 * time.Hour).Unix()
	key := g.monthKey(callerKey, now)

	res, err := reserveScript.Run(ctx, g.rdb,
		[]string{key},
		limit, estimatedTokens, expireAt,
	).Int64Slice()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "quota reserve failed").
			WithCause(err).WithHTTPStatus(500)
	}
	if len(res) != 2 {
		return nil, types.NewError(types.ErrInternalError, "quota reserve returned malformed reply").
			WithHTTPStatus(500)
	}
	if res[0] == 0 {
		g.logger.Info("quota denied",
			zap.String("caller_key", callerKey),
			zap.Int64("used", res[1]),
			zap.Int64("estimated", estimatedTokens),
			zap.Int64("cap", limit),
		)
		return nil, types.NewQuotaExceededError(res[1], limit)
	}
	return &redisReservation{rdb: g.rdb, key: key, reserved: estimatedTokens}, nil
}

// redisReservation trues the shared counter up from the estimate to the
// actual spend. The delta is applied to the month key captured at reserve
// time, not the settle-time month, so a turn straddling a month rollover
// cannot leave the old month's counter over-reserved.
type redisReservation struct {
	rdb      redis.UniversalClient
	key      string
	reserved int64
}

func (r *redisReservation) Settle(ctx context.Context, actual int64) error {
	delta := actual - r.reserved
	if delta == 0 {
		return nil
	}
	if err := r.rdb.IncrBy(ctx, r.key, delta).Err(); err != nil {
		return fmt.Errorf("settle quota counter: %w", err)
	}
	return nil
}
