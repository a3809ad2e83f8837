package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/whatsdx/bot-platform-go/internal/audit"
	"github.com/whatsdx/bot-platform-go/internal/config"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/service"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = 60 * time.Second
)

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

// RedisRateLimiter holds the per-tenant API rate limit in redis, so the
// limit is shared across replicas.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (rl *RedisRateLimiter) Check(ctx context.Context, tenantID string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().Unix()
	key := rateLimitKeyPrefix + tenantID

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key}, now, int64(rateLimitWindow.Seconds()), limit).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	if len(result) != 3 {
		log.Warn().Str("tenantId", tenantID).Msg("unexpected redis rate limit result")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	return result[0] == 1, int(result[1]), result[2]
}

// RedisRateLimitMiddleware enforces the per-minute burst limit and the
// tenant's monthly API call quota on every authenticated request.
type RedisRateLimitMiddleware struct {
	limiter *RedisRateLimiter
	plan    *service.PlanService
}

func NewRedisRateLimitMiddleware(redisClient *redis.Client, plan *service.PlanService) *RedisRateLimitMiddleware {
	return &RedisRateLimitMiddleware{
		limiter: NewRedisRateLimiter(redisClient),
		plan:    plan,
	}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := GetTenant(r.Context())
		if tenant == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := tenant.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), tenant.ID, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, TenantID: tenant.ID})
			log.Warn().Str("tenantId", tenant.ID).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}

		if !m.admitAPICall(w, r, tenant) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// admitAPICall charges the request against the tenant's monthly API call
// quota. Quota reads fail open, matching the rest of admission control.
func (m *RedisRateLimitMiddleware) admitAPICall(w http.ResponseWriter, r *http.Request, tenant *model.Tenant) bool {
	if m.plan == nil {
		return true
	}

	result, err := m.plan.CheckTenantLimit(r.Context(), tenant, model.ResourceMaxAPICalls)
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenant.ID).Msg("API call quota check failed, allowing request")
		return true
	}
	if !result.Allowed {
		log.Warn().Str("tenantId", tenant.ID).Int("limit", result.Limit).Msg("API call quota exhausted")
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error": "API call quota exceeded",
		})
		return false
	}

	m.plan.IncrementUsage(r.Context(), tenant.ID, model.ResourceMaxAPICalls)
	return true
}
