package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaSubject is one dimension an attempt is counted against, such as the
// caller's address or the payer email.
type QuotaSubject struct {
	Kind  string
	Value string
}

// QuotaDecision reports the outcome of consuming one attempt.
type QuotaDecision struct {
	Allowed    bool
	Count      int
	RetryAfter int
	// Exhausted names the subject kind whose budget ran out, if any.
	Exhausted string
}

// RateLimiter counts an attempt against every subject at once within a fixed
// window. The attempt is refused when any subject is over its limit.
type RateLimiter interface {
	ConsumeQuota(ctx context.Context, scope string, subjects []QuotaSubject, limit int, window time.Duration) (QuotaDecision, error)
}

// All keys of one call share a hash tag so the script stays valid on Redis Cluster.
var multiSubjectWindowScript = redis.NewScript(`
local worst, worst_ttl, worst_index = 0, 0, 0
for i, key in ipairs(KEYS) do
  local current = redis.call("INCR", key)
  if current == 1 then
    redis.call("PEXPIRE", key, ARGV[1])
  end
  local ttl = redis.call("PTTL", key)
  if ttl < 0 then
    ttl = tonumber(ARGV[1])
  end
  if current > worst then
    worst, worst_ttl, worst_index = current, ttl, i
  end
end
return {worst, worst_ttl, worst_index}
`)

// RedisRateLimiter implements RateLimiter on Redis so every instance of the
// service shares one budget.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "transfa:payments:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: trimmedPrefix}
}

// key hashes the subject value so payer emails never land in Redis in clear text.
func (r *RedisRateLimiter) key(scope string, subject QuotaSubject) string {
	sum := sha256.Sum256([]byte(subject.Value))
	return fmt.Sprintf("%s:{%s}:%s:%s", r.prefix, scope, subject.Kind, hex.EncodeToString(sum[:12]))
}

func normalizeSubjects(subjects []QuotaSubject) []QuotaSubject {
	out := make([]QuotaSubject, 0, len(subjects))
	for _, s := range subjects {
		kind := strings.TrimSpace(s.Kind)
		value := strings.ToLower(strings.TrimSpace(s.Value))
		if kind == "" || value == "" {
			continue
		}
		out = append(out, QuotaSubject{Kind: kind, Value: value})
	}
	return out
}

// ConsumeQuota increments every subject's counter in one round trip. A disabled
// limiter (nil client, non-positive limit or window, blank scope, no usable
// subject) allows the attempt without touching Redis.
func (r *RedisRateLimiter) ConsumeQuota(ctx context.Context, scope string, subjects []QuotaSubject, limit int, window time.Duration) (QuotaDecision, error) {
	allowed := QuotaDecision{Allowed: true}
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return allowed, nil
	}
	scope = strings.TrimSpace(scope)
	subjects = normalizeSubjects(subjects)
	if scope == "" || len(subjects) == 0 {
		return allowed, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = r.key(scope, s)
	}

	raw, err := multiSubjectWindowScript.Run(ctx, r.client, keys, windowMs).Result()
	if err != nil {
		return QuotaDecision{}, err
	}
	return decodeQuotaResult(raw, subjects, limit, windowMs)
}

func decodeQuotaResult(raw interface{}, subjects []QuotaSubject, limit int, windowMs int64) (QuotaDecision, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return QuotaDecision{}, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return QuotaDecision{}, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return QuotaDecision{}, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	index, ok := values[2].(int64)
	if !ok || index < 1 || int(index) > len(subjects) {
		return QuotaDecision{}, fmt.Errorf("unexpected redis limiter subject index: %v", values[2])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	decision := QuotaDecision{Allowed: true, Count: int(count)}
	if int(count) > limit {
		retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
		if retryAfter < 1 {
			retryAfter = 1
		}
		decision.Allowed = false
		decision.RetryAfter = retryAfter
		decision.Exhausted = subjects[index-1].Kind
	}
	return decision, nil
}
