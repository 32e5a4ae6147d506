package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Per-IP budget for the unauthenticated telemetry endpoints. Generous for a
// human browsing, tight for a script hammering the counters.
const (
	publicEventRate  = 5.0
	publicEventBurst = 30
)

type PublicEventLimiterParams struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
}

// PublicEventLimiter throttles anonymous click and ad-track traffic per
// source IP. Without redis it admits everything, the dedup window still
// bounds what duplicates can count.
type PublicEventLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
}

func NewPublicEventLimiter(p PublicEventLimiterParams) *PublicEventLimiter {
	return &PublicEventLimiter{
		bucket: NewTokenBucket(p.Client),
		log:    p.Log.Named("ratelimit"),
	}
}

// Allow reports whether the request may proceed. Redis failures admit the
// request, throttling is protection here, not correctness.
func (l *PublicEventLimiter) Allow(ctx context.Context, scope, ip string) bool {
	if l == nil || l.bucket == nil || ip == "" {
		return true
	}

	res, err := l.bucket.Allow(ctx, "ratelimit:"+scope+":"+ip, publicEventRate, publicEventBurst)
	if err != nil {
		l.log.Warn("rate limit check failed, admitting", zap.String("scope", scope), zap.Error(err))
		return true
	}
	return res.Allowed
}
