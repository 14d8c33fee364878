package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle bool
	MaxIssuePerIP    int
	MaxVerifyPerIP   int
	Window           time.Duration
}

// Limiter enforces per-IP fixed-window budgets for challenge issuance and
// verification, independent of the per-subject cooldown.
type Limiter struct {
	store  *ephemeral.Store
	config Config
}

// New creates a rate [Limiter] backed by the given store.
func New(store *ephemeral.Store, cfg Config) *Limiter {
	return &Limiter{
		store:  store,
		config: cfg,
	}
}

// CheckIssue counts one challenge request from ip and fails once the window
// budget is spent. An empty ip is never throttled.
func (l *Limiter) CheckIssue(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforce(ctx, l.store.Key("rl", "issue", ip), l.config.MaxIssuePerIP)
}

// CheckVerify counts one verification attempt from ip.
func (l *Limiter) CheckVerify(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforce(ctx, l.store.Key("rl", "verify", ip), l.config.MaxVerifyPerIP)
}

func (l *Limiter) enforce(ctx context.Context, key string, max int) error {
	count, err := l.store.Increment(ctx, key, l.config.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count <= int64(max) {
		return nil
	}

	retry, err := l.store.TTL(ctx, key)
	if err != nil || retry <= 0 {
		retry = l.config.Window
	}
	return &LimitError{RetryAfter: retry}
}
