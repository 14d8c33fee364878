package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(ephemeral.New(rdb, "wa"), cfg), mr
}

func TestCheckIssueWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{EnableIPThrottle: true, MaxIssuePerIP: 2, MaxVerifyPerIP: 5, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckIssue(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	err := l.CheckIssue(ctx, "10.0.0.1")
	var limitErr *LimitError
	if !errors.As(err, &limitErr) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if limitErr.RetryAfter <= 0 || limitErr.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", limitErr.RetryAfter)
	}

	if err := l.CheckIssue(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("other ip must not be limited: %v", err)
	}
	if err := l.CheckVerify(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("verify budget is separate: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if err := l.CheckIssue(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("expected new window: %v", err)
	}
}

func TestThrottleDisabledOrNoIP(t *testing.T) {
	l, _ := newTestLimiter(t, Config{EnableIPThrottle: false, MaxIssuePerIP: 1, Window: time.Minute})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.CheckIssue(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("disabled throttle must pass: %v", err)
		}
	}

	on, _ := newTestLimiter(t, Config{EnableIPThrottle: true, MaxIssuePerIP: 1, Window: time.Minute})
	for i := 0; i < 5; i++ {
		if err := on.CheckIssue(ctx, ""); err != nil {
			t.Fatalf("empty ip must pass: %v", err)
		}
	}
}
