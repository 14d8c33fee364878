package walletauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
	"github.com/MrEthical07/walletauth/internal/limiters"
	"github.com/MrEthical07/walletauth/internal/rate"
	"github.com/MrEthical07/walletauth/internal/stores"
	"github.com/MrEthical07/walletauth/jwt"
)

// Engine orchestrates email OTP login, wallet signature login, wallet linking
// and session validation.
//
// Engine instances are built by [Builder.Build] and are safe for concurrent use.
// Every challenge is keyed by its own subject, so no in-process locks are taken;
// atomicity comes from the ephemeral store and uniqueness from the directory.
type Engine struct {
	config      Config
	store       *ephemeral.Store
	challenges  *stores.ChallengeStore
	cooldown    *limiters.Cooldown
	rateLimiter *rate.Limiter
	directory   UserDirectory
	mailer      Mailer
	jwtManager  *jwt.Manager
	audit       *auditDispatcher
	metrics     *Metrics
	logger      *zap.Logger
	notifyMu    sync.Mutex
	notifyWG    sync.WaitGroup
	closed      bool
	now         func() time.Time
}

// Close waits for in-flight login alerts and flushes the audit dispatcher.
// Logins that complete after Close has started send no alert. Close is
// idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifyMu.Lock()
	if e.closed {
		e.notifyMu.Unlock()
		return
	}
	e.closed = true
	e.notifyMu.Unlock()

	e.notifyWG.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping reports whether the ephemeral store answers.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.store.Ping(ctx); err != nil {
		return unavailable("store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	return nil
}

// Config returns a copy of the active configuration without signing keys.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	cfg := e.config
	cfg.JWT.PrivateKey = nil
	cfg.JWT.PublicKey = nil
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.challenges == nil || e.directory == nil || e.jwtManager == nil {
		return internalError(ErrEngineNotReady)
	}
	return nil
}

// checkIssue spends one unit of the caller's per-IP issuance budget.
func (e *Engine) checkIssue(ctx context.Context, scope, subject string) error {
	return e.limitError(ctx, scope, subject, e.rateLimiter.CheckIssue(ctx, clientIPFromContext(ctx)))
}

// checkVerify spends one unit of the caller's per-IP verification budget.
func (e *Engine) checkVerify(ctx context.Context, scope, subject string) error {
	return e.limitError(ctx, scope, subject, e.rateLimiter.CheckVerify(ctx, clientIPFromContext(ctx)))
}

func (e *Engine) limitError(ctx context.Context, scope, subject string, err error) error {
	if err == nil {
		return nil
	}
	var limitErr *rate.LimitError
	if errors.As(err, &limitErr) {
		e.emitRateLimit(ctx, scope, subject)
		return tooManyRequests("rate_limited", ErrRateLimited, limitErr.RetryAfter)
	}
	e.logger.Error("ip rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
	return unavailable("store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
}

// acquireCooldown places the per-subject issuance mark.
func (e *Engine) acquireCooldown(ctx context.Context, action, subject string) error {
	err := e.cooldown.Acquire(ctx, action, subject)
	if err == nil {
		return nil
	}
	var cdErr *limiters.CooldownError
	if errors.As(err, &cdErr) {
		e.emitRateLimit(ctx, action, subject)
		return tooManyRequests("cooldown_active", ErrCooldownActive, cdErr.Remaining)
	}
	e.logger.Error("cooldown limiter unavailable", zap.String("action", action), zap.Error(err))
	return unavailable("store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
}

// releaseCooldown is best effort; a stuck mark only delays the next request.
func (e *Engine) releaseCooldown(ctx context.Context, action, subject string) {
	if err := e.cooldown.Release(ctx, action, subject); err != nil {
		e.logger.Warn("cooldown release failed", zap.String("action", action), zap.Error(err))
	}
}

// challengeError maps a challenge store failure to the engine taxonomy.
func (e *Engine) challengeError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound),
		errors.Is(err, stores.ErrChallengeInvalid):
		return badRequest("challenge_expired", ErrChallengeExpired)
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return badRequest("otp_attempts_exceeded", ErrOTPAttemptsExceeded)
	case errors.Is(err, stores.ErrChallengeMismatch):
		invalid := badRequest("invalid_otp", ErrInvalidOTP)
		var mismatch *stores.MismatchError
		if errors.As(err, &mismatch) {
			invalid.AttemptsLeft = mismatch.Remaining
			invalid.Message = fmt.Sprintf("invalid otp, %d attempts remaining", mismatch.Remaining)
		}
		return invalid
	default:
		e.logger.Error("challenge store unavailable", zap.Error(err))
		return unavailable("store_unavailable", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
}

// directoryError maps a UserDirectory failure to the engine taxonomy.
func (e *Engine) directoryError(err error) error {
	switch {
	case errors.Is(err, ErrUserConflict):
		e.metricInc(MetricUserConflict)
		return conflict("user_conflict", ErrUserConflict)
	case errors.Is(err, ErrUserNotFound):
		return notFound(ErrUserNotFound)
	default:
		e.logger.Error("user directory failure", zap.Error(err))
		return unavailable("directory_unavailable", fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err))
	}
}

func (e *Engine) defaultRoles() []string {
	return []string{e.config.Account.DefaultRole}
}
