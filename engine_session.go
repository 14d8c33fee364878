package walletauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/walletauth/jwt"
)

// issueSession signs a token for user. Roles are copied into the claims so
// downstream services can authorize without a directory round trip.
func (e *Engine) issueSession(user *User, method LoginMethod, isNew bool) (*LoginResult, error) {
	claims := jwt.SessionClaims{
		UID:      user.ID,
		Email:    user.ContactEmail(),
		Roles:    append([]string(nil), user.Roles...),
		Verified: user.IsVerified,
		Wallet:   user.WalletAddress,
	}

	token, expiresAt, err := e.jwtManager.CreateSession(claims)
	if err != nil {
		e.logger.Error("sign session", zap.String("user_id", user.ID), zap.Error(err))
		return nil, internalError(err)
	}
	e.metricInc(MetricSessionIssued)

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
		IsNewUser: isNew,
		Method:    method,
	}, nil
}

// ValidateSession checks a session token's signature and expiry without
// touching the directory. A genuine but expired token yields
// [ErrSessionExpired]; everything else yields [ErrSessionInvalid].
func (e *Engine) ValidateSession(ctx context.Context, token string) (*jwt.SessionClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, unauthorized("session_missing", ErrSessionMissing)
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	claims, err := e.jwtManager.ParseSession(token)

	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			e.metricInc(MetricSessionRejectedExpired)
			e.logger.Info("session rejected", zap.String("reason", "expired"))
			e.emitAudit(ctx, auditEventSessionRejected, false, "", "", ErrSessionExpired, nil)
			return nil, unauthorized("session_expired", ErrSessionExpired)
		}
		e.metricInc(MetricSessionRejectedInvalid)
		e.logger.Info("session rejected", zap.String("reason", "malformed"), zap.Error(err))
		e.emitAudit(ctx, auditEventSessionRejected, false, "", "", ErrSessionInvalid, nil)
		return nil, unauthorized("session_invalid", ErrSessionInvalid)
	}

	return claims, nil
}

// CurrentUser validates token and loads its user. The user must still exist
// and be verified.
func (e *Engine) CurrentUser(ctx context.Context, token string) (*Session, error) {
	claims, err := e.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := e.directory.FindByID(ctx, claims.UID)
	if err != nil {
		return nil, e.directoryError(err)
	}
	if user == nil {
		e.logger.Info("session rejected", zap.String("reason", "user_missing"), zap.String("user_id", claims.UID))
		return nil, unauthorized("session_user_missing", ErrSessionUserMissing)
	}
	if !user.IsVerified {
		return nil, unauthorized("session_unverified", ErrSessionUnverified)
	}

	return &Session{Claims: claims, User: user}, nil
}

// CheckAuth answers whether token belongs to a signed-in user. It never
// fails; the reason for a negative answer is in Status.
func (e *Engine) CheckAuth(ctx context.Context, token string) CheckAuthResult {
	if strings.TrimSpace(token) == "" {
		return CheckAuthResult{Status: AuthStatusNoToken}
	}

	sess, err := e.CurrentUser(ctx, token)
	if err == nil {
		return CheckAuthResult{Authenticated: true, Status: AuthStatusAuthenticated, User: sess.User}
	}

	switch {
	case errors.Is(err, ErrSessionExpired):
		return CheckAuthResult{Status: AuthStatusExpired}
	case errors.Is(err, ErrSessionInvalid), errors.Is(err, ErrSessionMissing):
		return CheckAuthResult{Status: AuthStatusInvalid}
	case errors.Is(err, ErrSessionUserMissing):
		return CheckAuthResult{Status: AuthStatusUserMissing}
	case errors.Is(err, ErrSessionUnverified):
		return CheckAuthResult{Status: AuthStatusUnverified}
	default:
		return CheckAuthResult{Status: AuthStatusUnavailable}
	}
}
