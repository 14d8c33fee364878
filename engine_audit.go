package walletauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventOTPRequested          = "otp_requested"
	auditEventOTPSendFailed         = "otp_send_failed"
	auditEventOTPVerifySuccess      = "otp_verify_success"
	auditEventOTPVerifyFailure      = "otp_verify_failure"
	auditEventWalletChallenge       = "wallet_challenge_issued"
	auditEventWalletVerifySuccess   = "wallet_verify_success"
	auditEventWalletVerifyFailure   = "wallet_verify_failure"
	auditEventWalletLinkChallenge   = "wallet_link_challenge_issued"
	auditEventWalletLinked          = "wallet_linked"
	auditEventWalletLinkFailure     = "wallet_link_failure"
	auditEventWalletUnlinked        = "wallet_unlinked"
	auditEventWalletUnlinkFailure   = "wallet_unlink_failure"
	auditEventUserProvisioned       = "user_provisioned"
	auditEventSessionRejected       = "session_rejected"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventLoginAlertSendFailure = "login_alert_send_failure"
)

// AuditErrorCode is the coarse failure class carried in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidInput      AuditErrorCode = "invalid_input"
	auditErrChallengeExpired  AuditErrorCode = "challenge_expired"
	auditErrInvalidOTP        AuditErrorCode = "invalid_otp"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrInvalidSignature  AuditErrorCode = "invalid_signature"
	auditErrSignatureMismatch AuditErrorCode = "signature_mismatch"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrConflict          AuditErrorCode = "conflict"
	auditErrUserNotFound      AuditErrorCode = "user_not_found"
	auditErrSessionExpired    AuditErrorCode = "session_expired"
	auditErrSessionInvalid    AuditErrorCode = "session_invalid"
	auditErrSendFailed        AuditErrorCode = "send_failed"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", subject, ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidWalletAddress),
		errors.Is(err, ErrWalletAlreadyLinked),
		errors.Is(err, ErrNoWalletLinked),
		errors.Is(err, ErrWalletUnlinkRejected):
		return auditErrInvalidInput
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrInvalidOTP):
		return auditErrInvalidOTP
	case errors.Is(err, ErrOTPAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidSignature):
		return auditErrInvalidSignature
	case errors.Is(err, ErrSignatureMismatch):
		return auditErrSignatureMismatch
	case errors.Is(err, ErrCooldownActive),
		errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUserConflict),
		errors.Is(err, ErrWalletClaimed):
		return auditErrConflict
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSessionUserMissing):
		return auditErrUserNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionInvalid),
		errors.Is(err, ErrSessionMissing),
		errors.Is(err, ErrSessionUnverified):
		return auditErrSessionInvalid
	case errors.Is(err, ErrEmailSendFailed):
		return auditErrSendFailed
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrDirectoryUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
