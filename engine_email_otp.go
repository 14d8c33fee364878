package walletauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/walletauth/internal"
	"github.com/MrEthical07/walletauth/internal/stores"
)

const cooldownActionEmail = "login-email"

// RequestEmailOTP sends a fresh one-time code to email.
//
// A new request replaces any pending code for the same address. While the
// cooldown mark for the address exists the request fails with
// KindTooManyRequests. If the mailer fails, the pending code and the cooldown
// mark are rolled back so the caller can retry at once; the error is then
// KindUnavailable, or KindInternal when the rollback itself fails.
func (e *Engine) RequestEmailOTP(ctx context.Context, email string) (*OTPChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, badRequest("invalid_email", ErrInvalidEmail)
	}
	if IsPlaceholderEmail(normalized) {
		return nil, badRequest("invalid_email", ErrInvalidEmail)
	}

	if err := e.checkIssue(ctx, "otp_issue", normalized); err != nil {
		return nil, err
	}
	if err := e.acquireCooldown(ctx, cooldownActionEmail, normalized); err != nil {
		return nil, err
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		e.releaseCooldown(ctx, cooldownActionEmail, normalized)
		return nil, internalError(err)
	}

	record := &stores.ChallengeRecord{
		Purpose:    stores.PurposeLoginEmail,
		SecretHash: internal.HashSecret(code),
	}
	if err := e.challenges.Save(ctx, normalized, record, e.config.OTP.TTL); err != nil {
		e.releaseCooldown(ctx, cooldownActionEmail, normalized)
		return nil, e.challengeError(err)
	}

	msg, err := e.otpMessage(normalized, code)
	if err == nil {
		_, err = e.mailer.Send(ctx, msg)
	}
	if err != nil {
		e.metricInc(MetricOTPSendFailure)
		e.emitAudit(ctx, auditEventOTPSendFailed, false, "", normalized, ErrEmailSendFailed, nil)
		return nil, e.rollbackOTP(ctx, normalized, err)
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, "", normalized, nil, nil)

	return &OTPChallenge{
		Email:     normalized,
		ExpiresIn: e.config.OTP.TTL,
	}, nil
}

func (e *Engine) rollbackOTP(ctx context.Context, email string, sendErr error) error {
	// Roll back even if the request context is gone.
	ctx = context.WithoutCancel(ctx)

	delErr := e.challenges.Delete(ctx, stores.PurposeLoginEmail, email)
	relErr := e.cooldown.Release(ctx, cooldownActionEmail, email)
	if delErr != nil || relErr != nil {
		e.logger.Error("otp send failed and rollback failed",
			zap.NamedError("send_error", sendErr),
			zap.NamedError("delete_error", delErr),
			zap.NamedError("release_error", relErr),
		)
		cause := fmt.Errorf("%w: %v", ErrEmailSendFailed, errors.Join(sendErr, delErr, relErr))
		e2 := internalError(cause)
		e2.Code = "email_send_failed"
		return e2
	}

	e.logger.Warn("otp send failed, challenge rolled back", zap.Error(sendErr))
	e2 := unavailable("email_send_failed", fmt.Errorf("%w: %v", ErrEmailSendFailed, sendErr))
	e2.Message = ErrEmailSendFailed.Error()
	return e2
}

// VerifyEmailOTP consumes the pending code for email and signs a session.
//
// An unknown address is provisioned as a verified user with the default role.
// A wrong code spends one attempt and reports how many remain; the last
// allowed miss deletes the code.
func (e *Engine) VerifyEmailOTP(ctx context.Context, email, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, badRequest("invalid_email", ErrInvalidEmail)
	}

	code = strings.TrimSpace(code)
	if !isNumericCode(code, e.config.OTP.Digits) {
		// A malformed code never matches, so it does not spend an attempt.
		e.metricInc(MetricOTPVerifyFailure)
		return nil, badRequest("invalid_otp", ErrInvalidOTP)
	}

	if err := e.checkVerify(ctx, "otp_verify", normalized); err != nil {
		return nil, err
	}

	if _, err := e.challenges.ConsumeSecret(
		ctx,
		stores.PurposeLoginEmail,
		normalized,
		internal.HashSecret(code),
		e.config.OTP.MaxAttempts,
	); err != nil {
		mapped := e.challengeError(err)
		if errors.Is(err, stores.ErrChallengeAttemptsExceeded) {
			e.metricInc(MetricOTPAttemptsExceeded)
		}
		if KindOf(mapped) == KindBadRequest {
			e.metricInc(MetricOTPVerifyFailure)
		}
		e.emitAudit(ctx, auditEventOTPVerifyFailure, false, "", normalized, mapped, nil)
		return nil, mapped
	}

	user, isNew, err := e.resolveEmailUser(ctx, normalized)
	if err != nil {
		e.emitAudit(ctx, auditEventOTPVerifyFailure, false, "", normalized, err, nil)
		return nil, err
	}

	result, err := e.issueSession(user, LoginMethodEmailOTP, isNew)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOTPVerifySuccess)
	e.emitAudit(ctx, auditEventOTPVerifySuccess, true, user.ID, normalized, nil, func() map[string]string {
		return map[string]string{"new_user": fmt.Sprint(isNew)}
	})
	e.sendLoginAlert(ctx, user, LoginMethodEmailOTP)

	return result, nil
}

// resolveEmailUser finds the user owning email or provisions one. The code
// has already been consumed, so nothing here is retried.
func (e *Engine) resolveEmailUser(ctx context.Context, email string) (*User, bool, error) {
	now := e.now().UTC()

	user, err := e.directory.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, e.directoryError(err)
	}

	if user == nil {
		created, err := e.directory.Create(ctx, CreateUserInput{
			Email:      email,
			IsVerified: true,
			Roles:      e.defaultRoles(),
			LastLogin:  now,
		})
		if err != nil {
			return nil, false, e.directoryError(err)
		}
		e.metricInc(MetricUserProvisioned)
		e.emitAudit(ctx, auditEventUserProvisioned, true, created.ID, email, nil, func() map[string]string {
			return map[string]string{"method": string(LoginMethodEmailOTP)}
		})
		return created, true, nil
	}

	verified := true
	updated, err := e.directory.Update(ctx, user.ID, UserPatch{
		IsVerified: &verified,
		LastLogin:  &now,
	})
	if err != nil {
		return nil, false, e.directoryError(err)
	}
	return updated, false, nil
}

func isNumericCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
