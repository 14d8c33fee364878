package walletauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/walletauth/internal"
	"github.com/MrEthical07/walletauth/internal/stores"
)

const cooldownActionWallet = "login-wallet"

// RequestWalletChallenge issues a nonce for address and returns the message
// the wallet must sign. Nothing is sent anywhere; the caller shows the message
// to the wallet.
func (e *Engine) RequestWalletChallenge(ctx context.Context, address string) (*WalletChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeWalletAddress(address)
	if err != nil {
		return nil, badRequest("invalid_wallet_address", ErrInvalidWalletAddress)
	}

	if err := e.checkIssue(ctx, "wallet_issue", normalized); err != nil {
		return nil, err
	}
	if err := e.acquireCooldown(ctx, cooldownActionWallet, normalized); err != nil {
		return nil, err
	}

	challenge, err := e.issueWalletChallenge(ctx, stores.PurposeLoginWallet, normalized, normalized, "")
	if err != nil {
		e.releaseCooldown(ctx, cooldownActionWallet, normalized)
		return nil, err
	}

	e.metricInc(MetricWalletChallengeIssued)
	e.emitAudit(ctx, auditEventWalletChallenge, true, "", normalized, nil, nil)
	return challenge, nil
}

// issueWalletChallenge stores a nonce challenge under (purpose, subject) with
// the exact message to be signed.
func (e *Engine) issueWalletChallenge(
	ctx context.Context,
	purpose stores.Purpose,
	subject string,
	address string,
	userID string,
) (*WalletChallenge, error) {
	nonce, err := internal.NewNonce()
	if err != nil {
		return nil, internalError(err)
	}

	message := buildSignMessage(e.config.Wallet, address, nonce, e.now(), purpose.String())
	record := &stores.ChallengeRecord{
		Purpose:    purpose,
		UserID:     userID,
		SecretHash: internal.HashSecret(nonce),
		Message:    message,
	}
	if err := e.challenges.Save(ctx, subject, record, e.config.Wallet.NonceTTL); err != nil {
		return nil, e.challengeError(err)
	}

	return &WalletChallenge{
		Message:       message,
		WalletAddress: address,
		ExpiresIn:     e.config.Wallet.NonceTTL,
	}, nil
}

// consumeWalletChallenge checks signature against the pending message for
// (purpose, subject) and consumes the nonce. A signature from another key is
// KindUnauthorized and leaves the nonce in place; a malformed one is
// KindBadRequest.
func (e *Engine) consumeWalletChallenge(
	ctx context.Context,
	purpose stores.Purpose,
	subject string,
	address string,
	signature string,
) (*stores.ChallengeRecord, error) {
	record, err := e.challenges.Peek(ctx, purpose, subject)
	if err != nil {
		return nil, e.challengeError(err)
	}

	recovered, err := recoverAddress(record.Message, signature)
	if err != nil {
		return nil, badRequest("invalid_signature", ErrInvalidSignature)
	}
	if recovered != address {
		e.metricInc(MetricWalletSignatureMismatch)
		return nil, unauthorized("signature_mismatch", ErrSignatureMismatch)
	}

	// Exactly one of several concurrent verifications wins the nonce.
	if err := e.challenges.ConsumeExact(ctx, subject, record); err != nil {
		return nil, e.challengeError(err)
	}
	return record, nil
}

// VerifyWalletSignature consumes the nonce for address if signature was made
// by that address over the issued message, then signs a session. An unknown
// address gets a new verified user with a placeholder email.
func (e *Engine) VerifyWalletSignature(ctx context.Context, address, signature string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeWalletAddress(address)
	if err != nil {
		e.metricInc(MetricWalletVerifyFailure)
		return nil, badRequest("invalid_wallet_address", ErrInvalidWalletAddress)
	}

	if err := e.checkVerify(ctx, "wallet_verify", normalized); err != nil {
		return nil, err
	}

	if _, err := e.consumeWalletChallenge(ctx, stores.PurposeLoginWallet, normalized, normalized, signature); err != nil {
		if !errors.Is(err, ErrSignatureMismatch) {
			e.metricInc(MetricWalletVerifyFailure)
		}
		e.emitAudit(ctx, auditEventWalletVerifyFailure, false, "", normalized, err, nil)
		return nil, err
	}

	user, isNew, err := e.resolveWalletUser(ctx, normalized)
	if err != nil {
		e.emitAudit(ctx, auditEventWalletVerifyFailure, false, "", normalized, err, nil)
		return nil, err
	}

	result, err := e.issueSession(user, LoginMethodWallet, isNew)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricWalletVerifySuccess)
	e.emitAudit(ctx, auditEventWalletVerifySuccess, true, user.ID, normalized, nil, func() map[string]string {
		return map[string]string{"new_user": fmt.Sprint(isNew)}
	})
	e.sendLoginAlert(ctx, user, LoginMethodWallet)

	return result, nil
}

// resolveWalletUser finds the user holding address or creates a wallet-only
// user. Two concurrent first logins for the same address race on the
// directory's unique index; the loser gets KindConflict.
func (e *Engine) resolveWalletUser(ctx context.Context, address string) (*User, bool, error) {
	now := e.now().UTC()

	user, err := e.directory.FindByWallet(ctx, address)
	if err != nil {
		return nil, false, e.directoryError(err)
	}

	if user == nil {
		created, err := e.directory.Create(ctx, CreateUserInput{
			Email:         PlaceholderEmail(address),
			WalletAddress: address,
			IsVerified:    true,
			Roles:         e.defaultRoles(),
			LastLogin:     now,
		})
		if err != nil {
			return nil, false, e.directoryError(err)
		}
		e.metricInc(MetricUserProvisioned)
		e.emitAudit(ctx, auditEventUserProvisioned, true, created.ID, address, nil, func() map[string]string {
			return map[string]string{"method": string(LoginMethodWallet)}
		})
		return created, true, nil
	}

	updated, err := e.directory.Update(ctx, user.ID, UserPatch{LastLogin: &now})
	if err != nil {
		return nil, false, e.directoryError(err)
	}
	return updated, false, nil
}
