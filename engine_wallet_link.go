package walletauth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/walletauth/internal/stores"
)

const cooldownActionWalletLink = "wallet-link"

func walletLinkSubject(userID, address string) string {
	return userID + ":" + address
}

// RequestWalletLinkChallenge issues a nonce proving ownership of address for
// the signed-in user userID. Addresses held by another account are rejected
// up front with KindConflict.
func (e *Engine) RequestWalletLinkChallenge(ctx context.Context, userID, address string) (*WalletChallenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeWalletAddress(address)
	if err != nil {
		return nil, badRequest("invalid_wallet_address", ErrInvalidWalletAddress)
	}

	if err := e.checkIssue(ctx, "wallet_link_issue", normalized); err != nil {
		return nil, err
	}

	if _, err := e.linkTarget(ctx, userID, normalized); err != nil {
		return nil, err
	}

	if err := e.acquireCooldown(ctx, cooldownActionWalletLink, userID); err != nil {
		return nil, err
	}

	challenge, err := e.issueWalletChallenge(ctx, stores.PurposeWalletLink, walletLinkSubject(userID, normalized), normalized, userID)
	if err != nil {
		e.releaseCooldown(ctx, cooldownActionWalletLink, userID)
		return nil, err
	}

	e.metricInc(MetricWalletChallengeIssued)
	e.emitAudit(ctx, auditEventWalletLinkChallenge, true, userID, normalized, nil, nil)
	return challenge, nil
}

// LinkWallet attaches address to userID once signature proves ownership. An
// existing different wallet on the account is replaced. A wallet-only account
// has its placeholder email moved to the new address so the old one is free
// to sign in again.
func (e *Engine) LinkWallet(ctx context.Context, userID, address, signature string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	normalized, err := NormalizeWalletAddress(address)
	if err != nil {
		return nil, badRequest("invalid_wallet_address", ErrInvalidWalletAddress)
	}

	if err := e.checkVerify(ctx, "wallet_link_verify", normalized); err != nil {
		return nil, err
	}

	fail := func(err error) (*User, error) {
		e.emitAudit(ctx, auditEventWalletLinkFailure, false, userID, normalized, err, nil)
		return nil, err
	}

	user, err := e.linkTarget(ctx, userID, normalized)
	if err != nil {
		return fail(err)
	}

	record, err := e.consumeWalletChallenge(ctx, stores.PurposeWalletLink, walletLinkSubject(userID, normalized), normalized, signature)
	if err != nil {
		return fail(err)
	}
	if record.UserID != userID {
		return fail(badRequest("challenge_expired", ErrChallengeExpired))
	}

	patch := UserPatch{WalletAddress: &normalized}
	if user.HasPlaceholderEmail() {
		email := PlaceholderEmail(normalized)
		patch.Email = &email
	}

	updated, err := e.directory.Update(ctx, userID, patch)
	if err != nil {
		if errors.Is(err, ErrUserConflict) {
			e.metricInc(MetricUserConflict)
			return fail(conflict("wallet_claimed", ErrWalletClaimed))
		}
		return fail(e.directoryError(err))
	}

	e.metricInc(MetricWalletLinked)
	e.emitAudit(ctx, auditEventWalletLinked, true, userID, normalized, nil, nil)
	e.logger.Info("wallet linked", zap.String("user_id", userID))
	return updated, nil
}

// UnlinkWallet removes the wallet from userID. Wallet-only accounts cannot
// unlink because the placeholder email is not a usable sign-in method.
func (e *Engine) UnlinkWallet(ctx context.Context, userID string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	user, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var rejected error
	switch {
	case user.WalletAddress == "":
		rejected = badRequest("no_wallet_linked", ErrNoWalletLinked)
	case user.HasPlaceholderEmail() || user.Email == "":
		rejected = badRequest("wallet_unlink_rejected", ErrWalletUnlinkRejected)
	}
	if rejected != nil {
		e.emitAudit(ctx, auditEventWalletUnlinkFailure, false, userID, user.WalletAddress, rejected, nil)
		return nil, rejected
	}

	previous := user.WalletAddress
	empty := ""
	updated, err := e.directory.Update(ctx, userID, UserPatch{WalletAddress: &empty})
	if err != nil {
		return nil, e.directoryError(err)
	}

	e.metricInc(MetricWalletUnlinked)
	e.emitAudit(ctx, auditEventWalletUnlinked, true, userID, previous, nil, nil)
	return updated, nil
}

// linkTarget loads userID and checks address may be linked to it.
func (e *Engine) linkTarget(ctx context.Context, userID, address string) (*User, error) {
	user, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.WalletAddress == address {
		return nil, badRequest("wallet_already_linked", ErrWalletAlreadyLinked)
	}

	owner, err := e.directory.FindByWallet(ctx, address)
	if err != nil {
		return nil, e.directoryError(err)
	}
	if owner != nil && owner.ID != user.ID {
		return nil, conflict("wallet_claimed", ErrWalletClaimed)
	}
	return user, nil
}

func (e *Engine) findUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, notFound(ErrUserNotFound)
	}
	user, err := e.directory.FindByID(ctx, userID)
	if err != nil {
		return nil, e.directoryError(err)
	}
	if user == nil {
		return nil, notFound(ErrUserNotFound)
	}
	return user, nil
}
