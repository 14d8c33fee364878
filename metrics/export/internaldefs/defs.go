package internaldefs

import (
	walletauth "github.com/MrEthical07/walletauth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   walletauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   walletauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "walletauth_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: walletauth.MetricOTPRequested, Name: "walletauth_otp_requested_total", Help: "OTP emails accepted by the mailer."},
	{ID: walletauth.MetricOTPSendFailure, Name: "walletauth_otp_send_failure_total", Help: "OTP emails the mailer rejected."},
	{ID: walletauth.MetricOTPVerifySuccess, Name: "walletauth_otp_verify_success_total", Help: "Successful OTP logins."},
	{ID: walletauth.MetricOTPVerifyFailure, Name: "walletauth_otp_verify_failure_total", Help: "Wrong, expired or replayed OTPs."},
	{ID: walletauth.MetricOTPAttemptsExceeded, Name: "walletauth_otp_attempts_exceeded_total", Help: "OTPs burned by too many wrong attempts."},
	{ID: walletauth.MetricWalletChallengeIssued, Name: "walletauth_wallet_challenge_issued_total", Help: "Wallet sign-in and link challenges issued."},
	{ID: walletauth.MetricWalletVerifySuccess, Name: "walletauth_wallet_verify_success_total", Help: "Successful wallet logins."},
	{ID: walletauth.MetricWalletVerifyFailure, Name: "walletauth_wallet_verify_failure_total", Help: "Wallet logins rejected before signature comparison."},
	{ID: walletauth.MetricWalletSignatureMismatch, Name: "walletauth_wallet_signature_mismatch_total", Help: "Signatures recovered to a different address."},
	{ID: walletauth.MetricWalletLinked, Name: "walletauth_wallet_linked_total", Help: "Wallets linked to existing accounts."},
	{ID: walletauth.MetricWalletUnlinked, Name: "walletauth_wallet_unlinked_total", Help: "Wallets removed from accounts."},
	{ID: walletauth.MetricUserProvisioned, Name: "walletauth_user_provisioned_total", Help: "Users created on first login."},
	{ID: walletauth.MetricUserConflict, Name: "walletauth_user_conflict_total", Help: "User directory uniqueness rejections."},
	{ID: walletauth.MetricSessionIssued, Name: "walletauth_session_issued_total", Help: "Session tokens signed."},
	{ID: walletauth.MetricSessionRejectedExpired, Name: "walletauth_session_rejected_expired_total", Help: "Expired session tokens presented."},
	{ID: walletauth.MetricSessionRejectedInvalid, Name: "walletauth_session_rejected_invalid_total", Help: "Forged or malformed session tokens presented."},
	{ID: walletauth.MetricLoginAlertFailure, Name: "walletauth_login_alert_failure_total", Help: "Login alert emails that failed to send."},
	{ID: walletauth.MetricRateLimitHit, Name: "walletauth_rate_limit_hit_total", Help: "Cooldown and IP window refusals."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: walletauth.MetricValidateLatency, Name: "walletauth_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the upper bounds of the engine buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
