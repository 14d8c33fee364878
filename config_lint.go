package walletauth

import "time"

// LintSeverity ranks a configuration warning.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

// LintWarning is a configuration that validates but is likely a mistake.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// AtLeast filters warnings to the given severity and above.
func (r LintResult) AtLeast(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// Lint reports risky but valid settings. It never fails.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.RateLimit.Cooldown == 0 {
		add("cooldown_disabled", LintHigh, "challenge cooldown is disabled; only use this in tests")
	}
	if !c.RateLimit.EnableIPThrottle {
		add("ip_throttle_disabled", LintWarn, "per-IP challenge throttling is disabled")
	}
	if c.OTP.TTL > 15*time.Minute {
		add("otp_ttl_long", LintWarn, "OTP lifetime above 15 minutes widens the guessing window")
	}
	if c.OTP.MaxAttempts > 10 {
		add("otp_attempts_high", LintWarn, "more than 10 OTP attempts per code weakens brute-force protection")
	}
	if c.OTP.Digits < 6 {
		add("otp_digits_short", LintWarn, "OTPs shorter than 6 digits")
	}
	if c.Wallet.NonceTTL > 30*time.Minute {
		add("nonce_ttl_long", LintInfo, "wallet nonces live longer than 30 minutes")
	}
	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above one minute")
	}
	if c.JWT.SessionTTL > 30*24*time.Hour {
		add("session_ttl_long", LintWarn, "sessions cannot be revoked; lifetimes above 30 days are discouraged")
	}
	if c.ProductionMode && c.Wallet.Domain == "localhost" {
		add("wallet_domain_localhost", LintHigh, "sign-in message names localhost in production")
	}
	if c.ProductionMode && c.JWT.Issuer == "" {
		add("issuer_empty", LintInfo, "session tokens carry no issuer")
	}
	return ws
}
