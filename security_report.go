package walletauth

import "github.com/MrEthical07/walletauth/internal/security"

// SecurityReport summarizes the active security posture.
type SecurityReport = security.Report

// SecurityReport returns the posture derived from the engine configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		ProductionMode:   e.config.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		SessionTTL:       e.config.JWT.SessionTTL,
		Issuer:           e.config.JWT.Issuer,
		Audience:         e.config.JWT.Audience,
		OTPDigits:        e.config.OTP.Digits,
		OTPTTL:           e.config.OTP.TTL,
		OTPMaxAttempts:   e.config.OTP.MaxAttempts,
		NonceTTL:         e.config.Wallet.NonceTTL,
		Cooldown:         e.config.RateLimit.Cooldown,
		EnableIPThrottle: e.config.RateLimit.EnableIPThrottle,
		MaxVerifyPerIP:   e.config.RateLimit.MaxVerifyPerIP,
		SendLoginAlerts:  e.config.Notify.SendLoginAlerts,
		AuditEnabled:     e.config.Audit.Enabled,
	})
}
