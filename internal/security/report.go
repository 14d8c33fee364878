package security

import "time"

// Report summarizes the security posture of a running engine.
type Report struct {
	ProductionMode      bool
	SigningAlgorithm    string
	SessionTTL          time.Duration
	AudienceBound       bool
	IssuerBound         bool
	OTPDigits           int
	OTPTTL              time.Duration
	OTPMaxAttempts      int
	OTPGuessSpace       float64
	NonceTTL            time.Duration
	CooldownActive      bool
	IPThrottleActive    bool
	LoginAlertsActive   bool
	AuditActive         bool
	EffectiveOTPSuccess float64
}

// ReportInput is the flattened configuration the report is derived from.
type ReportInput struct {
	ProductionMode   bool
	SigningAlgorithm string
	SessionTTL       time.Duration
	Issuer           string
	Audience         string
	OTPDigits        int
	OTPTTL           time.Duration
	OTPMaxAttempts   int
	NonceTTL         time.Duration
	Cooldown         time.Duration
	EnableIPThrottle bool
	MaxVerifyPerIP   int
	SendLoginAlerts  bool
	AuditEnabled     bool
}

// BuildReport derives a Report. EffectiveOTPSuccess is the chance that a
// single pending code falls to blind guessing before it is burned.
func BuildReport(input ReportInput) Report {
	space := 9.0
	for i := 1; i < input.OTPDigits; i++ {
		space *= 10
	}

	var success float64
	if space > 0 && input.OTPMaxAttempts > 0 {
		success = float64(input.OTPMaxAttempts) / space
		if success > 1 {
			success = 1
		}
	}

	return Report{
		ProductionMode:      input.ProductionMode,
		SigningAlgorithm:    input.SigningAlgorithm,
		SessionTTL:          input.SessionTTL,
		AudienceBound:       input.Audience != "",
		IssuerBound:         input.Issuer != "",
		OTPDigits:           input.OTPDigits,
		OTPTTL:              input.OTPTTL,
		OTPMaxAttempts:      input.OTPMaxAttempts,
		OTPGuessSpace:       space,
		NonceTTL:            input.NonceTTL,
		CooldownActive:      input.Cooldown > 0,
		IPThrottleActive:    input.EnableIPThrottle && input.MaxVerifyPerIP > 0,
		LoginAlertsActive:   input.SendLoginAlerts,
		AuditActive:         input.AuditEnabled,
		EffectiveOTPSuccess: success,
	}
}
