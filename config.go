package walletauth

import (
	"errors"
	"strings"
	"time"
)

// Config defines every tunable of the engine. It is read once by
// [Builder.Build]; nothing in the engine reads the process environment.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT            JWTConfig
	OTP            OTPConfig
	Wallet         WalletConfig
	RateLimit      RateLimitConfig
	Account        AccountConfig
	Notify         NotifyConfig
	Store          StoreConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ProductionMode bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls session token signing.
type JWTConfig struct {
	SessionTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// OTPConfig controls email one-time codes.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// WalletConfig controls the message a wallet is asked to sign.
type WalletConfig struct {
	NonceTTL time.Duration
	// Domain is the site name shown in the first line of the sign-in message.
	Domain string
	// Statement is the human-readable sentence shown above the nonce.
	Statement string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls challenge issuance throttling. The per-subject
// cooldown is always enforced; set Cooldown to zero to disable it in tests.
type RateLimitConfig struct {
	Cooldown         time.Duration
	EnableIPThrottle bool
	MaxIssuePerIP    int
	MaxVerifyPerIP   int
	IPWindow         time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls users provisioned by the engine.
type AccountConfig struct {
	DefaultRole string
}

// NotifyConfig controls outbound email content.
type NotifyConfig struct {
	AppName         string
	SendLoginAlerts bool
	// AlertTimeout bounds a single fire-and-forget login alert.
	AlertTimeout time.Duration
}

// StoreConfig controls the ephemeral store key layout.
type StoreConfig struct {
	RedisPrefix string
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a development-ready configuration. A signing key must
// still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SessionTTL:    30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "walletauth",
			Leeway:        30 * time.Second,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		Wallet: WalletConfig{
			NonceTTL:  10 * time.Minute,
			Domain:    "localhost",
			Statement: "Sign this message to prove you own this wallet. It will not trigger a blockchain transaction or cost any gas.",
		},
		RateLimit: RateLimitConfig{
			Cooldown:         60 * time.Second,
			EnableIPThrottle: true,
			MaxIssuePerIP:    20,
			MaxVerifyPerIP:   60,
			IPWindow:         15 * time.Minute,
		},
		Account: AccountConfig{
			DefaultRole: "scholar",
		},
		Notify: NotifyConfig{
			AppName:         "walletauth",
			SendLoginAlerts: true,
			AlertTimeout:    15 * time.Second,
		},
		Store: StoreConfig{
			RedisPrefix: "wa",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.SessionTTL <= 0 {
		return errors.New("JWT SessionTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be within [4, 10]")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 65535 {
		return errors.New("OTP MaxAttempts must be within [1, 65535]")
	}

	// Wallet
	if c.Wallet.NonceTTL <= 0 {
		return errors.New("Wallet NonceTTL must be > 0")
	}
	if strings.TrimSpace(c.Wallet.Domain) == "" {
		return errors.New("Wallet Domain must be set")
	}
	if strings.ContainsAny(c.Wallet.Domain, "\r\n") || strings.ContainsAny(c.Wallet.Statement, "\r\n") {
		return errors.New("Wallet Domain and Statement must be single-line")
	}

	// Rate limits
	if c.RateLimit.Cooldown < 0 {
		return errors.New("RateLimit Cooldown must be >= 0")
	}
	if c.RateLimit.EnableIPThrottle {
		if c.RateLimit.MaxIssuePerIP <= 0 || c.RateLimit.MaxVerifyPerIP <= 0 {
			return errors.New("RateLimit IP budgets must be > 0 when EnableIPThrottle is true")
		}
		if c.RateLimit.IPWindow <= 0 {
			return errors.New("RateLimit IPWindow must be > 0 when EnableIPThrottle is true")
		}
	}

	// Account
	if strings.TrimSpace(c.Account.DefaultRole) == "" {
		return errors.New("Account DefaultRole must be set")
	}

	if c.Notify.AlertTimeout < 0 {
		return errors.New("Notify AlertTimeout must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.ProductionMode && c.RateLimit.Cooldown == 0 {
		return errors.New("RateLimit Cooldown must be > 0 in ProductionMode")
	}

	return nil
}
