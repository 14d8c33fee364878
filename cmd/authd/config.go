package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/mailer"
)

const (
	adapterSQLite   = "sqlite"
	adapterPostgres = "postgres"

	mailerSMTP = "smtp"
	mailerLog  = "log"
)

type serverConfig struct {
	Addr     string
	Dev      bool
	LogLevel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBAdapter   string
	PostgresDSN string
	SQLiteFile  string

	Mailer string
	SMTP   mailer.SMTPConfig

	CookieDomain   string
	AllowedOrigins []string
	TrustProxy     bool

	AuditKafkaBrokers []string
	AuditKafkaTopic   string

	Engine walletauth.Config
}

// envReader collects parse failures so one run reports every bad variable.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) str(key, fallback string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (r *envReader) integer(key string, fallback int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (r *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadConfig maps environment variables onto the server and engine
// configuration. Unset variables keep the library defaults.
func loadConfig(getenv func(string) string) (serverConfig, error) {
	r := &envReader{getenv: getenv}
	production := r.boolean("AUTH_PRODUCTION", false)

	engine := walletauth.DefaultConfig()
	engine.ProductionMode = production
	engine.JWT.PrivateKey = []byte(r.str("JWT_SECRET", ""))
	engine.JWT.Issuer = r.str("JWT_ISSUER", engine.JWT.Issuer)
	engine.JWT.Audience = r.str("JWT_AUDIENCE", engine.JWT.Audience)
	engine.JWT.SessionTTL = r.duration("SESSION_TTL", engine.JWT.SessionTTL)
	engine.OTP.TTL = r.duration("OTP_TTL", engine.OTP.TTL)
	engine.OTP.MaxAttempts = r.integer("OTP_MAX_ATTEMPTS", engine.OTP.MaxAttempts)
	engine.Wallet.NonceTTL = r.duration("NONCE_TTL", engine.Wallet.NonceTTL)
	engine.Wallet.Domain = r.str("WALLET_DOMAIN", engine.Wallet.Domain)
	engine.RateLimit.Cooldown = r.duration("COOLDOWN", engine.RateLimit.Cooldown)
	engine.RateLimit.EnableIPThrottle = r.boolean("IP_THROTTLE", engine.RateLimit.EnableIPThrottle)
	engine.Account.DefaultRole = r.str("DEFAULT_ROLE", engine.Account.DefaultRole)
	engine.Notify.AppName = r.str("APP_NAME", engine.Notify.AppName)
	engine.Notify.SendLoginAlerts = r.boolean("LOGIN_ALERTS", engine.Notify.SendLoginAlerts)
	engine.Store.RedisPrefix = r.str("REDIS_PREFIX", engine.Store.RedisPrefix)
	engine.Audit.Enabled = r.boolean("AUDIT_ENABLED", engine.Audit.Enabled)
	engine.Metrics.EnableLatencyHistograms = r.boolean("METRICS_LATENCY", engine.Metrics.EnableLatencyHistograms)

	cfg := serverConfig{
		Addr:     r.str("AUTH_ADDR", ":8080"),
		Dev:      r.boolean("AUTH_DEV", false),
		LogLevel: r.str("LOG_LEVEL", "info"),

		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.integer("REDIS_DB", 0),

		DBAdapter:   strings.ToLower(r.str("DB_ADAPTER", adapterSQLite)),
		PostgresDSN: r.str("POSTGRES_DSN", ""),
		SQLiteFile:  r.str("SQLITE_FILE", "walletauth.db"),

		Mailer: strings.ToLower(r.str("MAILER", mailerSMTP)),
		SMTP: mailer.SMTPConfig{
			Host:     r.str("SMTP_HOST", ""),
			Port:     r.integer("SMTP_PORT", 465),
			Username: r.str("SMTP_USERNAME", ""),
			Password: r.str("SMTP_PASSWORD", ""),
			From:     r.str("SMTP_FROM", ""),
			FromName: r.str("SMTP_FROM_NAME", ""),
			TLS:      mailer.TLSMode(strings.ToLower(r.str("SMTP_TLS", string(mailer.TLSImplicit)))),
			Timeout:  r.duration("SMTP_TIMEOUT", 15*time.Second),
		},

		CookieDomain:   r.str("COOKIE_DOMAIN", ""),
		AllowedOrigins: r.list("CORS_ORIGINS"),
		TrustProxy:     r.boolean("TRUST_PROXY", false),

		AuditKafkaBrokers: r.list("AUDIT_KAFKA_BROKERS"),
		AuditKafkaTopic:   r.str("AUDIT_KAFKA_TOPIC", "walletauth.audit"),

		Engine: engine,
	}

	if cfg.Dev {
		if production {
			r.errs = append(r.errs, errors.New("AUTH_DEV cannot be combined with AUTH_PRODUCTION"))
		}
		// Dev mode runs without any external service unless one is named.
		if r.getenv("MAILER") == "" {
			cfg.Mailer = mailerLog
		}
		if r.getenv("SQLITE_FILE") == "" {
			cfg.SQLiteFile = ":memory:"
		}
	} else if cfg.RedisAddr == "" {
		r.errs = append(r.errs, errors.New("REDIS_ADDR is required outside dev mode"))
	}

	switch cfg.DBAdapter {
	case adapterSQLite:
	case adapterPostgres:
		if cfg.PostgresDSN == "" {
			r.errs = append(r.errs, errors.New("POSTGRES_DSN is required for the postgres adapter"))
		}
	default:
		r.errs = append(r.errs, fmt.Errorf("DB_ADAPTER: unknown adapter %q", cfg.DBAdapter))
	}

	switch cfg.Mailer {
	case mailerLog:
		if production {
			r.errs = append(r.errs, errors.New("MAILER=log is not allowed in production"))
		}
	case mailerSMTP:
		if cfg.SMTP.Host == "" || cfg.SMTP.From == "" {
			r.errs = append(r.errs, errors.New("SMTP_HOST and SMTP_FROM are required for the smtp mailer"))
		}
	default:
		r.errs = append(r.errs, fmt.Errorf("MAILER: unknown mailer %q", cfg.Mailer))
	}

	if len(cfg.AuditKafkaBrokers) > 0 && !cfg.Engine.Audit.Enabled {
		r.errs = append(r.errs, errors.New("AUDIT_KAFKA_BROKERS requires AUDIT_ENABLED"))
	}

	if len(cfg.Engine.JWT.PrivateKey) == 0 && !cfg.Dev {
		r.errs = append(r.errs, errors.New("JWT_SECRET is required outside dev mode"))
	}

	if err := errors.Join(r.errs...); err != nil {
		return serverConfig{}, err
	}
	return cfg, nil
}
