package walletauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
	"github.com/MrEthical07/walletauth/internal/limiters"
	"github.com/MrEthical07/walletauth/internal/rate"
	"github.com/MrEthical07/walletauth/internal/stores"
	"github.com/MrEthical07/walletauth/jwt"
)

// Builder assembles an [Engine] from a [Config] and its collaborators.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory UserDirectory
	mailer    Mailer
	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Key material is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, cooldowns and IP windows.
// Any go-redis client works, including cluster and sentinel clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the persistent user store.
func (b *Builder) WithDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithMailer sets the transport used for OTP and login alert emails.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets where audit events go. It only takes effect when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. A nil logger disables logging.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready engine. A builder
// can only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	// -------- SESSION TOKENS --------
	jwtManager, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.JWT.SessionTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	// -------- EPHEMERAL STATE --------
	store := ephemeral.New(b.redis, cfg.Store.RedisPrefix)

	rateLimiter := rate.New(store, rate.Config{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		MaxIssuePerIP:    cfg.RateLimit.MaxIssuePerIP,
		MaxVerifyPerIP:   cfg.RateLimit.MaxVerifyPerIP,
		Window:           cfg.RateLimit.IPWindow,
	})

	for _, w := range cfg.Lint().AtLeast(LintWarn) {
		logger.Warn("config lint", zap.String("code", w.Code), zap.String("detail", w.Message))
	}

	engine := &Engine{
		config:      cfg,
		store:       store,
		challenges:  stores.NewChallengeStore(store),
		cooldown:    limiters.NewCooldown(store, cfg.RateLimit.Cooldown),
		rateLimiter: rateLimiter,
		directory:   b.directory,
		mailer:      b.mailer,
		jwtManager:  jwtManager,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink, logger),
		metrics:     NewMetrics(cfg.Metrics),
		logger:      logger,
		now:         time.Now,
	}

	b.built = true
	return engine, nil
}
