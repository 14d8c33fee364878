// Command authd serves the walletauth HTTP API.
//
// Configuration comes from the environment, optionally seeded from a .env
// file in the working directory. AUTH_DEV=1 runs fully in-process: an
// embedded Redis, an in-memory SQLite directory and a mailer that logs
// messages instead of sending them.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/audit/kafkasink"
	"github.com/MrEthical07/walletauth/directory/postgres"
	"github.com/MrEthical07/walletauth/directory/sqlite"
	"github.com/MrEthical07/walletauth/httpapi"
	"github.com/MrEthical07/walletauth/mailer"
	"github.com/MrEthical07/walletauth/metrics/export/prometheus"
	"github.com/MrEthical07/walletauth/session"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg serverConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// run blocks until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// -------- EPHEMERAL STORE --------
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start embedded redis: %w", err)
		}
		closers = append(closers, mr.Close)
		redisAddr = mr.Addr()
		logger.Warn("using embedded redis; challenges are lost on restart", zap.String("addr", redisAddr))
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	closers = append(closers, func() { _ = rdb.Close() })

	// -------- USER DIRECTORY --------
	var (
		directory walletauth.UserDirectory
		dirCheck  httpapi.Pinger
	)
	switch cfg.DBAdapter {
	case adapterPostgres:
		d, err := postgres.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return err
		}
		closers = append(closers, d.Close)
		if err := d.Migrate(ctx); err != nil {
			return err
		}
		directory, dirCheck = d, d
	default:
		d, err := sqlite.Open(ctx, cfg.SQLiteFile, logger)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = d.Close() })
		directory, dirCheck = d, d
	}

	// -------- MAILER --------
	var m walletauth.Mailer
	switch cfg.Mailer {
	case mailerLog:
		m = mailer.NewLog(logger)
	default:
		s, err := mailer.NewSMTP(cfg.SMTP, logger)
		if err != nil {
			return err
		}
		m = s
	}

	// -------- AUDIT --------
	sinks := walletauth.MultiSink{walletauth.NewZapAuditSink(logger)}
	if len(cfg.AuditKafkaBrokers) > 0 {
		w := kafkasink.NewWriter(cfg.AuditKafkaBrokers, cfg.AuditKafkaTopic)
		// Registered before the engine so it closes after the audit buffer drains.
		closers = append(closers, func() { _ = w.Close() })
		ks, err := kafkasink.New(w, logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, ks)
		logger.Info("publishing audit events to kafka",
			zap.Strings("brokers", cfg.AuditKafkaBrokers),
			zap.String("topic", cfg.AuditKafkaTopic),
		)
	}

	// -------- ENGINE --------
	engineCfg := cfg.Engine
	if len(engineCfg.JWT.PrivateKey) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		engineCfg.JWT.PrivateKey = secret
		logger.Warn("JWT_SECRET unset; sessions will not survive a restart")
	}

	engine, err := walletauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithDirectory(directory).
		WithMailer(m).
		WithAuditSink(sinks).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	closers = append(closers, engine.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = engine.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	// -------- HTTP --------
	transport, err := session.NewTransport(session.ForDeployment(engineCfg.ProductionMode, cfg.CookieDomain))
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Engine:         engine,
		Transport:      transport,
		Logger:         logger,
		Production:     engineCfg.ProductionMode,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustProxy:     cfg.TrustProxy,
		Checks:         map[string]httpapi.Pinger{"directory": dirCheck},
	})
	if err != nil {
		return err
	}
	router.Handle("/metrics", prometheus.New(engine).Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening",
			zap.String("addr", cfg.Addr),
			zap.Bool("production", engineCfg.ProductionMode),
			zap.String("directory", cfg.DBAdapter),
			zap.String("mailer", cfg.Mailer),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("authd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
