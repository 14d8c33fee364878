// Package authtest wires a real engine for HTTP-level tests: miniredis for
// ephemeral state, an in-memory SQLite directory and a capturing mailer.
package authtest

import (
	"context"
	"crypto/ecdsa"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/directory/sqlite"
)

// Secret is the HS256 key every harness engine signs with.
var Secret = []byte("0123456789abcdef0123456789abcdef")

// Config returns an engine configuration suitable for tests.
func Config() walletauth.Config {
	cfg := walletauth.DefaultConfig()
	cfg.JWT.PrivateKey = append([]byte(nil), Secret...)
	cfg.Wallet.Domain = "app.example.com"
	cfg.Notify.AppName = "Example"
	return cfg
}

// Harness holds a running engine and its collaborators.
type Harness struct {
	Engine    *walletauth.Engine
	Redis     *miniredis.Miniredis
	Directory *sqlite.Directory
	Mailer    *Mailer
}

// New builds a harness from cfg. Everything is torn down with t.
func New(t *testing.T, cfg walletauth.Config, logger *zap.Logger) *Harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir, err := sqlite.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)

	m := &Mailer{}
	engine, err := walletauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithMailer(m).
		WithLogger(logger).
		Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		_ = dir.Close()
	})

	return &Harness{Engine: engine, Redis: mr, Directory: dir, Mailer: m}
}

// LoginByEmail runs the OTP flow for email and returns the session.
func (h *Harness) LoginByEmail(t *testing.T, email string) *walletauth.LoginResult {
	t.Helper()
	ctx := context.Background()

	_, err := h.Engine.RequestEmailOTP(ctx, email)
	require.NoError(t, err)
	res, err := h.Engine.VerifyEmailOTP(ctx, email, h.Mailer.LastCode(t, email))
	require.NoError(t, err)
	return res
}

var codePattern = regexp.MustCompile(`\b\d{4,10}\b`)

// Mailer records every message it is asked to send.
type Mailer struct {
	mu   sync.Mutex
	sent []walletauth.EmailMessage
}

func (m *Mailer) Send(_ context.Context, msg walletauth.EmailMessage) (walletauth.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return walletauth.SendResult{MessageID: "test"}, nil
}

// Sent returns a copy of the recorded messages.
func (m *Mailer) Sent() []walletauth.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]walletauth.EmailMessage(nil), m.sent...)
}

// LastCode returns the code from the most recent OTP email sent to to.
func (m *Mailer) LastCode(t *testing.T, to string) string {
	t.Helper()
	sent := m.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Category != "otp" || sent[i].To != to {
			continue
		}
		code := codePattern.FindString(sent[i].TextBody)
		require.NotEmpty(t, code, "no code in %q", sent[i].TextBody)
		return code
	}
	t.Fatalf("no otp email sent to %s", to)
	return ""
}

// Wallet is a throwaway Ethereum key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	Address string
}

func NewWallet(t *testing.T) Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return Wallet{key: key, Address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

// Sign produces a personal_sign signature over message.
func (w Wallet) Sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}
