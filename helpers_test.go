package walletauth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = append([]byte(nil), testSecret...)
	cfg.Wallet.Domain = "app.example.com"
	cfg.Notify.AppName = "Example"
	return cfg
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	dir    *memDirectory
	mailer *fakeMailer
}

type testOption func(*Builder)

func withLogger(l *zap.Logger) testOption {
	return func(b *Builder) { b.WithLogger(l) }
}

func withAuditSink(s AuditSink) testOption {
	return func(b *Builder) { b.WithAuditSink(s) }
}

func newTestEnv(t testing.TB, cfg Config, opts ...testOption) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	dir := newMemDirectory()
	mailer := &fakeMailer{}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithMailer(mailer)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, mr: mr, dir: dir, mailer: mailer}
}

/* ---------------- in-memory directory ---------------- */

type memDirectory struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: map[string]User{}}
}

func (d *memDirectory) failWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *memDirectory) seed(u User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	d.users[u.ID] = u
	return u
}

func (d *memDirectory) remove(id string) {
	d.mu.Lock()
	delete(d.users, id)
	d.mu.Unlock()
}

func (d *memDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

func (d *memDirectory) find(match func(User) bool) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	for _, u := range d.users {
		if match(u) {
			out := u
			out.Roles = append([]string(nil), u.Roles...)
			return &out, nil
		}
	}
	return nil, nil
}

func (d *memDirectory) FindByEmail(_ context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return d.find(func(u User) bool { return u.Email == email })
}

func (d *memDirectory) FindByWallet(_ context.Context, address string) (*User, error) {
	address = strings.ToLower(address)
	return d.find(func(u User) bool { return u.WalletAddress != "" && u.WalletAddress == address })
}

func (d *memDirectory) FindByID(_ context.Context, id string) (*User, error) {
	return d.find(func(u User) bool { return u.ID == id })
}

// claimedLocked mirrors the unique indexes of the SQL directories.
func (d *memDirectory) claimedLocked(selfID, email, wallet string) bool {
	for id, u := range d.users {
		if id == selfID {
			continue
		}
		if email != "" && u.Email == email {
			return true
		}
		if wallet != "" && u.WalletAddress == wallet {
			return true
		}
	}
	return false
}

func (d *memDirectory) Create(_ context.Context, in CreateUserInput) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	wallet := strings.ToLower(in.WalletAddress)
	if d.claimedLocked("", email, wallet) {
		return nil, ErrUserConflict
	}
	now := time.Now().UTC()
	u := User{
		ID:            uuid.NewString(),
		Email:         email,
		WalletAddress: wallet,
		IsVerified:    in.IsVerified,
		Roles:         append([]string(nil), in.Roles...),
		LastLogin:     in.LastLogin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	d.users[u.ID] = u
	out := u
	return &out, nil
}

func (d *memDirectory) Update(_ context.Context, id string, p UserPatch) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if p.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*p.Email))
	}
	if p.WalletAddress != nil {
		u.WalletAddress = strings.ToLower(*p.WalletAddress)
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
	if p.LastLogin != nil {
		u.LastLogin = *p.LastLogin
	}
	if p.Roles != nil {
		u.Roles = append([]string(nil), p.Roles...)
	}
	if d.claimedLocked(id, u.Email, u.WalletAddress) {
		return nil, ErrUserConflict
	}
	u.UpdatedAt = time.Now().UTC()
	d.users[id] = u
	out := u
	return &out, nil
}

/* ---------------- fake mailer ---------------- */

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type fakeMailer struct {
	mu     sync.Mutex
	sent   []EmailMessage
	fail   error
	onSend func(EmailMessage)
}

func (m *fakeMailer) Send(_ context.Context, msg EmailMessage) (SendResult, error) {
	m.mu.Lock()
	hook := m.onSend
	fail := m.fail
	m.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if fail != nil {
		return SendResult{}, fail
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	n := len(m.sent)
	m.mu.Unlock()
	return SendResult{MessageID: fmt.Sprintf("msg-%d", n)}, nil
}

func (m *fakeMailer) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *fakeMailer) count(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sent {
		if msg.Category == category {
			n++
		}
	}
	return n
}

// lastCode extracts the most recent OTP sent to to.
func (m *fakeMailer) lastCode(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		msg := m.sent[i]
		if msg.Category != "otp" || msg.To != to {
			continue
		}
		code := codePattern.FindString(msg.TextBody)
		if code == "" {
			t.Fatalf("no code in otp email body %q", msg.TextBody)
		}
		return code
	}
	t.Fatalf("no otp email sent to %s", to)
	return ""
}

/* ---------------- wallets ---------------- */

type testWallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newTestWallet(t testing.TB) testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return testWallet{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
}

// checksum returns the mixed-case EIP-55 form of the address.
func (w testWallet) checksum() string {
	return crypto.PubkeyToAddress(w.key.PublicKey).Hex()
}

// sign produces a personal_sign signature with a 27/28 recovery id, the form
// browser wallets return.
func (w testWallet) sign(t testing.TB, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig)
}

/* ---------------- assertions ---------------- */

func requireKind(t *testing.T, err error, want ErrorKind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, e.Kind, err)
	}
	return e
}
