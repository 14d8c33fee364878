package walletauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWalletLoginEndToEnd(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, w.checksum())
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	if ch.WalletAddress != w.address {
		t.Fatalf("expected lowercased address %s, got %s", w.address, ch.WalletAddress)
	}
	if !strings.Contains(ch.Message, "Nonce: ") || !strings.Contains(ch.Message, w.address) {
		t.Fatalf("message lacks nonce or address:\n%s", ch.Message)
	}
	if !strings.HasPrefix(ch.Message, "app.example.com wants you to sign in") {
		t.Fatalf("message does not name the domain:\n%s", ch.Message)
	}
	if env.mailer.count("otp") != 0 {
		t.Fatal("wallet challenges must not send email")
	}

	sig := w.sign(t, ch.Message)
	res, err := env.engine.VerifyWalletSignature(ctx, w.checksum(), sig)
	if err != nil {
		t.Fatalf("VerifyWalletSignature failed: %v", err)
	}
	if !res.IsNewUser || res.Method != LoginMethodWallet {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.User.WalletAddress != w.address {
		t.Fatalf("expected wallet %s, got %s", w.address, res.User.WalletAddress)
	}
	if res.User.Email != w.address+"@wallet.invalid" || !res.User.HasPlaceholderEmail() {
		t.Fatalf("expected placeholder email, got %q", res.User.Email)
	}
	if !res.User.IsVerified {
		t.Fatal("wallet users are verified on creation")
	}

	claims, err := env.engine.ValidateSession(ctx, res.Token)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if claims.Wallet != w.address || claims.Email != "" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	// Replay after consumption.
	_, err = env.engine.VerifyWalletSignature(ctx, w.address, sig)
	requireKind(t, err, KindBadRequest)
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired on replay, got %v", err)
	}
}

func TestWalletLoginExistingUser(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)
	seeded := env.dir.seed(User{Email: "carol@example.com", WalletAddress: w.address, IsVerified: true, Roles: []string{"scholar"}})

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	res, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message))
	if err != nil {
		t.Fatalf("VerifyWalletSignature failed: %v", err)
	}
	if res.IsNewUser || res.User.ID != seeded.ID {
		t.Fatalf("expected existing user %s, got %+v", seeded.ID, res)
	}
	if res.User.LastLogin.IsZero() {
		t.Fatal("expected lastLogin to be set")
	}

	env.engine.notifyWG.Wait()
	if got := env.mailer.count("login_alert"); got != 1 {
		t.Fatalf("expected login alert to the contact email, got %d", got)
	}
}

func TestWalletLoginNoAlertForPlaceholderEmail(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	if _, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message)); err != nil {
		t.Fatalf("VerifyWalletSignature failed: %v", err)
	}

	env.engine.notifyWG.Wait()
	if got := env.mailer.count("login_alert"); got != 0 {
		t.Fatalf("placeholder emails must not receive alerts, got %d", got)
	}
}

func TestLoginAfterCloseSendsNoAlert(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)
	env.dir.seed(User{Email: "carol@example.com", WalletAddress: w.address, IsVerified: true})

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}

	env.engine.Close()
	env.engine.Close()

	if _, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message)); err != nil {
		t.Fatalf("VerifyWalletSignature failed: %v", err)
	}
	env.engine.notifyWG.Wait()
	if got := env.mailer.count("login_alert"); got != 0 {
		t.Fatalf("expected no alert after Close, got %d", got)
	}
}

func TestCloseConcurrentWithLogins(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	const n = 16
	wallets := make([]testWallet, n)
	sigs := make([]string, n)
	for i := range wallets {
		wallets[i] = newTestWallet(t)
		env.dir.seed(User{Email: fmt.Sprintf("user%d@example.com", i), WalletAddress: wallets[i].address, IsVerified: true})
		ch, err := env.engine.RequestWalletChallenge(ctx, wallets[i].address)
		if err != nil {
			t.Fatalf("RequestWalletChallenge failed: %v", err)
		}
		sigs[i] = wallets[i].sign(t, ch.Message)
	}

	var wg sync.WaitGroup
	for i := range wallets {
		wg.Add(1)
		go func(address, sig string) {
			defer wg.Done()
			if _, err := env.engine.VerifyWalletSignature(ctx, address, sig); err != nil {
				t.Errorf("VerifyWalletSignature failed: %v", err)
			}
		}(wallets[i].address, sigs[i])
	}
	env.engine.Close()
	wg.Wait()

	if got := env.mailer.count("login_alert"); got > n {
		t.Fatalf("unexpected alert count %d", got)
	}
}

func TestWalletSignatureMismatchIsUnauthorizedAndKeepsNonce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	owner := newTestWallet(t)
	attacker := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, owner.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}

	_, err = env.engine.VerifyWalletSignature(ctx, owner.address, attacker.sign(t, ch.Message))
	requireKind(t, err, KindUnauthorized)
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}

	if _, err := env.engine.VerifyWalletSignature(ctx, owner.address, owner.sign(t, ch.Message)); err != nil {
		t.Fatalf("owner should still verify after a mismatch: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricWalletSignatureMismatch]; got != 1 {
		t.Fatalf("expected one mismatch, got %d", got)
	}
}

func TestWalletSignatureOverOtherMessageIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	if _, err := env.engine.RequestWalletChallenge(ctx, w.address); err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	_, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, "some other text"))
	requireKind(t, err, KindUnauthorized)
}

func TestWalletMalformedSignatureIsBadRequest(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	if _, err := env.engine.RequestWalletChallenge(ctx, w.address); err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}

	bad := []string{
		"",
		"0x1234",
		"not-hex-at-all",
		"0x" + strings.Repeat("ab", 65),
		"0x" + strings.Repeat("00", 64) + "1b",
	}
	for _, sig := range bad {
		_, err := env.engine.VerifyWalletSignature(ctx, w.address, sig)
		requireKind(t, err, KindBadRequest)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%q: expected ErrInvalidSignature, got %v", sig, err)
		}
	}
}

func TestWalletVerifyWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	w := newTestWallet(t)

	_, err := env.engine.VerifyWalletSignature(context.Background(), w.address, w.sign(t, "anything"))
	requireKind(t, err, KindBadRequest)
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestWalletChallengeRejectsMalformedAddress(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	for _, addr := range []string{"", "0x123", "abcdefabcdefabcdefabcdefabcdefabcdefabcd", "0xZZcdefabcdefabcdefabcdefabcdefabcdefabcd"} {
		_, err := env.engine.RequestWalletChallenge(ctx, addr)
		requireKind(t, err, KindBadRequest)
		if !errors.Is(err, ErrInvalidWalletAddress) {
			t.Fatalf("%q: expected ErrInvalidWalletAddress, got %v", addr, err)
		}
	}
}

func TestWalletChallengeCooldownKeyedByAddress(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	if _, err := env.engine.RequestWalletChallenge(ctx, w.address); err != nil {
		t.Fatalf("first challenge failed: %v", err)
	}
	_, err := env.engine.RequestWalletChallenge(ctx, w.checksum())
	requireKind(t, err, KindTooManyRequests)

	if _, err := env.engine.RequestWalletChallenge(ctx, newTestWallet(t).address); err != nil {
		t.Fatalf("other address should not be throttled: %v", err)
	}
}

func TestWalletChallengeExpires(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	env.mr.FastForward(11 * time.Minute)

	_, err = env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message))
	requireKind(t, err, KindBadRequest)
}

func TestWalletVerifyUsesIssuedMessageNotClock(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}

	// A later clock at verification time must not change what is verified.
	later := time.Now().Add(5 * time.Minute)
	env.engine.now = func() time.Time { return later }

	if _, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message)); err != nil {
		t.Fatalf("verification should use the persisted message: %v", err)
	}
}

func TestWalletVerifyConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	sig := w.sign(t, ch.Message)

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := env.engine.VerifyWalletSignature(ctx, w.address, sig); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if env.dir.count() != 1 {
		t.Fatalf("expected one user, got %d", env.dir.count())
	}
}

func TestWalletCreateConflictSurfacesAsConflict(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	w := newTestWallet(t)

	// Another account already holds the placeholder email for this address,
	// so the create loses on the directory's unique index.
	env.dir.seed(User{Email: PlaceholderEmail(w.address)})

	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		t.Fatalf("RequestWalletChallenge failed: %v", err)
	}
	_, err = env.engine.VerifyWalletSignature(ctx, w.address, w.sign(t, ch.Message))
	requireKind(t, err, KindConflict)
	if !errors.Is(err, ErrUserConflict) {
		t.Fatalf("expected ErrUserConflict, got %v", err)
	}
}

func TestRecoverAddressAcceptsRawRecoveryID(t *testing.T) {
	w := newTestWallet(t)
	sig := w.sign(t, "hello")

	// Convert the trailing 1b/1c to 00/01.
	raw := sig[:len(sig)-2]
	if strings.HasSuffix(sig, "1b") {
		raw += "00"
	} else {
		raw += "01"
	}

	for _, s := range []string{sig, raw, strings.TrimPrefix(sig, "0x")} {
		got, err := recoverAddress("hello", s)
		if err != nil {
			t.Fatalf("recoverAddress(%q) failed: %v", s, err)
		}
		if got != w.address {
			t.Fatalf("expected %s, got %s", w.address, got)
		}
	}
}
