package walletauth

import (
	"context"
	"testing"
)

func benchWalletLogin(b *testing.B, env *testEnv, w testWallet) *LoginResult {
	b.Helper()
	ctx := context.Background()
	ch, err := env.engine.RequestWalletChallenge(ctx, w.address)
	if err != nil {
		b.Fatalf("challenge failed: %v", err)
	}
	res, err := env.engine.VerifyWalletSignature(ctx, w.address, w.sign(b, ch.Message))
	if err != nil {
		b.Fatalf("verify failed: %v", err)
	}
	return res
}

func BenchmarkValidateSession(b *testing.B) {
	env := newTestEnv(b, testConfig())
	res := benchWalletLogin(b, env, newTestWallet(b))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.ValidateSession(context.Background(), res.Token); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkCurrentUser(b *testing.B) {
	env := newTestEnv(b, testConfig())
	res := benchWalletLogin(b, env, newTestWallet(b))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.CurrentUser(context.Background(), res.Token); err != nil {
			b.Fatalf("current user failed: %v", err)
		}
	}
}

// BenchmarkWalletLogin covers challenge issue, signature recovery and
// session signing for a returning user.
func BenchmarkWalletLogin(b *testing.B) {
	cfg := testConfig()
	cfg.RateLimit.Cooldown = 0
	env := newTestEnv(b, cfg)
	w := newTestWallet(b)
	benchWalletLogin(b, env, w)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchWalletLogin(b, env, w)
	}
}

func BenchmarkCheckAuthInvalid(b *testing.B) {
	env := newTestEnv(b, testConfig())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := env.engine.CheckAuth(context.Background(), "not-a-token"); res.Authenticated {
			b.Fatal("garbage token authenticated")
		}
	}
}
