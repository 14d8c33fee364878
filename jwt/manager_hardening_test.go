package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SessionTTL:    ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "walletauth",
		Audience:      "web",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerRejectsShortHMACSecret(t *testing.T) {
	_, err := NewManager(Config{SessionTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("short")})
	if err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestCreateAndParseSessionRoundTrip(t *testing.T) {
	m := newHSManager(t, time.Hour)

	token, exp, err := m.CreateSession(SessionClaims{
		UID:      "u1",
		Email:    "a@b.com",
		Roles:    []string{"scholar"},
		Verified: true,
		Wallet:   "0xabc",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.ParseSession(token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if claims.UID != "u1" || claims.Email != "a@b.com" || !claims.Verified || claims.Wallet != "0xabc" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "scholar" {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
	if claims.Issuer != "walletauth" || claims.Subject != "u1" {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
}

func TestParseSessionDistinguishesExpiredFromMalformed(t *testing.T) {
	m := newHSManager(t, time.Minute)

	issuedAt := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issuedAt }
	token, _, err := m.CreateSession(SessionClaims{UID: "u1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	m.now = time.Now

	_, err = m.ParseSession(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenMalformed) {
		t.Fatal("expired token must not also be malformed")
	}

	for _, bad := range []string{"", "not.a.jwt", token + "x", "eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0."} {
		_, err := m.ParseSession(bad)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("expected ErrTokenMalformed for %q, got %v", bad, err)
		}
	}
}

func TestParseSessionExpiredButForgedIsMalformed(t *testing.T) {
	m := newHSManager(t, time.Minute)

	claims := SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "walletauth",
		Audience:  gjwt.ClaimStrings{"web"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseSession(forged); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected forged token to be malformed, got %v", err)
	}
}

func TestParseSessionRejectsWrongAlgorithm(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{SessionTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseSession(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected wrong algorithm to be rejected as malformed, got %v", err)
	}
}

func TestParseSessionIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SessionTTL:    time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "walletauth",
		Audience:      "web",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	sign := func(c SessionClaims) string {
		tok, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return tok
	}

	wrongIssuer := sign(SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"web"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	if _, err := m.ParseSession(wrongIssuer); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected wrong issuer to fail as malformed, got %v", err)
	}

	wrongAudience := sign(SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "walletauth",
		Audience:  gjwt.ClaimStrings{"mobile"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	if _, err := m.ParseSession(wrongAudience); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected wrong audience to fail as malformed, got %v", err)
	}

	within := sign(SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "walletauth",
		Audience:  gjwt.ClaimStrings{"web"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-15 * time.Second)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	if _, err := m.ParseSession(within); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	missingExp := sign(SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:   "walletauth",
		Audience: gjwt.ClaimStrings{"web"},
	}})
	if _, err := m.ParseSession(missingExp); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected token without exp to be malformed, got %v", err)
	}

	futureIAT := sign(SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "walletauth",
		Audience:  gjwt.ClaimStrings{"web"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(48 * time.Hour)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}})
	if _, err := m.ParseSession(futureIAT); err == nil {
		t.Fatal("expected far-future iat to fail")
	}
}

func TestParseSessionKidMismatchFails(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{SessionTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, KeyID: "k1"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	good, _, err := m.CreateSession(SessionClaims{UID: "u1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := m.ParseSession(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	claims := SessionClaims{UID: "u1", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	other, _ := tok.SignedString(priv)
	if _, err := m.ParseSession(other); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected unknown kid failure, got %v", err)
	}
}
