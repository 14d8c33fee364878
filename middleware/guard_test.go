package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/internal/authtest"
	"github.com/MrEthical07/walletauth/internal/httpx"
	"github.com/MrEthical07/walletauth/session"
)

func newTransport(t *testing.T) *session.Transport {
	t.Helper()
	tr, err := session.NewTransport(session.DefaultConfig())
	require.NoError(t, err)
	return tr
}

// echoHandler reports what the guard put in the context.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s, ok := SessionFromContext(r.Context()); ok {
		out["email"] = s.User.Email
	}
	if c, ok := ClaimsFromContext(r.Context()); ok {
		out["uid"] = c.UID
	}
	_ = json.NewEncoder(w).Encode(out)
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestGuardAcceptsCookieAndBearer(t *testing.T) {
	h := authtest.New(t, authtest.Config(), nil)
	tr := newTransport(t)
	res := h.LoginByEmail(t, "guard@example.com")

	handler := Guard(h.Engine, tr)(http.HandlerFunc(echoHandler))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: tr.Config().Name, Value: res.Token})
	rec, body := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "guard@example.com", body["email"])
	require.Equal(t, res.User.ID, body["uid"])

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	rec, body = serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "guard@example.com", body["email"])
}

func TestGuardRejections(t *testing.T) {
	h := authtest.New(t, authtest.Config(), nil)
	tr := newTransport(t)
	res := h.LoginByEmail(t, "reject@example.com")
	handler := Guard(h.Engine, tr)(http.HandlerFunc(echoHandler))

	t.Run("missing token", func(t *testing.T) {
		rec, body := serve(handler, httptest.NewRequest(http.MethodGet, "/me", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "session_missing", body["error_code"])
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec, body := serve(handler, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "session_invalid", body["error_code"])
	})

	t.Run("unverified user", func(t *testing.T) {
		unverified := false
		_, err := h.Directory.Update(context.Background(), res.User.ID, walletauth.UserPatch{IsVerified: &unverified})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+res.Token)
		rec, body := serve(handler, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "session_unverified", body["error_code"])
	})
}

func TestRequireJWTOnlySkipsDirectory(t *testing.T) {
	h := authtest.New(t, authtest.Config(), nil)
	tr := newTransport(t)
	res := h.LoginByEmail(t, "stateless@example.com")

	unverified := false
	_, err := h.Directory.Update(context.Background(), res.User.ID, walletauth.UserPatch{IsVerified: &unverified})
	require.NoError(t, err)

	handler := RequireJWTOnly(h.Engine, tr)(http.HandlerFunc(echoHandler))

	req := httptest.NewRequest(http.MethodGet, "/claims", nil)
	req.Header.Set("Authorization", "bearer "+res.Token)
	rec, body := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, res.User.ID, body["uid"])
	require.NotContains(t, body, "email")

	rec, body = serve(handler, httptest.NewRequest(http.MethodGet, "/claims", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_missing", body["error_code"])
}

func TestGuardDirectoryOutage(t *testing.T) {
	h := authtest.New(t, authtest.Config(), nil)
	tr := newTransport(t)
	res := h.LoginByEmail(t, "outage@example.com")
	require.NoError(t, h.Directory.Close())

	handler := Guard(h.Engine, tr, WithProductionErrors(true))(http.HandlerFunc(echoHandler))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body httpx.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "directory_unavailable", body.Code)
}
