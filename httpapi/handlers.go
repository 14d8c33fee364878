package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/internal/httpx"
	"github.com/MrEthical07/walletauth/middleware"
)

const maxBodyBytes = 64 << 10

type emailRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type walletSignatureRequest struct {
	WalletAddress string `json:"wallet_address"`
	Signature     string `json:"signature"`
}

type otpChallengeResponse struct {
	Email     string `json:"email"`
	ExpiresIn int64  `json:"expiresIn"`
}

type walletChallengeResponse struct {
	Message       string `json:"message"`
	WalletAddress string `json:"wallet_address"`
	ExpiresIn     int64  `json:"expiresIn"`
}

type loginResponse struct {
	Token     string           `json:"token"`
	User      *walletauth.User `json:"user"`
	IsNewUser bool             `json:"isNewUser"`
}

type userResponse struct {
	User *walletauth.User `json:"user"`
}

type checkResponse struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *walletauth.User `json:"user,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

func (h *handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, err := h.engine.RequestEmailOTP(r.Context(), req.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, otpChallengeResponse{Email: ch.Email, ExpiresIn: seconds(ch.ExpiresIn)})
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.VerifyEmailOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.login(w, res)
}

func (h *handler) walletChallenge(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, err := h.engine.RequestWalletChallenge(r.Context(), req.WalletAddress)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, walletChallengeFrom(ch))
}

func (h *handler) walletVerify(w http.ResponseWriter, r *http.Request) {
	var req walletSignatureRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.VerifyWalletSignature(r.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.login(w, res)
}

func (h *handler) linkChallenge(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	var req walletRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, err := h.engine.RequestWalletLinkChallenge(r.Context(), sess.User.ID, req.WalletAddress)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, walletChallengeFrom(ch))
}

func (h *handler) link(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	var req walletSignatureRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.engine.LinkWallet(r.Context(), sess.User.ID, req.WalletAddress, req.Signature)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, userResponse{User: user})
}

func (h *handler) unlink(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	user, err := h.engine.UnlinkWallet(r.Context(), sess.User.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, userResponse{User: user})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	h.ok(w, userResponse{User: sess.User})
}

// check never fails. A negative answer carries the reason.
func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	token, _, _ := h.transport.Extract(r)
	res := h.engine.CheckAuth(r.Context(), token)
	if res.Authenticated {
		h.ok(w, checkResponse{IsAuthenticated: true, User: res.User})
		return
	}
	h.ok(w, checkResponse{Reason: string(res.Status)})
}

// logout only clears the cookie. Session tokens are stateless and stay valid
// for bearer clients until they expire.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	h.transport.Clear(w)
	h.ok(w, map[string]bool{"success": true})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"engine": "ok"}
	healthy := true
	if err := h.engine.Ping(ctx); err != nil {
		status["engine"] = "unavailable"
		healthy = false
	}
	for name, c := range h.checks {
		status[name] = "ok"
		if err := c.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			status[name] = "unavailable"
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, h.logger, code, status)
}

func (h *handler) login(w http.ResponseWriter, res *walletauth.LoginResult) {
	h.transport.Set(w, res.Token)
	h.ok(w, loginResponse{Token: res.Token, User: res.User, IsNewUser: res.IsNewUser})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeProblem(w, h.logger, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		case errors.Is(err, io.EOF):
			writeProblem(w, h.logger, http.StatusBadRequest, "invalid_body", "request body required")
		default:
			writeProblem(w, h.logger, http.StatusBadRequest, "invalid_body", "request body is not valid json")
		}
		return false
	}
	return true
}

func (h *handler) ok(w http.ResponseWriter, v any) {
	httpx.WriteJSON(w, h.logger, http.StatusOK, v)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	httpx.WriteError(w, h.logger, err, h.production)
}

func writeProblem(w http.ResponseWriter, logger *zap.Logger, status int, code, msg string) {
	httpx.WriteJSON(w, logger, status, httpx.APIError{Code: code, Message: msg})
}

func walletChallengeFrom(ch *walletauth.WalletChallenge) walletChallengeResponse {
	return walletChallengeResponse{
		Message:       ch.Message,
		WalletAddress: ch.WalletAddress,
		ExpiresIn:     seconds(ch.ExpiresIn),
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
