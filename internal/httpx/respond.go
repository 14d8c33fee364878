// Package httpx holds the JSON response helpers shared by the HTTP packages.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
)

// APIError is the body of every error response.
type APIError struct {
	Code         string `json:"error_code"`
	Message      string `json:"error_message"`
	AttemptsLeft int    `json:"attempts_left,omitempty"`
}

// WriteJSON writes v with status. Encoding failures are logged; the status is
// already on the wire by then.
func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Warn("write json", zap.Error(err))
	}
}

// WriteError renders err with the status of its kind. Internal errors carry a
// generic message when production is set so causes never reach clients.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error, production bool) {
	kind := walletauth.KindOf(err)
	body := APIError{Code: walletauth.CodeOf(err), Message: "internal error"}

	var e *walletauth.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.AttemptsLeft = e.AttemptsLeft
		if e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int((e.RetryAfter+time.Second-1)/time.Second)))
		}
	} else if kind != walletauth.KindInternal {
		body.Message = err.Error()
	}

	if kind == walletauth.KindInternal {
		if logger != nil {
			logger.Error("request failed", zap.String("code", body.Code), zap.Error(err))
		}
		if production {
			body.Message = "internal error"
		} else {
			body.Message = err.Error()
		}
	}

	WriteJSON(w, logger, kind.HTTPStatus(), body)
}
