package walletauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies every failure the engine returns. The HTTP surface
// derives its status code from the kind alone.
type ErrorKind uint8

const (
	// KindInternal is an unexpected failure. Its message is not safe to show.
	KindInternal ErrorKind = iota
	// KindBadRequest covers malformed, expired or mismatched input.
	KindBadRequest
	// KindUnauthorized covers well-formed input whose proof failed.
	KindUnauthorized
	// KindConflict covers uniqueness violations on email or wallet.
	KindConflict
	// KindTooManyRequests covers an active cooldown or exhausted IP window.
	KindTooManyRequests
	// KindNotFound covers an unknown user id.
	KindNotFound
	// KindUnavailable covers a dependency outage after local recovery succeeded.
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to its response status.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidWalletAddress is returned for anything other than a 0x-prefixed 20-byte hex address.
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	// ErrInvalidSignature is returned when signature bytes cannot be decoded or recovered.
	ErrInvalidSignature = errors.New("invalid signature format")
	// ErrInvalidOTP is returned when a submitted code does not match.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrChallengeExpired is returned when no pending challenge exists for the subject.
	ErrChallengeExpired = errors.New("challenge expired or invalid")
	// ErrOTPAttemptsExceeded is returned when the last allowed attempt was spent.
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	// ErrSignatureMismatch is returned when the recovered signer differs from the claimed address.
	ErrSignatureMismatch = errors.New("signature does not match wallet address")
	// ErrCooldownActive is returned while a previous challenge for the same subject is cooling down.
	ErrCooldownActive = errors.New("challenge cooldown active")
	// ErrRateLimited is returned when the caller's IP window is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUserConflict is returned by a UserDirectory when an email or wallet is already claimed.
	ErrUserConflict = errors.New("email or wallet already claimed")
	// ErrUserNotFound is returned by a UserDirectory when an update targets an unknown id.
	ErrUserNotFound = errors.New("user not found")
	// ErrWalletClaimed is returned when linking a wallet owned by another account.
	ErrWalletClaimed = errors.New("wallet already linked to another account")
	// ErrWalletAlreadyLinked is returned when linking the wallet the account already holds.
	ErrWalletAlreadyLinked = errors.New("wallet already linked to this account")
	// ErrNoWalletLinked is returned when unlinking from an account without a wallet.
	ErrNoWalletLinked = errors.New("no wallet linked")
	// ErrWalletUnlinkRejected is returned when unlinking would leave no usable sign-in method.
	ErrWalletUnlinkRejected = errors.New("wallet is the only sign-in method for this account")
	// ErrSessionMissing is returned when a request carries no session token.
	ErrSessionMissing = errors.New("session missing")
	// ErrSessionExpired is returned for a genuine session token past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInvalid is returned for a token with a bad signature or shape.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionUserMissing is returned when a valid token names a user that no longer exists.
	ErrSessionUserMissing = errors.New("session user not found")
	// ErrSessionUnverified is returned when a valid token names an unverified user.
	ErrSessionUnverified = errors.New("session user unverified")
	// ErrEmailSendFailed is returned when the OTP email could not be dispatched.
	ErrEmailSendFailed = errors.New("could not send verification email")
	// ErrStoreUnavailable wraps ephemeral store failures.
	ErrStoreUnavailable = errors.New("challenge store unavailable")
	// ErrDirectoryUnavailable wraps user directory failures.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Error is the typed failure returned by every Engine operation.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// RetryAfter is set for KindTooManyRequests.
	RetryAfter time.Duration
	// AttemptsLeft is set when a wrong OTP still leaves attempts.
	AttemptsLeft int
	Err          error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// KindOf classifies err. Errors not produced by the engine are KindInternal
// unless they wrap one of the directory sentinels.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrUserConflict):
		return KindConflict
	case errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionMissing),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionInvalid),
		errors.Is(err, ErrSessionUserMissing),
		errors.Is(err, ErrSessionUnverified):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return KindOf(err).String()
}

func badRequest(code string, cause error) *Error {
	return newError(KindBadRequest, code, cause.Error(), cause)
}

func unauthorized(code string, cause error) *Error {
	return newError(KindUnauthorized, code, cause.Error(), cause)
}

func conflict(code string, cause error) *Error {
	return newError(KindConflict, code, cause.Error(), cause)
}

func notFound(cause error) *Error {
	return newError(KindNotFound, "user_not_found", cause.Error(), cause)
}

func tooManyRequests(code string, cause error, retryAfter time.Duration) *Error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	e := newError(KindTooManyRequests, code,
		fmt.Sprintf("please wait %d seconds before requesting another code", int((retryAfter+time.Second-1)/time.Second)),
		cause)
	e.RetryAfter = retryAfter
	return e
}

func unavailable(code string, cause error) *Error {
	return newError(KindUnavailable, code, "service temporarily unavailable", cause)
}

func internalError(cause error) *Error {
	return newError(KindInternal, "internal_error", "internal error", cause)
}
