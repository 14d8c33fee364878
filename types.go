package walletauth

import (
	"context"
	"time"

	"github.com/MrEthical07/walletauth/jwt"
)

// User is the persistent identity record.
//
// At least one of Email or WalletAddress is always set. Wallet-only users carry
// a placeholder email under [PlaceholderEmailDomain] that is never used as a
// contact address.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email,omitempty"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	IsVerified    bool      `json:"isVerified"`
	Roles         []string  `json:"roles"`
	LastLogin     time.Time `json:"lastLogin"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasPlaceholderEmail reports whether the user's email is the synthetic
// address assigned to wallet-only accounts.
func (u *User) HasPlaceholderEmail() bool {
	return u != nil && IsPlaceholderEmail(u.Email)
}

// ContactEmail returns the email if it can receive mail, or "".
func (u *User) ContactEmail() string {
	if u == nil || u.HasPlaceholderEmail() {
		return ""
	}
	return u.Email
}

// CreateUserInput is the record handed to [UserDirectory.Create]. Email and
// WalletAddress must already be normalized.
type CreateUserInput struct {
	Email         string
	WalletAddress string
	IsVerified    bool
	Roles         []string
	LastLogin     time.Time
}

// UserPatch is a partial update. Nil fields are left unchanged. A non-nil
// WalletAddress pointing at "" removes the wallet link.
type UserPatch struct {
	Email         *string
	WalletAddress *string
	IsVerified    *bool
	LastLogin     *time.Time
	Roles         []string
}

// UserDirectory is the persistent user store.
//
// Implementations normalize lookups (email lowercased and trimmed, wallet
// lowercased) and enforce email and wallet uniqueness with unique indexes.
// Lookups return (nil, nil) when no record matches. Create and Update return
// [ErrUserConflict] when a uniqueness constraint rejects the write, and Update
// returns [ErrUserNotFound] for an unknown id.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByWallet(ctx context.Context, address string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, input CreateUserInput) (*User, error)
	Update(ctx context.Context, id string, patch UserPatch) (*User, error)
}

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	// Category tags the message for the transport's logs ("otp", "login_alert").
	Category string
}

// SendResult is what a [Mailer] reports for an accepted message.
type SendResult struct {
	MessageID string
}

// Mailer dispatches email. Template selection and SMTP routing are the
// implementation's concern; the engine only needs success or failure.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) (SendResult, error)
}

// LoginMethod records which proof produced a session.
type LoginMethod string

const (
	LoginMethodEmailOTP LoginMethod = "email_otp"
	LoginMethodWallet   LoginMethod = "wallet"
)

// OTPChallenge is returned after a code was sent.
type OTPChallenge struct {
	Email     string
	ExpiresIn time.Duration
}

// WalletChallenge carries the exact message the wallet must sign.
type WalletChallenge struct {
	Message       string
	WalletAddress string
	ExpiresIn     time.Duration
}

// LoginResult is returned by both login flows.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *User
	IsNewUser bool
	Method    LoginMethod
}

// Session is a validated session token together with its current user record.
type Session struct {
	Claims *jwt.SessionClaims
	User   *User
}

// AuthStatus explains a [CheckAuthResult].
type AuthStatus string

const (
	AuthStatusAuthenticated AuthStatus = "authenticated"
	AuthStatusNoToken       AuthStatus = "no_token"
	AuthStatusExpired       AuthStatus = "expired"
	AuthStatusInvalid       AuthStatus = "invalid"
	AuthStatusUserMissing   AuthStatus = "user_missing"
	AuthStatusUnverified    AuthStatus = "unverified"
	AuthStatusUnavailable   AuthStatus = "unavailable"
)

// CheckAuthResult is the non-failing answer to "is this caller signed in".
type CheckAuthResult struct {
	Authenticated bool
	Status        AuthStatus
	User          *User
}
