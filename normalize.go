package walletauth

import (
	"net/mail"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PlaceholderEmailDomain is the reserved suffix of emails synthesized for
// wallet-only accounts. The .invalid TLD can never receive mail.
const PlaceholderEmailDomain = "wallet.invalid"

const maxEmailLen = 254

// NormalizeEmail trims and lowercases email and checks it is a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLen {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeWalletAddress requires a 0x-prefixed 20-byte hex address and
// returns it lowercased.
func NormalizeWalletAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) != 2+2*common.AddressLength {
		return "", ErrInvalidWalletAddress
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", ErrInvalidWalletAddress
	}
	if !common.IsHexAddress(address) {
		return "", ErrInvalidWalletAddress
	}
	return "0x" + strings.ToLower(address[2:]), nil
}

// PlaceholderEmail returns the synthetic email for a wallet-only account.
func PlaceholderEmail(normalizedAddress string) string {
	return normalizedAddress + "@" + PlaceholderEmailDomain
}

// IsPlaceholderEmail reports whether email is under [PlaceholderEmailDomain].
func IsPlaceholderEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+PlaceholderEmailDomain)
}
