package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// NonceSize is the number of random bytes behind every wallet nonce (128 bits).
	NonceSize = 16

	minOTPDigits = 4
	maxOTPDigits = 10
)

// randReader is swapped in tests to simulate entropy failures.
var randReader io.Reader = rand.Reader

// NewOTP returns a numeric code drawn uniformly from [10^(digits-1), 10^digits-1],
// so the first digit is never zero and every code has exactly digits characters.
func NewOTP(digits int) (string, error) {
	if digits < minOTPDigits || digits > maxOTPDigits {
		return "", errors.New("invalid otp digits")
	}

	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits-1)), nil)
	high := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	span := new(big.Int).Sub(high, low)

	n, err := rand.Int(randReader, span)
	if err != nil {
		return "", err
	}
	n.Add(n, low)

	otp := n.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewNonce returns a hex-encoded single-use nonce with NonceSize bytes of entropy.
func NewNonce() (string, error) {
	var raw [NonceSize]byte
	if _, err := io.ReadFull(randReader, raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashSecret returns the SHA-256 digest stored in place of a plaintext challenge secret.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}
