// Package jwt signs and verifies the stateless session tokens issued after a
// successful email-OTP or wallet-signature login. Verification failures are
// classified as either expired or malformed so callers can tell a stale
// session from a forged one.
package jwt
