// Package rate provides per-IP fixed-window counters for challenge issuance
// and verification.
//
// # Window semantics
//
// Fixed-window counters: an atomic INCR + PEXPIRE on first hit. Key prefixes:
//   - rl:issue:   challenge requests per IP
//   - rl:verify:  verification attempts per IP
//
// # What this package must NOT do
//
//   - Implement per-subject cooldowns (those live in internal/limiters).
//   - Be imported outside the walletauth module.
package rate
