// Package stores provides the Redis-backed challenge records behind the email
// OTP, wallet login and wallet link flows.
//
// # Design
//
// Each challenge is a versioned, binary-encoded record stored under
// (purpose, subject) with a TTL. Secret challenges (OTPs) are consumed by a
// single Lua script that validates, counts failed attempts and deletes on
// success. Wallet challenges are read with Peek and consumed with a
// compare-and-delete of the exact bytes, so a signature is only accepted for
// the message that was actually issued and only once.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT generate OTPs or nonces, enforce cooldowns,
// or make authentication decisions.
//
// # What this package must NOT do
//
//   - Import walletauth.
//   - Store plaintext OTPs.
//   - Use non-constant-time comparisons for secret matching.
package stores
