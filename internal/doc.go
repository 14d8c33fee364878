// Package internal contains helper utilities that are intentionally private to walletauth,
// chiefly secure random generation for OTPs and wallet nonces.
//
// # Sub-packages
//
//   - ephemeral: Redis-backed key/value primitives with authoritative TTLs
//   - stores: versioned challenge records (OTPs, wallet nonces) on top of ephemeral
//   - limiters: per-subject cooldown marks
//   - rate: per-IP fixed-window counters
//
// # What this package must NOT do
//
//   - Export types that appear in the public walletauth API.
//   - Use math/rand for anything that ends up in a challenge.
package internal
