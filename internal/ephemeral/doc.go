// Package ephemeral provides the short-lived key/value primitives that every
// challenge and limiter in walletauth is built on: set with TTL, get, delete,
// set-if-absent, atomic increment and compare-and-delete.
//
// Redis is the only backend. Expiry is authoritative: once a key's TTL has
// elapsed it is reported as [ErrAbsent].
//
// # What this package must NOT do
//
//   - Interpret the bytes it stores.
//   - Expose a get-then-set sequence where an atomic script exists.
package ephemeral
