// Package walletauth provides passwordless authentication: one-time codes sent
// by email, and EIP-191 wallet signatures over a server-issued nonce. Both
// flows end in a stateless signed session token.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// walletauth is the public surface. It exposes [Engine], [Builder], [Config], the
// [UserDirectory] and [Mailer] collaborator interfaces, and value types. Challenge
// encoding, cooldown marks and IP windows live under internal/ and are never
// exported. Persistent users live behind [UserDirectory]; see the directory
// sub-packages for PostgreSQL and SQLite implementations.
//
// # Challenge lifecycle
//
// Every pending code or nonce is stored under (purpose, subject) with a TTL.
// A new request replaces the old one. Consumption is atomic in Redis and always
// precedes the user mutation it authorizes, so a code or nonce succeeds at most
// once even under concurrent submissions.
//
// # What this package must NOT do
//
//   - Read the process environment. Configuration arrives through [Config].
//   - Keep in-process locks across requests. Atomicity comes from Redis and
//     uniqueness from the directory's indexes.
//   - Fail a login because a login alert email could not be sent.
package walletauth
