// Package limiters provides the per-subject cooldown used by challenge issuance.
//
// A [Cooldown] is a presence-only mark keyed by (action, subject) whose TTL
// equals the cooldown window. While it exists, a new challenge for the same
// pair is refused with a [*CooldownError] carrying the remaining wait.
//
// Limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import walletauth or any sibling internal package except internal/ephemeral.
//   - Decide what happens after a refusal; the engine maps it to a response.
package limiters
