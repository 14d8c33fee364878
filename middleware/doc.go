// Package middleware guards HTTP handlers with walletauth sessions.
//
//   - [Guard] validates the token and loads the user, rejecting deleted and
//     unverified accounts.
//   - [RequireJWTOnly] validates the token alone and never touches the user
//     directory.
//
// Rejections are written as JSON error bodies with the status that matches
// the error kind. Handlers read the result back with [SessionFromContext] or
// [ClaimsFromContext].
package middleware
