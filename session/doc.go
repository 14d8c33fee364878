// Package session carries session tokens between the browser and the server.
//
// A [Transport] writes the token as an HttpOnly cookie after login and reads
// it back on later requests, falling back to an Authorization: Bearer header
// for non-browser clients.
//
// # Cookie attributes
//
// Attributes depend on the deployment. Production deployments serve the
// frontend from another origin, so the cookie is SameSite=None; Secure.
// Development keeps SameSite=Lax over plain HTTP. Clearing a cookie reuses the
// exact attributes it was set with; browsers ignore a deletion whose Path,
// Domain or SameSite differ.
//
// # Architecture boundaries
//
// This package never parses or validates tokens. It only moves opaque strings
// in and out of HTTP messages.
package session
