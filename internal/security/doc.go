// Package security derives a read-only posture report from engine settings.
// It holds no state and performs no I/O.
package security
