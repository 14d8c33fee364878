// Package otel publishes walletauth engine metrics as OpenTelemetry observable
// instruments read on each collection.
package otel
