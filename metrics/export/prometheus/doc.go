// Package prometheus renders walletauth engine metrics in the Prometheus text
// exposition format.
package prometheus
