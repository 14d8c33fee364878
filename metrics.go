package walletauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an engine counter or histogram.
type MetricID uint16

const (
	// MetricOTPRequested counts OTP emails accepted by the mailer.
	MetricOTPRequested MetricID = iota
	// MetricOTPSendFailure counts OTP emails the mailer rejected.
	MetricOTPSendFailure
	// MetricOTPVerifySuccess counts successful OTP logins.
	MetricOTPVerifySuccess
	// MetricOTPVerifyFailure counts wrong, expired or replayed OTPs.
	MetricOTPVerifyFailure
	// MetricOTPAttemptsExceeded counts codes burned by too many wrong attempts.
	MetricOTPAttemptsExceeded
	// MetricWalletChallengeIssued counts wallet sign-in and link challenges.
	MetricWalletChallengeIssued
	// MetricWalletVerifySuccess counts successful wallet logins.
	MetricWalletVerifySuccess
	// MetricWalletVerifyFailure counts wallet logins rejected before signature comparison.
	MetricWalletVerifyFailure
	// MetricWalletSignatureMismatch counts signatures recovered to a different address.
	MetricWalletSignatureMismatch
	// MetricWalletLinked counts wallets linked to existing accounts.
	MetricWalletLinked
	// MetricWalletUnlinked counts wallets removed from accounts.
	MetricWalletUnlinked
	// MetricUserProvisioned counts users created on first login.
	MetricUserProvisioned
	// MetricUserConflict counts directory uniqueness rejections.
	MetricUserConflict
	// MetricSessionIssued counts session tokens signed.
	MetricSessionIssued
	// MetricSessionRejectedExpired counts genuine but expired tokens presented.
	MetricSessionRejectedExpired
	// MetricSessionRejectedInvalid counts forged or malformed tokens presented.
	MetricSessionRejectedInvalid
	// MetricLoginAlertFailure counts login alert emails that failed to send.
	MetricLoginAlertFailure
	// MetricRateLimitHit counts cooldown and IP window refusals.
	MetricRateLimitHit
	// MetricValidateLatency is the session validation latency histogram.
	MetricValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters indexed by [MetricID].
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters honoring cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only MetricValidateLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
