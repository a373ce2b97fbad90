package authcore

import "sync/atomic"

// MetricID defines a public type used by authcore APIs.
//
// MetricID instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricPasswordVerifySuccess is an exported constant or variable used by the authentication core.
	MetricPasswordVerifySuccess MetricID = iota
	// MetricPasswordVerifyFailure is an exported constant or variable used by the authentication core.
	MetricPasswordVerifyFailure
	// MetricPasswordChanged is an exported constant or variable used by the authentication core.
	MetricPasswordChanged
	// MetricPasswordResetIssued is an exported constant or variable used by the authentication core.
	MetricPasswordResetIssued
	// MetricPasswordResetCompleted is an exported constant or variable used by the authentication core.
	MetricPasswordResetCompleted
	// MetricTokenIssued is an exported constant or variable used by the authentication core.
	MetricTokenIssued
	// MetricTokenConsumed is an exported constant or variable used by the authentication core.
	MetricTokenConsumed
	// MetricTokenRejected is an exported constant or variable used by the authentication core.
	MetricTokenRejected
	// MetricTwoFactorSuccess is an exported constant or variable used by the authentication core.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure is an exported constant or variable used by the authentication core.
	MetricTwoFactorFailure
	// MetricTwoFactorEnabled is an exported constant or variable used by the authentication core.
	MetricTwoFactorEnabled
	// MetricTwoFactorDisabled is an exported constant or variable used by the authentication core.
	MetricTwoFactorDisabled
	// MetricBackupCodeUsed is an exported constant or variable used by the authentication core.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed is an exported constant or variable used by the authentication core.
	MetricBackupCodeFailed
	// MetricBackupCodesRegenerated is an exported constant or variable used by the authentication core.
	MetricBackupCodesRegenerated
	// MetricPasskeyRegistered is an exported constant or variable used by the authentication core.
	MetricPasskeyRegistered
	// MetricPasskeyAuthSuccess is an exported constant or variable used by the authentication core.
	MetricPasskeyAuthSuccess
	// MetricPasskeyAuthFailure is an exported constant or variable used by the authentication core.
	MetricPasskeyAuthFailure
	// MetricPasskeyCounterRegression is an exported constant or variable used by the authentication core.
	MetricPasskeyCounterRegression
	// MetricStepUpSuccess is an exported constant or variable used by the authentication core.
	MetricStepUpSuccess
	// MetricStepUpFailure is an exported constant or variable used by the authentication core.
	MetricStepUpFailure
	// MetricStepUpTokenReplay is an exported constant or variable used by the authentication core.
	MetricStepUpTokenReplay
	// MetricSessionCreated is an exported constant or variable used by the authentication core.
	MetricSessionCreated
	// MetricSessionRevoked is an exported constant or variable used by the authentication core.
	MetricSessionRevoked
	// MetricRateLimitHit is an exported constant or variable used by the authentication core.
	MetricRateLimitHit
	// MetricStoreUnavailable is an exported constant or variable used by the authentication core.
	MetricStoreUnavailable
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics defines a public type used by authcore APIs.
//
// Metrics instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot defines a public type used by authcore APIs.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled describes the enabled operation and its observable behavior.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc describes the inc operation and its observable behavior.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value describes the value operation and its observable behavior.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, metricIDCount),
	}
	if m == nil {
		return snapshot
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snapshot.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snapshot
}
