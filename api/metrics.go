package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike     AlertType = "login_failure_spike"
	AlertTwoFactorFailureSpike AlertType = "2fa_failure_spike"
	AlertPasswordResetSpike    AlertType = "password_reset_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter raises an alert once threshold events land within window.
type slidingCounter struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	events    []time.Time
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu       sync.Mutex
	counters map[AuditEvent]*slidingCounter
	alertFn  AlertFunc
	now      func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultTwoFactorWindow       = 1 * time.Minute
	defaultTwoFactorThreshold    = 25
	defaultResetRequestWindow    = 5 * time.Minute
	defaultResetRequestThreshold = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		counters: map[AuditEvent]*slidingCounter{
			AuditLoginFailure: {
				alert:     AlertLoginFailureSpike,
				message:   "login failure rate exceeds threshold",
				window:    defaultLoginFailureWindow,
				threshold: defaultLoginFailureThreshold,
			},
			AuditTwoFactorFailure: {
				alert:     AlertTwoFactorFailureSpike,
				message:   "2FA code failure rate exceeds threshold",
				window:    defaultTwoFactorWindow,
				threshold: defaultTwoFactorThreshold,
			},
			AuditPasswordResetRequest: {
				alert:     AlertPasswordResetSpike,
				message:   "password reset request rate exceeds threshold",
				window:    defaultResetRequestWindow,
				threshold: defaultResetRequestThreshold,
			},
		},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counter.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[event]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	c.events = trimWindow(append(c.events, now), now, c.window)
	if len(c.events) < c.threshold {
		m.mu.Unlock()
		return
	}
	alert := AlertEvent{
		Type:      c.alert,
		Message:   c.message,
		Count:     len(c.events),
		Threshold: c.threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	c.events = c.events[:0]
	m.mu.Unlock()

	m.alertFn(alert)
}

// setThreshold overrides the threshold for event.
func (m *metricsCollector) setThreshold(event AuditEvent, threshold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[event]; ok {
		c.threshold = threshold
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
