package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (s *alertSink) record(e AlertEvent) {
	s.mu.Lock()
	s.alerts = append(s.alerts, e)
	s.mu.Unlock()
}

func (s *alertSink) snapshot() []AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AlertEvent(nil), s.alerts...)
}

func TestSpikeAlerts(t *testing.T) {
	tests := []struct {
		event AuditEvent
		alert AlertType
	}{
		{AuditLoginFailure, AlertLoginFailureSpike},
		{AuditTwoFactorFailure, AlertTwoFactorFailureSpike},
		{AuditPasswordResetRequest, AlertPasswordResetSpike},
	}
	for _, tt := range tests {
		t.Run(string(tt.alert), func(t *testing.T) {
			sink := &alertSink{}
			collector := newMetricsCollector(sink.record)
			collector.setThreshold(tt.event, 5)

			for i := 0; i < 4; i++ {
				collector.recordEvent(tt.event)
			}
			assert.Empty(t, sink.snapshot(), "no alert below threshold")

			collector.recordEvent(tt.event)
			alerts := sink.snapshot()
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.alert, alerts[0].Type)
			assert.Equal(t, 5, alerts[0].Count)
			assert.Equal(t, 5, alerts[0].Threshold)
		})
	}
}

func TestMetricsIgnoresUntrackedEvents(t *testing.T) {
	sink := &alertSink{}
	collector := newMetricsCollector(sink.record)
	for i := 0; i < 100; i++ {
		collector.recordEvent(AuditLoginSuccess)
	}
	assert.Empty(t, sink.snapshot())
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditLoginFailure)
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	sink := &alertSink{}
	collector := newMetricsCollector(sink.record)
	collector.now = clock.Now
	collector.setThreshold(AuditLoginFailure, 5)

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	clock.Advance(defaultLoginFailureWindow + time.Second)

	collector.recordEvent(AuditLoginFailure)
	assert.Empty(t, sink.snapshot(), "old failures should not count after window expiry")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	sink := &alertSink{}
	collector := newMetricsCollector(sink.record)
	collector.setThreshold(AuditLoginFailure, 3)

	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	require.Len(t, sink.snapshot(), 1, "first alert triggered")

	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Len(t, sink.snapshot(), 1, "no second alert yet")

	collector.recordEvent(AuditLoginFailure)
	assert.Len(t, sink.snapshot(), 2, "second alert triggered")
}
