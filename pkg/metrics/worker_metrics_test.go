package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DraftSelected("pattern", true, time.Second)
	m.Coalesced()
	m.Inflight(1)
	m.CacheLookup("memory", true)
	m.CacheWrite("redis", errors.New("x"))
	m.OracleCall("mini", 10, time.Second, nil)
	m.PatternLearned("inserted")
	m.JobProcessed("pattern.learn", nil)
}

func TestNewMetricsIsShared(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a != b {
		t.Fatal("NewMetrics must return the process-wide instance")
	}

	before := testutil.ToFloat64(a.PatternsLearned.WithLabelValues("updated"))
	a.PatternLearned("updated")
	if got := testutil.ToFloat64(a.PatternsLearned.WithLabelValues("updated")); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}

func TestAssessDBPoolHealth(t *testing.T) {
	tests := []struct {
		name  string
		stats DBPoolStats
		want  PoolHealthStatus
	}{
		{"unlimited", DBPoolStats{}, PoolHealthy},
		{"normal", DBPoolStats{InUse: 2, MaxOpenConnections: 10}, PoolHealthy},
		{"busy", DBPoolStats{InUse: 8, MaxOpenConnections: 10}, PoolDegraded},
		{"exhausted", DBPoolStats{InUse: 10, MaxOpenConnections: 10}, PoolUnhealthy},
		{"waiting", DBPoolStats{InUse: 1, MaxOpenConnections: 10, WaitCount: 3, WaitDuration: 10 * time.Second}, PoolDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssessDBPoolHealth(tt.stats).Status; got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}
