package metrics

import (
	"database/sql"
	"time"
)

// DBPoolStats mirrors sql.DBStats for the health endpoint.
type DBPoolStats struct {
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	MaxOpenConnections int           `json:"max_open_connections"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// GetDBPoolStats snapshots db; a nil db reports zeros.
func GetDBPoolStats(db *sql.DB) DBPoolStats {
	if db == nil {
		return DBPoolStats{}
	}
	s := db.Stats()
	return DBPoolStats{
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		MaxOpenConnections: s.MaxOpenConnections,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"`
	Message     string           `json:"message,omitempty"`
}

// Checked in order; the first threshold reached wins.
var utilizationLevels = []struct {
	min    float64
	status PoolHealthStatus
	msg    string
}{
	{0.95, PoolUnhealthy, "pool nearly exhausted"},
	{0.80, PoolDegraded, "high pool utilization"},
	{0, PoolHealthy, "pool operating normally"},
}

// slowWait marks the pool degraded once callers have waited this long in total.
const slowWait = 5 * time.Second

// AssessDBPoolHealth grades the pattern store pool by how many connections
// are in use and how long callers waited for one.
func AssessDBPoolHealth(stats DBPoolStats) PoolHealth {
	if stats.MaxOpenConnections == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	h := PoolHealth{Utilization: float64(stats.InUse) / float64(stats.MaxOpenConnections)}
	for _, lvl := range utilizationLevels {
		if h.Utilization >= lvl.min {
			h.Status, h.Message = lvl.status, lvl.msg
			break
		}
	}

	if stats.WaitCount > 0 && stats.WaitDuration > slowWait {
		if h.Status == PoolHealthy {
			h.Status = PoolDegraded
		}
		h.Message = "elevated connection wait times"
	}
	return h
}
