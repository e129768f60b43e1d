package model

import "time"

// HealthSource records what put the system into (or out of) degraded mode
type HealthSource string

const (
	HealthSourceOperator    HealthSource = "operator"
	HealthSourceHealthCheck HealthSource = "health_check"
)

// SystemHealth is the process-wide write availability flag
type SystemHealth struct {
	Degraded  bool
	Reason    string
	Source    HealthSource
	ChangedAt time.Time
}
