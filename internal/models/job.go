package models

import (
	"time"
)

type JobPriority string

const (
	PriorityCritical JobPriority = "critical"
	PriorityHigh     JobPriority = "high"
	PriorityMedium   JobPriority = "medium"
	PriorityLow      JobPriority = "low"
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// JobExecution is one run of a job. It is inserted as running and finalized once.
type JobExecution struct {
	JobName     string          `json:"job_name" db:"job_name"`
	ExecutionID string          `json:"execution_id" db:"execution_id"`
	Attempt     int             `json:"attempt" db:"attempt"`
	Status      ExecutionStatus `json:"status" db:"status"`
	StartedAt   time.Time       `json:"started_at" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs  int64           `json:"duration_ms" db:"duration"`
	Error       string          `json:"error,omitempty" db:"error"`
}

// JobStats is the 30-day execution summary of one job, used to seed in-memory metrics at startup.
type JobStats struct {
	JobName              string     `json:"job_name" db:"job_name"`
	TotalExecutions      int64      `json:"total_executions" db:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions" db:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions" db:"failed_executions"`
	AvgDurationMs        float64    `json:"avg_duration_ms" db:"avg_duration"`
	LastExecution        *time.Time `json:"last_execution" db:"last_execution"`
}

// MaintenanceResult reports rows removed by a retention sweep.
type MaintenanceResult struct {
	ExecutionsDeleted int64 `json:"executions_deleted"`
	EventsDeleted     int64 `json:"events_deleted"`
}
