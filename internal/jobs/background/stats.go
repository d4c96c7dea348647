package background

import (
	"time"

	"licenseops/internal/models"
)

// JobStats is the running summary of one job's attempts since process start,
// seeded from the last 30 days of history.
type JobStats struct {
	TotalExecutions      int64                  `json:"total_executions"`
	SuccessfulExecutions int64                  `json:"successful_executions"`
	FailedExecutions     int64                  `json:"failed_executions"`
	AvgDurationMs        float64                `json:"avg_duration_ms"`
	LastStatus           models.ExecutionStatus `json:"last_status,omitempty"`
	LastRun              *time.Time             `json:"last_run,omitempty"`
	ConsecutiveFailures  int                    `json:"consecutive_failures"`
	UptimePercent        float64                `json:"uptime_percent"`
}

func (s *JobStats) record(exec models.JobExecution) {
	s.AvgDurationMs = (s.AvgDurationMs*float64(s.TotalExecutions) + float64(exec.DurationMs)) / float64(s.TotalExecutions+1)
	s.TotalExecutions++
	if exec.Status == models.ExecutionCompleted {
		s.SuccessfulExecutions++
		s.ConsecutiveFailures = 0
	} else {
		s.FailedExecutions++
		s.ConsecutiveFailures++
	}
	s.LastStatus = exec.Status
	started := exec.StartedAt
	s.LastRun = &started
}

func (s *JobStats) snapshot() JobStats {
	out := *s
	if s.TotalExecutions > 0 {
		out.UptimePercent = float64(s.SuccessfulExecutions) / float64(s.TotalExecutions) * 100
	}
	if s.LastRun != nil {
		t := *s.LastRun
		out.LastRun = &t
	}
	return out
}

type JobStatus struct {
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Schedule      string             `json:"schedule"`
	Priority      models.JobPriority `json:"priority"`
	Timeout       string             `json:"timeout"`
	RetryAttempts int                `json:"retry_attempts"`
	Enabled       bool               `json:"enabled"`
	Paused        bool               `json:"paused"`
	Running       bool               `json:"running"`
	NextRun       *time.Time         `json:"next_run,omitempty"`
	LastRun       *time.Time         `json:"last_run,omitempty"`
	Stats         JobStats           `json:"stats"`
}
