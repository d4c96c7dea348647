package repositories

import (
	"context"
	"fmt"

	"licenseops/internal/models"
)

type JobExecutionRepository interface {
	LogJobExecution(ctx context.Context, exec models.JobExecution) error
	RecentExecutions(ctx context.Context, jobName string, limit int) ([]models.JobExecution, error)
	HistoricalStats(ctx context.Context) ([]models.JobStats, error)
	Maintenance(ctx context.Context) (models.MaintenanceResult, error)
}

type jobExecutionRepo struct {
	store *DataStore
}

func NewJobExecutionRepo(store *DataStore) JobExecutionRepository {
	return &jobExecutionRepo{store: store}
}

// LogJobExecution inserts a running record, or finalizes an existing one by
// execution id for any terminal status.
func (r *jobExecutionRepo) LogJobExecution(ctx context.Context, exec models.JobExecution) error {
	if exec.Status == models.ExecutionRunning {
		query := `
			INSERT INTO job_executions (job_name, execution_id, attempt, status, started_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		_, err := r.store.Exec(ctx, query, exec.JobName, exec.ExecutionID, exec.Attempt, string(exec.Status), exec.StartedAt)
		if err != nil {
			return fmt.Errorf("insert job execution %s: %w", exec.ExecutionID, err)
		}
		return nil
	}

	var errText *string
	if exec.Error != "" {
		errText = &exec.Error
	}
	query := `
		UPDATE job_executions
		SET status = $2, completed_at = $3, duration = $4, error = $5
		WHERE execution_id = $1
	`
	_, err := r.store.Exec(ctx, query, exec.ExecutionID, string(exec.Status), exec.CompletedAt, exec.DurationMs, errText)
	if err != nil {
		return fmt.Errorf("finalize job execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

func (r *jobExecutionRepo) RecentExecutions(ctx context.Context, jobName string, limit int) ([]models.JobExecution, error) {
	query := `
		SELECT job_name, execution_id, attempt, status, started_at, completed_at, COALESCE(duration, 0), COALESCE(error, '')
		FROM job_executions
		WHERE job_name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.store.Query(ctx, query, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.JobExecution
	for rows.Next() {
		var e models.JobExecution
		var status string
		if err := rows.Scan(&e.JobName, &e.ExecutionID, &e.Attempt, &status, &e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.Error); err != nil {
			return nil, err
		}
		e.Status = models.ExecutionStatus(status)
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func (r *jobExecutionRepo) HistoricalStats(ctx context.Context) ([]models.JobStats, error) {
	query := `
		SELECT job_name,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'timeout')),
			COALESCE(AVG(duration), 0)::float8,
			MAX(started_at)
		FROM job_executions
		WHERE started_at >= NOW() - INTERVAL '30 days'
		GROUP BY job_name
	`
	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.JobStats
	for rows.Next() {
		var s models.JobStats
		if err := rows.Scan(&s.JobName, &s.TotalExecutions, &s.SuccessfulExecutions, &s.FailedExecutions, &s.AvgDurationMs, &s.LastExecution); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Maintenance applies retention: 30 days of job executions, 90 days of system events.
func (r *jobExecutionRepo) Maintenance(ctx context.Context) (models.MaintenanceResult, error) {
	var result models.MaintenanceResult

	tag, err := r.store.Exec(ctx, `DELETE FROM job_executions WHERE created_at < NOW() - INTERVAL '30 days'`)
	if err != nil {
		return result, fmt.Errorf("prune job executions: %w", err)
	}
	result.ExecutionsDeleted = tag.RowsAffected()

	tag, err = r.store.Exec(ctx, `DELETE FROM system_events WHERE created_at < NOW() - INTERVAL '90 days'`)
	if err != nil {
		return result, fmt.Errorf("prune system events: %w", err)
	}
	result.EventsDeleted = tag.RowsAffected()

	r.store.LogEvent(ctx, models.SystemEvent{
		Type:     models.EventMaintenance,
		Severity: models.SeverityLow,
		Details: models.JSONB{
			"executions_deleted": result.ExecutionsDeleted,
			"events_deleted":     result.EventsDeleted,
		},
	})
	return result, nil
}
