package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"licenseops/internal/metrics"
	"licenseops/internal/models"
)

// FailurePolicy decides what one failed item does to the rest of a batch.
type FailurePolicy int

const (
	// ContinueOnError records the failure as a job_item_failed event and moves on.
	ContinueOnError FailurePolicy = iota
	// FailFast aborts the batch on the first failed item.
	FailFast
)

func (p FailurePolicy) String() string {
	if p == FailFast {
		return "fail_fast"
	}
	return "continue_on_error"
}

// Item identifies the tenant and license a batch element acts on.
type Item struct {
	TenantID  string
	LicenseID string
}

type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
}

// BatchRunner loops job handlers over tenant or license result sets.
type BatchRunner struct {
	events  EventLogger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBatchRunner(events EventLogger, m *metrics.Metrics, logger *slog.Logger) *BatchRunner {
	return &BatchRunner{events: events, metrics: m, logger: logger}
}

// RunBatch applies fn to every item. Under ContinueOnError a non-empty batch
// in which every item failed still returns an error so the executor retries.
// Cancellation of ctx stops the loop before the next item.
func RunBatch[T any](ctx context.Context, r *BatchRunner, job string, policy FailurePolicy, items []T, key func(T) Item, fn func(context.Context, T) error) (BatchResult, error) {
	res := BatchResult{Total: len(items)}
	var lastErr error

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		err := fn(ctx, it)
		if err == nil {
			res.Succeeded++
			continue
		}

		res.Failed++
		lastErr = err
		k := key(it)
		r.metrics.JobItemFailuresTotal.WithLabelValues(job).Inc()
		r.logger.Error("job item failed", "job", job, "tenant_id", k.TenantID, "license_id", k.LicenseID, "error", err)

		if policy == FailFast {
			return res, fmt.Errorf("%s: tenant %s: %w", job, k.TenantID, err)
		}
		r.events.LogEvent(ctx, models.SystemEvent{
			Type:      models.EventJobItemFailed,
			TenantID:  k.TenantID,
			LicenseID: k.LicenseID,
			Severity:  models.SeverityHigh,
			Details: models.JSONB{
				"job":   job,
				"error": err.Error(),
			},
		})
	}

	if res.Total > 0 && res.Failed == res.Total {
		return res, fmt.Errorf("%s: all %d items failed, last error: %w", job, res.Total, lastErr)
	}
	r.logger.Info("job batch finished", "job", job, "total", res.Total, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}
