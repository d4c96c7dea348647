package jobs

import (
	"context"
	"errors"
	"testing"

	"licenseops/internal/metrics"
	"licenseops/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func tenantKey(id string) Item { return Item{TenantID: id} }

func TestRunBatchContinueOnError(t *testing.T) {
	events := &MockEventLogger{}
	events.On("LogEvent", mock.Anything, mock.MatchedBy(func(e models.SystemEvent) bool {
		return e.Type == models.EventJobItemFailed && e.TenantID == "t2" && e.Details["job"] == "test-job"
	})).Once()
	runner := NewBatchRunner(events, metrics.Noop(), discardLogger())

	var seen []string
	res, err := RunBatch(context.Background(), runner, "test-job", ContinueOnError, []string{"t1", "t2", "t3"}, tenantKey,
		func(_ context.Context, id string) error {
			seen = append(seen, id)
			if id == "t2" {
				return errors.New("smtp timeout")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, seen)
	assert.Equal(t, BatchResult{Total: 3, Succeeded: 2, Failed: 1}, res)
	events.AssertExpectations(t)
}

func TestRunBatchAllFailedReturnsError(t *testing.T) {
	events := &MockEventLogger{}
	events.On("LogEvent", mock.Anything, mock.Anything).Twice()
	runner := NewBatchRunner(events, metrics.Noop(), discardLogger())

	res, err := RunBatch(context.Background(), runner, "test-job", ContinueOnError, []string{"t1", "t2"}, tenantKey,
		func(context.Context, string) error { return errors.New("db down") })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 items failed")
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 2, res.Failed)
	events.AssertExpectations(t)
}

func TestRunBatchEmpty(t *testing.T) {
	runner := NewBatchRunner(&MockEventLogger{}, metrics.Noop(), discardLogger())
	res, err := RunBatch(context.Background(), runner, "test-job", ContinueOnError, []string(nil), tenantKey,
		func(context.Context, string) error { return errors.New("unreachable") })
	assert.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}

func TestRunBatchFailFast(t *testing.T) {
	events := &MockEventLogger{}
	runner := NewBatchRunner(events, metrics.Noop(), discardLogger())

	var seen []string
	res, err := RunBatch(context.Background(), runner, "test-job", FailFast, []string{"t1", "t2", "t3"}, tenantKey,
		func(_ context.Context, id string) error {
			seen = append(seen, id)
			if id == "t2" {
				return errors.New("send failed")
			}
			return nil
		})

	require.Error(t, err)
	assert.Equal(t, "test-job: tenant t2: send failed", err.Error())
	assert.Equal(t, []string{"t1", "t2"}, seen)
	assert.Equal(t, BatchResult{Total: 3, Succeeded: 1, Failed: 1}, res)
	events.AssertNotCalled(t, "LogEvent", mock.Anything, mock.Anything)
}

func TestRunBatchStopsOnCancellation(t *testing.T) {
	runner := NewBatchRunner(&MockEventLogger{}, metrics.Noop(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	var seen []string
	_, err := RunBatch(ctx, runner, "test-job", ContinueOnError, []string{"t1", "t2"}, tenantKey,
		func(_ context.Context, id string) error {
			seen = append(seen, id)
			cancel()
			return nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"t1"}, seen)
}

func TestFailurePolicyString(t *testing.T) {
	assert.Equal(t, "continue_on_error", ContinueOnError.String())
	assert.Equal(t, "fail_fast", FailFast.String())
}
