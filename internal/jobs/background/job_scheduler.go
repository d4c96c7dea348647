package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"licenseops/internal/jobs"
	"licenseops/internal/metrics"
	"licenseops/internal/models"
	"licenseops/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrJobDisabled = errors.New("job disabled")
	ErrNotPaused   = errors.New("job not paused")
)

const defaultFailureThreshold = 3

// ExecutionStore persists execution records and reads back history.
type ExecutionStore interface {
	LogJobExecution(ctx context.Context, exec models.JobExecution) error
	HistoricalStats(ctx context.Context) ([]models.JobStats, error)
}

type AlertMailer interface {
	SendJobFailureAlert(ctx context.Context, d services.JobFailureAlertData) error
}

type SystemNotifier interface {
	CreateSystemNotification(ctx context.Context, msg models.Notification) services.DeliveryReport
}

type Config struct {
	// FailureThreshold is the consecutive failed attempts that raise an alert.
	FailureThreshold int
	AlertRecipients  []string
	// Locker serialises a job across scheduler replicas. Nil runs unlocked.
	// When the lock backend fails, the run proceeds under the local guard.
	Locker gocron.Locker
}

// JobScheduler runs the registry's jobs on their cron schedules and enforces
// timeout and retry for every run, scheduled or manual.
type JobScheduler struct {
	scheduler gocron.Scheduler
	registry  *jobs.Registry
	store     ExecutionStore
	mailer    AlertMailer
	notifier  SystemNotifier
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	scheduled map[string]gocron.Job
	paused    map[string]bool
	inFlight  map[string]bool
	stats     map[string]*JobStats
}

func NewJobScheduler(registry *jobs.Registry, store ExecutionStore, mailer AlertMailer, notifier SystemNotifier,
	clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger, cfg Config) (*JobScheduler, error) {

	scheduler, err := gocron.NewScheduler(
		gocron.WithLogger(logger),
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler: scheduler,
		registry:  registry,
		store:     store,
		mailer:    mailer,
		notifier:  notifier,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		scheduled: make(map[string]gocron.Job),
		paused:    make(map[string]bool),
		inFlight:  make(map[string]bool),
		stats:     make(map[string]*JobStats),
	}
	for _, def := range registry.All() {
		js.stats[def.Name] = &JobStats{}
	}
	return js, nil
}

// Start seeds in-memory stats from the last 30 days, schedules every enabled
// job and starts the scheduler.
func (js *JobScheduler) Start(ctx context.Context) error {
	js.seedStats(ctx)

	js.mu.Lock()
	for _, def := range js.registry.Enabled() {
		if err := js.scheduleLocked(def); err != nil {
			js.mu.Unlock()
			return err
		}
	}
	count := len(js.scheduled)
	js.mu.Unlock()

	js.scheduler.Start()
	js.logger.Info("job scheduler started", "jobs", count, "registered", len(js.registry.All()))
	return nil
}

// Stop stops scheduling, cancels in-flight runs and waits for manual triggers to unwind.
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping job scheduler")
	js.cancel()
	err := js.scheduler.Shutdown()
	js.wg.Wait()
	return err
}

func (js *JobScheduler) seedStats(ctx context.Context) {
	history, err := js.store.HistoricalStats(ctx)
	if err != nil {
		js.logger.Warn("could not load job history", "error", err)
		return
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	for _, h := range history {
		s, ok := js.stats[h.JobName]
		if !ok {
			continue
		}
		s.TotalExecutions = h.TotalExecutions
		s.SuccessfulExecutions = h.SuccessfulExecutions
		s.FailedExecutions = h.FailedExecutions
		s.AvgDurationMs = h.AvgDurationMs
		s.LastRun = h.LastExecution
	}
}

func (js *JobScheduler) scheduleLocked(def jobs.Definition) error {
	opts := []gocron.JobOption{
		gocron.WithName(def.Name),
		gocron.WithTags(string(def.Priority)),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				js.logger.Error("scheduled job failed", "job", name, "error", err)
			}),
		),
	}

	job, err := js.scheduler.NewJob(
		gocron.CronJob(def.Schedule, false),
		gocron.NewTask(js.runScheduled, def.Name),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", def.Name, err)
	}
	js.scheduled[def.Name] = job
	return nil
}

func (js *JobScheduler) runScheduled(name string) error {
	def, ok := js.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, name)
	}
	err := js.Run(js.ctx, def)
	if errors.Is(err, jobs.ErrJobAlreadyRunning) {
		js.logger.Warn("skipping trigger, previous run still in flight", "job", name)
		return nil
	}
	return err
}

func (js *JobScheduler) begin(name string) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.inFlight[name] {
		return false
	}
	js.inFlight[name] = true
	js.metrics.JobRunning.WithLabelValues(name).Set(1)
	return true
}

func (js *JobScheduler) end(name string) {
	js.mu.Lock()
	delete(js.inFlight, name)
	js.mu.Unlock()
	js.metrics.JobRunning.WithLabelValues(name).Set(0)
}

// lockReleaseTimeout bounds the Redis round trip that releases a job lock.
const lockReleaseTimeout = 5 * time.Second

// lock takes the cross-replica lock for name. Only a lock held by another
// replica refuses the run; any other locker error is logged and the run goes
// ahead under the in-process guard so an unreachable Redis never drops runs.
func (js *JobScheduler) lock(ctx context.Context, name string) (release func(), err error) {
	if js.cfg.Locker == nil {
		return func() {}, nil
	}
	l, err := js.cfg.Locker.Lock(ctx, name)
	if err != nil {
		if lockHeld(err) {
			return nil, fmt.Errorf("%w: %s: %v", jobs.ErrJobAlreadyRunning, name, err)
		}
		js.metrics.JobLockErrorsTotal.WithLabelValues(name).Inc()
		js.logger.Warn("job lock unavailable, running with local guard only", "job", name, "error", err)
		return func() {}, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := l.Unlock(releaseCtx); err != nil {
			js.logger.Warn("failed to release job lock", "job", name, "error", err)
		}
	}, nil
}

// lockHeld reports whether err means another owner has the lock, as opposed
// to the lock backend failing.
func lockHeld(err error) bool {
	var held interface{ LockHeld() bool }
	return errors.As(err, &held) && held.LockHeld()
}

// Run executes def with its timeout and retry policy and returns the final
// error once retries are exhausted.
func (js *JobScheduler) Run(ctx context.Context, def jobs.Definition) error {
	if !js.begin(def.Name) {
		return fmt.Errorf("%w: %s", jobs.ErrJobAlreadyRunning, def.Name)
	}
	defer js.end(def.Name)

	release, err := js.lock(ctx, def.Name)
	if err != nil {
		return err
	}
	defer release()
	return js.execute(ctx, def)
}

func (js *JobScheduler) execute(ctx context.Context, def jobs.Definition) error {
	attempts := def.RetryAttempts + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			js.logger.Info("retrying job", "job", def.Name, "attempt", attempt, "wait", def.RetryWait())
			select {
			case <-js.clock.After(def.RetryWait()):
			case <-ctx.Done():
				return fmt.Errorf("%s: retry abandoned: %w", def.Name, errors.Join(err, ctx.Err()))
			}
		}
		if err = js.attempt(ctx, def, attempt); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", def.Name, attempts, err)
}

// attempt runs the handler once, racing it against the timeout. On timeout the
// handler's context is cancelled and its eventual result is discarded.
func (js *JobScheduler) attempt(ctx context.Context, def jobs.Definition, n int) error {
	exec := models.JobExecution{
		JobName:     def.Name,
		ExecutionID: uuid.NewString(),
		Attempt:     n,
		Status:      models.ExecutionRunning,
		StartedAt:   js.clock.Now(),
	}
	logger := js.logger.With("job", def.Name, "execution_id", exec.ExecutionID, "attempt", n)
	if err := js.store.LogJobExecution(ctx, exec); err != nil {
		logger.Error("failed to record job start", "error", err)
	}
	logger.Info("job started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- def.Handler(runCtx)
	}()

	timer := js.clock.NewTimer(def.Timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
		exec.Status = models.ExecutionCompleted
		if err != nil {
			exec.Status = models.ExecutionFailed
		}
	case <-timer.Chan():
		exec.Status = models.ExecutionTimeout
		err = fmt.Errorf("%w after %s", jobs.ErrJobTimeout, def.Timeout)
	case <-ctx.Done():
		exec.Status = models.ExecutionFailed
		err = ctx.Err()
	}

	completed := js.clock.Now()
	exec.CompletedAt = &completed
	duration := completed.Sub(exec.StartedAt)
	exec.DurationMs = duration.Milliseconds()
	if err != nil {
		exec.Error = err.Error()
	}

	// Finalize even when ctx is cancelled so no record stays running.
	finalCtx := context.WithoutCancel(ctx)
	if ferr := js.store.LogJobExecution(finalCtx, exec); ferr != nil {
		logger.Error("failed to finalize job execution", "error", ferr)
	}
	js.observe(finalCtx, def, exec, duration)

	if err != nil {
		logger.Error("job attempt failed", "status", exec.Status, "duration", duration, "error", err)
	} else {
		logger.Info("job completed", "duration", duration)
	}
	return err
}

func (js *JobScheduler) observe(ctx context.Context, def jobs.Definition, exec models.JobExecution, duration time.Duration) {
	js.metrics.JobExecutionsTotal.WithLabelValues(def.Name, string(exec.Status)).Inc()
	js.metrics.JobDuration.WithLabelValues(def.Name).Observe(duration.Seconds())

	js.mu.Lock()
	s := js.stats[def.Name]
	if s == nil {
		s = &JobStats{}
		js.stats[def.Name] = s
	}
	s.record(exec)
	consecutive := s.ConsecutiveFailures
	js.mu.Unlock()

	js.metrics.JobConsecutiveFailures.WithLabelValues(def.Name).Set(float64(consecutive))
	if consecutive == js.cfg.FailureThreshold {
		js.alert(ctx, def, exec, consecutive)
	}
}

// alert fires once when a job reaches the failure threshold; the counter must
// reset through a success before it can fire again.
func (js *JobScheduler) alert(ctx context.Context, def jobs.Definition, exec models.JobExecution, consecutive int) {
	js.notifier.CreateSystemNotification(ctx, models.Notification{
		Type:     "job_failure",
		Title:    fmt.Sprintf("Job %s is failing", def.Name),
		Message:  fmt.Sprintf("%s failed %d consecutive times: %s", def.Name, consecutive, exec.Error),
		Urgency:  models.UrgencyHigh,
		Category: "system",
		Metadata: map[string]any{"job": def.Name, "consecutive_failures": consecutive, "execution_id": exec.ExecutionID},
	})

	if len(js.cfg.AlertRecipients) == 0 {
		return
	}
	err := js.mailer.SendJobFailureAlert(ctx, services.JobFailureAlertData{
		Recipients:          js.cfg.AlertRecipients,
		JobName:             def.Name,
		ConsecutiveFailures: consecutive,
		LastError:           exec.Error,
		FailedAt:            *exec.CompletedAt,
	})
	if err != nil {
		js.logger.Error("failed to send job failure alert", "job", def.Name, "error", err)
	}
}

// Trigger starts a manual run of name in the background. It fails fast when
// the job is unknown, already running here, or locked by another replica.
func (js *JobScheduler) Trigger(ctx context.Context, name string) error {
	def, ok := js.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, name)
	}
	if !js.begin(name) {
		return fmt.Errorf("%w: %s", jobs.ErrJobAlreadyRunning, name)
	}

	release, err := js.lock(ctx, name)
	if err != nil {
		js.end(name)
		return err
	}

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		defer js.end(name)
		defer release()
		js.logger.Info("manual job trigger", "job", name)
		if err := js.execute(js.ctx, def); err != nil {
			js.logger.Error("manual job run failed", "job", name, "error", err)
		}
	}()
	return nil
}

// Pause removes a job from the schedule until Resume. Manual triggers still work.
func (js *JobScheduler) Pause(name string) error {
	def, ok := js.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, name)
	}
	if !def.Enabled {
		return fmt.Errorf("%w: %s", ErrJobDisabled, name)
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if js.paused[name] {
		return nil
	}
	if job, ok := js.scheduled[name]; ok {
		if err := js.scheduler.RemoveJob(job.ID()); err != nil {
			return fmt.Errorf("pause %s: %w", name, err)
		}
		delete(js.scheduled, name)
	}
	js.paused[name] = true
	js.logger.Info("job paused", "job", name)
	return nil
}

func (js *JobScheduler) Resume(name string) error {
	def, ok := js.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, name)
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if !js.paused[name] {
		return fmt.Errorf("%w: %s", ErrNotPaused, name)
	}
	if err := js.scheduleLocked(def); err != nil {
		return err
	}
	delete(js.paused, name)
	js.logger.Info("job resumed", "job", name)
	return nil
}

// Status reports one job's schedule state and in-memory stats.
func (js *JobScheduler) Status(name string) (JobStatus, error) {
	def, ok := js.registry.Get(name)
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, name)
	}
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.statusLocked(def), nil
}

// Statuses lists every registered job in registry order.
func (js *JobScheduler) Statuses() []JobStatus {
	js.mu.RLock()
	defer js.mu.RUnlock()
	defs := js.registry.All()
	out := make([]JobStatus, 0, len(defs))
	for _, def := range defs {
		out = append(out, js.statusLocked(def))
	}
	return out
}

func (js *JobScheduler) statusLocked(def jobs.Definition) JobStatus {
	st := JobStatus{
		Name:          def.Name,
		Description:   def.Description,
		Schedule:      def.Schedule,
		Priority:      def.Priority,
		Timeout:       def.Timeout.String(),
		RetryAttempts: def.RetryAttempts,
		Enabled:       def.Enabled,
		Paused:        js.paused[def.Name],
		Running:       js.inFlight[def.Name],
	}
	if s := js.stats[def.Name]; s != nil {
		st.Stats = s.snapshot()
		st.LastRun = st.Stats.LastRun
	}
	if job, ok := js.scheduled[def.Name]; ok {
		if next, err := job.NextRun(); err == nil && !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}
