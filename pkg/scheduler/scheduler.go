package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/kafka"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/redis"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

var (
	// ErrRunInProgress is returned when a run is already active
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultInterval is the default interval between scheduled runs
	DefaultInterval = 24 * time.Hour

	// DefaultLockTTL is the default TTL of the run lock
	DefaultLockTTL = 10 * time.Minute

	// RunLockKey is the lock key, below the locker prefix, held for the duration of a run
	RunLockKey = "pipeline:run"

	// interruptedMessage is recorded on runs a dead process left in the running state
	interruptedMessage = "run interrupted before completion"
)

// Trigger sources
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*models.RunOutcome, error)
	Mode() models.PipelineMode
}

// RunLocker holds a cross-process lock while fn runs.
type RunLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// RunStore records run history.
type RunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Update(ctx context.Context, run *models.PipelineRun) error
	FailRunning(ctx context.Context, message string) (int64, error)
}

// EventPublisher publishes run lifecycle events.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, evt *kafka.RunEventMessage) error
}

// Config holds configuration for the scheduler
type Config struct {
	// Interval between scheduled runs
	Interval time.Duration

	// RunOnStart triggers a run as soon as the scheduler starts
	RunOnStart bool

	// Retries is how many times a failed run is retried
	Retries int

	// RetryDelay is the wait between attempts
	RetryDelay time.Duration

	// LockTTL is how long the run lock lives without a heartbeat
	LockTTL time.Duration
}

// Scheduler runs the pipeline on an interval and on demand, one run at a time
type Scheduler struct {
	runner    Runner
	locker    RunLocker
	runs      RunStore
	publisher EventPublisher
	config    Config
	logger    ectologger.Logger

	// Coordination
	baseCtx    context.Context
	cancelRuns context.CancelFunc
	stopCh     chan struct{}
	stoppedC   chan struct{}
	running    bool
	mu         sync.RWMutex

	inFlight sync.Mutex
	active   bool
	runsWg   sync.WaitGroup
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a new scheduler. locker, runs and publisher may be nil.
func NewScheduler(
	runner Runner,
	locker RunLocker,
	runs RunStore,
	publisher EventPublisher,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.Retries < 0 {
		config.Retries = 0
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:     runner,
		locker:     locker,
		runs:       runs,
		publisher:  publisher,
		config:     config,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelRuns: cancel,
		stopCh:     make(chan struct{}),
		stoppedC:   make(chan struct{}),
		sleep:      sleepContext,
	}
}

// Start starts the scheduling loop. A stopped scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	if s.baseCtx.Err() != nil {
		s.baseCtx, s.cancelRuns = context.WithCancel(context.Background())
	}
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})
	baseCtx, stopCh, stoppedC := s.baseCtx, s.stopCh, s.stoppedC
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: interval=%s run_on_start=%t retries=%d",
		s.config.Interval, s.config.RunOnStart, s.config.Retries)

	go s.loop(baseCtx, stopCh, stoppedC)

	return nil
}

// Stop stops the loop and waits for an in-flight run. When ctx expires first the run is
// cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	stopCh, stoppedC, cancelRuns := s.stopCh, s.stoppedC, s.cancelRuns
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	if wasRunning {
		close(stopCh)
	}

	done := make(chan struct{})
	go func() {
		if wasRunning {
			<-stoppedC
		}
		s.runsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelRuns()
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		cancelRuns()
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out, cancelling active run")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduling loop is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// IsRunActive returns whether this process is executing a run
func (s *Scheduler) IsRunActive() bool {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()
	return s.active
}

func (s *Scheduler) loop(baseCtx context.Context, stopCh <-chan struct{}, stoppedC chan struct{}) {
	defer close(stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(baseCtx, TriggerStartup)
	}

	for {
		select {
		case <-stopCh:
			s.logger.Debug("Scheduler loop stopping")
			return
		case <-ticker.C:
			s.tick(baseCtx, TriggerSchedule)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger string) {
	_, err := s.Trigger(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.logger.Infof("Skipping %s run: %v", trigger, err)
	default:
		s.logger.WithError(err).Errorf("Scheduled %s run failed", trigger)
	}
}

// Trigger runs the pipeline synchronously. It returns ErrRunInProgress when a run is
// active in this process or another process holds the run lock.
func (s *Scheduler) Trigger(ctx context.Context, trigger string) (*models.PipelineRun, error) {
	if !s.begin() {
		return nil, ErrRunInProgress
	}
	defer s.end()

	return s.execute(ctx, uuid.New(), trigger)
}

// Submit starts a run in the background and returns its id. The run outlives ctx; it is
// bounded by the scheduler's lifetime instead.
func (s *Scheduler) Submit(ctx context.Context, trigger string) (uuid.UUID, error) {
	if !s.begin() {
		return uuid.Nil, ErrRunInProgress
	}

	id := uuid.New()
	runCtx := context.WithoutCancel(ctx)
	s.runsWg.Add(1)
	go func() {
		defer s.runsWg.Done()
		defer s.end()

		runCtx, cancel := mergeCancel(runCtx, s.runContext())
		defer cancel()

		if _, err := s.execute(runCtx, id, trigger); err != nil {
			s.logger.WithContext(runCtx).WithError(err).Errorf("Run %s failed", id)
		}
	}()

	return id, nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

func (s *Scheduler) begin() bool {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()
	if s.active {
		return false
	}
	s.active = true
	metrics.RunsInFlight.Inc()
	return true
}

func (s *Scheduler) end() {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()
	s.active = false
	metrics.RunsInFlight.Dec()
}

func (s *Scheduler) execute(ctx context.Context, id uuid.UUID, trigger string) (*models.PipelineRun, error) {
	ctx = appctx.SetRunID(ctx, id.String())
	ctx = appctx.SetTrigger(ctx, trigger)
	ctx, span := tracing.StartSpan(ctx, "Scheduler.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", id.String()),
		attribute.String("trigger", trigger),
	)

	run := &models.PipelineRun{
		ID:      id,
		Trigger: trigger,
		Status:  models.RunStatusRunning,
		Mode:    string(s.runner.Mode()),
	}

	fn := func(ctx context.Context) error {
		return s.attempts(ctx, run)
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, RunLockKey, s.config.LockTTL, fn)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: lock held by another process", ErrRunInProgress)
		}
	} else {
		err = fn(ctx)
	}

	if err != nil {
		tracing.RecordError(span, err, "run failed")
	}
	return run, err
}

// attempts records the run and executes it, retrying failures.
func (s *Scheduler) attempts(ctx context.Context, run *models.PipelineRun) error {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  run.ID.String(),
		"trigger": run.Trigger,
	})

	if s.runs != nil {
		// the lock is held, so any run still marked running belongs to a dead process
		if closed, err := s.runs.FailRunning(ctx, interruptedMessage); err != nil {
			log.WithError(err).Warn("Failed to close interrupted runs")
		} else if closed > 0 {
			log.Warnf("Marked %d interrupted run(s) as failed", closed)
		}
	}

	run.Attempt = 1
	run.StartedAt = time.Now().UTC()
	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
	}
	s.publish(ctx, run, kafka.EventRunStarted, nil)

	var (
		outcome *models.RunOutcome
		err     error
	)
	maxAttempts := s.config.Retries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempt = attempt
		log.Infof("Starting run attempt %d of %d", attempt, maxAttempts)

		outcome, err = s.runner.Run(ctx)
		if err == nil {
			break
		}

		log.WithError(err).Warnf("Run attempt %d of %d failed", attempt, maxAttempts)
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		if !retryable(err) {
			log.Warn("Run failure is not retryable")
			break
		}

		s.record(ctx, run, outcome, err)
		if sleepErr := s.sleep(ctx, s.config.RetryDelay); sleepErr != nil {
			err = errors.Join(err, sleepErr)
			break
		}
	}

	run.Status = models.RunStatusSuccess
	eventType := kafka.EventRunCompleted
	if err != nil {
		run.Status = models.RunStatusFailed
		eventType = kafka.EventRunFailed
	}
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt

	s.record(context.WithoutCancel(ctx), run, outcome, err)
	s.publish(ctx, run, eventType, err)

	if err != nil {
		log.WithError(err).Errorf("Run failed after %d attempt(s)", run.Attempt)
		return err
	}
	log.Infof("Run succeeded after %d attempt(s)", run.Attempt)
	return nil
}

// retryable reports whether a failed attempt may run again. Errors opt out by implementing
// Retryable() bool anywhere in their chain.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// record copies the outcome onto the run and persists it.
func (s *Scheduler) record(ctx context.Context, run *models.PipelineRun, outcome *models.RunOutcome, runErr error) {
	if outcome != nil {
		run.Extracted = outcome.Extracted
		run.Uploaded = outcome.Uploaded
		run.FilesProcessed = outcome.Load.FilesProcessed
		run.RowsLoaded = outcome.Load.RowsLoaded
		run.RowsParsed = outcome.Load.RowsParsed
		run.RowErrors = outcome.Load.Errors
		run.Outcome = database.NewJSONB(*outcome)
	}
	run.ErrorMessage = nil
	if runErr != nil {
		message := runErr.Error()
		run.ErrorMessage = &message
	}

	if s.runs == nil {
		return
	}
	if err := s.runs.Update(ctx, run); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("Failed to update run %s", run.ID)
	}
}

func (s *Scheduler) publish(ctx context.Context, run *models.PipelineRun, eventType string, runErr error) {
	if s.publisher == nil {
		return
	}

	evt := &kafka.RunEventMessage{
		Type:    eventType,
		RunID:   run.ID.String(),
		Trigger: run.Trigger,
		Attempt: run.Attempt,
		Status:  string(run.Status),
		Mode:    run.Mode,
	}
	if eventType != kafka.EventRunStarted {
		outcome := run.Outcome.GetValue()
		evt.Outcome = &outcome
	}
	if runErr != nil {
		evt.Error = runErr.Error()
	}

	// event delivery never fails a run
	if err := s.publisher.PublishRunEvent(ctx, evt); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish %s event", eventType)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// mergeCancel returns a context carrying ctx's values that is also cancelled with other.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
