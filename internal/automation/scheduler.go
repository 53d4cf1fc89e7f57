package automation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// schedulerStore is the slice of Store the scheduler drives.
type schedulerStore interface {
	ActiveShopDomains(ctx context.Context) ([]string, error)
	ListDuePending(ctx context.Context, shopDomain string, before time.Time, limit int) ([]Enrollment, error)
	StepByID(ctx context.Context, id uuid.UUID) (*Step, error)
	EnrollmentByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	AutomationByID(ctx context.Context, id uuid.UUID) (*Automation, error)
	UpdateEnrollmentProgress(ctx context.Context, e *Enrollment) error
	IncrementCompleted(ctx context.Context, automationID uuid.UUID) error
}

// stepExecutor runs one due step and reports whether the enrollment advances.
type stepExecutor interface {
	ExecuteStep(ctx context.Context, shopDomain string, e *Enrollment, step *Step) (bool, error)
}

// SchedulerConfig tunes the polling loop and the retry policy.
type SchedulerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	RetryBackoff    time.Duration
	MaxStepAttempts int
}

func (c *SchedulerConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Minute
	}
	if c.MaxStepAttempts <= 0 {
		c.MaxStepAttempts = 3
	}
}

// Scheduler polls for due enrollments and walks them through their steps.
type Scheduler struct {
	store    schedulerStore
	executor stepExecutor
	locks    Locker
	cfg      SchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed int64
	failed    int64
	now       func() time.Time
}

func NewScheduler(store schedulerStore, executor stepExecutor, locks Locker, cfg SchedulerConfig) *Scheduler {
	cfg.withDefaults()
	if locks == nil {
		locks = NewLocalLocker()
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		locks:    locks,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start launches the polling loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	log.Printf("[Scheduler] started, polling every %s", s.cfg.PollInterval)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Printf("[Scheduler] stopped, processed=%d failed=%d",
		atomic.LoadInt64(&s.processed), atomic.LoadInt64(&s.failed))
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	shops, err := s.store.ActiveShopDomains(ctx)
	if err != nil {
		log.Printf("[Scheduler] list active shops: %v", err)
		return
	}
	for _, shop := range shops {
		if ctx.Err() != nil {
			return
		}
		n, err := s.ProcessPendingSteps(ctx, shop)
		if err != nil {
			log.Printf("[Scheduler] process %s: %v", shop, err)
		}
		if n > 0 {
			log.Printf("[Scheduler] %s: processed %d enrollments", shop, n)
		}
	}
}

// ProcessPendingSteps executes every due enrollment for a shop, up to the
// batch size. Returns how many enrollments moved forward.
func (s *Scheduler) ProcessPendingSteps(ctx context.Context, shopDomain string) (int, error) {
	due, err := s.store.ListDuePending(ctx, shopDomain, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due enrollments: %w", err)
	}

	processed := 0
	for i := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		e := &due[i]

		release, ok := s.locks.TryAcquire(ctx, e.ID)
		if !ok {
			continue
		}
		advanced, err := s.processEnrollment(ctx, shopDomain, e)
		release()

		if err != nil {
			atomic.AddInt64(&s.failed, 1)
			log.Printf("[Scheduler] enrollment %s: %v", e.ID, err)
			continue
		}
		if advanced {
			atomic.AddInt64(&s.processed, 1)
			processed++
		}
	}
	return processed, nil
}

func (s *Scheduler) processEnrollment(ctx context.Context, shopDomain string, e *Enrollment) (bool, error) {
	step, err := s.store.StepByID(ctx, e.CurrentStepID)
	if err != nil {
		return false, fmt.Errorf("load step: %w", err)
	}
	if step == nil || !step.IsActive {
		// The author removed the step under an in-flight enrollment. Exit it
		// rather than leaving it due forever.
		return false, s.exit(ctx, e, "step_removed")
	}

	success, err := s.executor.ExecuteStep(ctx, shopDomain, e, step)
	if err != nil {
		return false, err
	}
	if !success {
		return false, s.handleFailure(ctx, e)
	}
	return s.advance(ctx, e)
}

// AdvanceToNextStep moves an enrollment to the next step in its automation's
// ordered list, or completes it at the end. No-op on terminal enrollments.
func (s *Scheduler) AdvanceToNextStep(ctx context.Context, enrollmentID uuid.UUID) (bool, error) {
	e, err := s.store.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if e == nil || e.Status != StatusActive {
		return false, nil
	}
	return s.advance(ctx, e)
}

func (s *Scheduler) advance(ctx context.Context, e *Enrollment) (bool, error) {
	a, err := s.store.AutomationByID(ctx, e.AutomationID)
	if err != nil {
		return false, fmt.Errorf("load automation: %w", err)
	}
	if a == nil {
		return false, nil
	}

	now := s.now().UTC()
	e.Attempts = 0

	idx := a.StepIndex(e.CurrentStepID)
	if idx < 0 || idx+1 >= len(a.Steps) {
		e.Status = StatusCompleted
		e.CompletedAt = &now
		if err := s.store.UpdateEnrollmentProgress(ctx, e); err != nil {
			return false, fmt.Errorf("complete enrollment: %w", err)
		}
		if err := s.store.IncrementCompleted(ctx, e.AutomationID); err != nil {
			log.Printf("[Scheduler] increment completed for %s: %v", e.AutomationID, err)
		}
		log.Printf("[Scheduler] enrollment %s completed %s", e.ID, a.Name)
		return true, nil
	}

	next := a.Steps[idx+1]
	e.CurrentStepID = next.ID
	e.NextStepAt = now.Add(time.Duration(next.DelayMinutes) * time.Minute)
	if err := s.store.UpdateEnrollmentProgress(ctx, e); err != nil {
		return false, fmt.Errorf("advance enrollment: %w", err)
	}
	return true, nil
}

// handleFailure pushes the enrollment's due time out by the retry backoff,
// exiting it once the attempt limit is hit.
func (s *Scheduler) handleFailure(ctx context.Context, e *Enrollment) error {
	e.Attempts++
	if e.Attempts >= s.cfg.MaxStepAttempts {
		return s.exit(ctx, e, "max_attempts_reached")
	}
	e.NextStepAt = s.now().UTC().Add(s.cfg.RetryBackoff)
	if err := s.store.UpdateEnrollmentProgress(ctx, e); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

func (s *Scheduler) exit(ctx context.Context, e *Enrollment, reason string) error {
	now := s.now().UTC()
	e.Status = StatusExited
	e.ExitedAt = &now
	e.ExitReason = reason
	if err := s.store.UpdateEnrollmentProgress(ctx, e); err != nil {
		return fmt.Errorf("exit enrollment: %w", err)
	}
	log.Printf("[Scheduler] enrollment %s exited: %s", e.ID, reason)
	return nil
}

// Stats reports lifetime counters for health endpoints.
func (s *Scheduler) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&s.processed), atomic.LoadInt64(&s.failed)
}
