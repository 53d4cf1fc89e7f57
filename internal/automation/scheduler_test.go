package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

// scriptedExecutor returns canned results per step id.
type scriptedExecutor struct {
	succeed  map[uuid.UUID]bool
	executed []uuid.UUID
}

func (s *scriptedExecutor) ExecuteStep(_ context.Context, _ string, _ *Enrollment, step *Step) (bool, error) {
	s.executed = append(s.executed, step.ID)
	return s.succeed[step.ID], nil
}

func newTestScheduler(store *memStore, exec stepExecutor, cfg SchedulerConfig) *Scheduler {
	s := NewScheduler(store, exec, NewLocalLocker(), cfg)
	s.now = func() time.Time { return time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC) }
	return s
}

func dueEnrollment(store *memStore, a *Automation) *Enrollment {
	e := activeEnrollment(store, a)
	e.NextStepAt = time.Date(2025, 12, 22, 11, 0, 0, 0, time.UTC)
	return e
}

func TestProcessPendingStepsAdvances(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{a.Steps[0].ID: true}}
	s := newTestScheduler(store, exec, SchedulerConfig{})

	n, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, exec.executed, 1)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, a.Steps[1].ID, stored.CurrentStepID)
	// second step waits its own delay from now
	assert.Equal(t, time.Date(2025, 12, 23, 12, 0, 0, 0, time.UTC), stored.NextStepAt)
	assert.Zero(t, stored.Attempts)
}

func TestProcessPendingStepsCompletesAtLastStep(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)
	e.CurrentStepID = a.Steps[1].ID

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{a.Steps[1].ID: true}}
	s := newTestScheduler(store, exec, SchedulerConfig{})

	_, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.ExitedAt)
	assert.Equal(t, 1, a.TotalCompleted)
}

func TestProcessPendingStepsRetryBackoff(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{}}
	s := newTestScheduler(store, exec, SchedulerConfig{RetryBackoff: 10 * time.Minute, MaxStepAttempts: 3})

	n, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, a.Steps[0].ID, stored.CurrentStepID, "a failed step is retried, not skipped")
	assert.Equal(t, time.Date(2025, 12, 22, 12, 10, 0, 0, time.UTC), stored.NextStepAt)
}

func TestProcessPendingStepsExitsAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)
	e.Attempts = 2

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{}}
	s := newTestScheduler(store, exec, SchedulerConfig{MaxStepAttempts: 3})

	_, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusExited, stored.Status)
	assert.Equal(t, "max_attempts_reached", stored.ExitReason)
	require.NotNil(t, stored.ExitedAt)
}

func TestProcessPendingStepsIgnoresFutureEnrollments(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := activeEnrollment(store, a)
	e.NextStepAt = time.Date(2025, 12, 22, 13, 0, 0, 0, time.UTC) // after now

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{a.Steps[0].ID: true}}
	s := newTestScheduler(store, exec, SchedulerConfig{})

	n, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, exec.executed)
}

func TestProcessPendingStepsExitsWhenStepRemoved(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)
	e.CurrentStepID = uuid.New() // points at a step that no longer exists

	exec := &scriptedExecutor{}
	s := newTestScheduler(store, exec, SchedulerConfig{})

	_, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Empty(t, exec.executed)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusExited, stored.Status)
	assert.Equal(t, "step_removed", stored.ExitReason)
}

func TestProcessPendingStepsSkipsLeasedEnrollments(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)

	locks := NewLocalLocker()
	_, ok := locks.TryAcquire(context.Background(), e.ID)
	require.True(t, ok)

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{a.Steps[0].ID: true}}
	s := NewScheduler(store, exec, locks, SchedulerConfig{})

	n, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, exec.executed, "leased enrollments must be skipped")
}

func TestAdvanceToNextStepTerminalEnrollment(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)
	now := time.Now()
	e.Status = StatusExited
	e.ExitedAt = &now

	s := newTestScheduler(store, &scriptedExecutor{}, SchedulerConfig{})

	advanced, err := s.AdvanceToNextStep(context.Background(), e.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestTwoStepAutomationRunsToCompletion(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	e := dueEnrollment(store, a)

	sender := &recordingSender{}
	exec := newTestExecutor(store, sender, nil)
	s := newTestScheduler(store, exec, SchedulerConfig{})

	// first pass sends step one and schedules step two for tomorrow
	n, err := s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "You left something behind", sender.sent[0].subject)

	stored := store.enrollments[e.ID]
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, a.Steps[1].ID, stored.CurrentStepID)

	// nothing is due until the second step's delay elapses
	n, err = s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.Len(t, sender.sent, 1)

	s.now = func() time.Time { return time.Date(2025, 12, 24, 12, 0, 0, 0, time.UTC) }
	n, err = s.ProcessPendingSteps(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Still thinking it over?", sender.sent[1].subject)
	assert.Len(t, store.stepLogs, 2)
	for _, l := range store.stepLogs {
		assert.Equal(t, LogSent, l.Status)
		assert.Equal(t, "email", l.Channel)
		assert.Equal(t, e.ID, l.EnrollmentID)
	}

	stored = store.enrollments[e.ID]
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, a.TotalCompleted, "completion must be counted exactly once")
}

func TestSchedulerStartStop(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	dueEnrollment(store, a)

	exec := &scriptedExecutor{succeed: map[uuid.UUID]bool{a.Steps[0].ID: true}}
	s := NewScheduler(store, exec, nil, SchedulerConfig{PollInterval: 10 * time.Millisecond})

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	processed, _ := s.Stats()
	assert.GreaterOrEqual(t, processed, int64(1))
}
