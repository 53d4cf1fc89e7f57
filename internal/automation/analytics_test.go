package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFunnel(t *testing.T, store *memStore) *Automation {
	t.Helper()
	a := cartAutomation(store)
	a.TotalEnrolled = 4
	a.Revenue = 150

	now := time.Now().UTC()
	addLog := func(e *Enrollment, step Step, status string, delivered, opened, clicked bool) {
		l := &StepLog{
			ID:           uuid.New(),
			EnrollmentID: e.ID,
			StepID:       step.ID,
			Status:       status,
			Channel:      "email",
		}
		if delivered {
			l.DeliveredAt = &now
		}
		if opened {
			l.OpenedAt = &now
		}
		if clicked {
			l.ClickedAt = &now
		}
		require.NoError(t, store.CreateStepLog(context.Background(), l))
	}

	// two completed the flow, one active, one failed out
	e1 := activeEnrollment(store, a)
	e1.Status = StatusCompleted
	addLog(e1, a.Steps[0], LogSent, true, true, true)
	addLog(e1, a.Steps[1], LogSent, true, true, false)

	e2 := activeEnrollment(store, a)
	e2.Status = StatusCompleted
	addLog(e2, a.Steps[0], LogSent, true, false, false)
	addLog(e2, a.Steps[1], LogSent, false, false, false)

	e3 := activeEnrollment(store, a)
	addLog(e3, a.Steps[0], LogSent, true, true, false)

	e4 := activeEnrollment(store, a)
	e4.Status = StatusExited
	addLog(e4, a.Steps[0], LogFailed, false, false, false)

	return a
}

func TestAutomationAnalytics(t *testing.T) {
	store := newMemStore()
	a := seedFunnel(t, store)
	analyzer := NewAnalyzer(store)

	out, err := analyzer.AutomationAnalytics(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, 4, out.TotalEnrolled)
	assert.Equal(t, 2, out.Completed)
	assert.Equal(t, 1, out.ActiveEnrollments)
	assert.Equal(t, 1, out.Exited)
	assert.Equal(t, 50.0, out.CompletionRate)
	assert.Equal(t, 150.0, out.Revenue)
	assert.Equal(t, 37.5, out.RevenuePerEnroll)

	assert.Equal(t, 5, out.TotalSent)
	assert.Equal(t, 5, out.EmailSent)
	assert.Equal(t, 0, out.SMSSent)
	assert.Equal(t, 4, out.TotalDelivered)
	assert.Equal(t, 3, out.TotalOpened)
	assert.Equal(t, 1, out.TotalClicked)
	assert.Equal(t, 80.0, out.DeliveryRate)
	assert.Equal(t, 75.0, out.OpenRate)
	assert.Equal(t, 25.0, out.ClickRate)
}

func TestStepAnalyticsOrderedPerStep(t *testing.T) {
	store := newMemStore()
	a := seedFunnel(t, store)
	analyzer := NewAnalyzer(store)

	steps, err := analyzer.StepAnalytics(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	first, second := steps[0], steps[1]
	assert.Equal(t, a.Steps[0].ID, first.StepID)
	assert.Equal(t, 3, first.Sent)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 3, first.Delivered)
	assert.Equal(t, 2, first.Opened)

	assert.Equal(t, a.Steps[1].ID, second.StepID)
	assert.Equal(t, 2, second.Sent)
	assert.Equal(t, 1, second.Delivered)
	assert.Equal(t, 100.0, second.OpenRate, "one delivered, one opened")
}

func TestAutomationAnalyticsUnknownAutomation(t *testing.T) {
	analyzer := NewAnalyzer(newMemStore())

	out, err := analyzer.AutomationAnalytics(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRateRounding(t *testing.T) {
	assert.Equal(t, 0.0, rate(5, 0))
	assert.Equal(t, 33.33, rate(1, 3))
	assert.Equal(t, 66.67, rate(2, 3))
	assert.Equal(t, 100.0, rate(7, 7))
}
