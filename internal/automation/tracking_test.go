package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRecorder tallies outcome forwards.
type countingRecorder struct {
	opens, clicks, conversions int
	lastValue                  float64
}

func (c *countingRecorder) RecordOpen(context.Context, uuid.UUID, uuid.UUID) error {
	c.opens++
	return nil
}

func (c *countingRecorder) RecordClick(context.Context, uuid.UUID, uuid.UUID) error {
	c.clicks++
	return nil
}

func (c *countingRecorder) RecordConversion(_ context.Context, _, _ uuid.UUID, value float64) error {
	c.conversions++
	c.lastValue = value
	return nil
}

func trackedSetup(t *testing.T, withVariant bool) (*memStore, *Tracker, *countingRecorder, *Enrollment, *StepLog) {
	t.Helper()
	store := newMemStore()
	a := cartAutomation(store)
	e := activeEnrollment(store, a)
	if withVariant {
		vid := uuid.New()
		e.ABTestVariantID = &vid
	}

	l := &StepLog{
		ID:                uuid.New(),
		EnrollmentID:      e.ID,
		StepID:            a.Steps[0].ID,
		Status:            LogSent,
		Channel:           "email",
		ExternalMessageID: "msg-abc",
	}
	require.NoError(t, store.CreateStepLog(context.Background(), l))

	rec := &countingRecorder{}
	return store, NewTracker(store, rec), rec, e, l
}

func TestTrackEmailOpenedIdempotent(t *testing.T) {
	store, tracker, rec, _, l := trackedSetup(t, true)

	require.NoError(t, tracker.TrackEmailOpened(context.Background(), l.ID))
	require.NoError(t, tracker.TrackEmailOpened(context.Background(), l.ID))

	stored := store.stepLogs[l.ID]
	require.NotNil(t, stored.OpenedAt)
	assert.Equal(t, 1, rec.opens, "replayed callback must not re-forward the outcome")
}

func TestTrackEmailClickedWithoutVariant(t *testing.T) {
	store, tracker, rec, _, l := trackedSetup(t, false)

	require.NoError(t, tracker.TrackEmailClicked(context.Background(), l.ID))

	assert.NotNil(t, store.stepLogs[l.ID].ClickedAt)
	assert.Zero(t, rec.clicks, "no variant, nothing to forward")
}

func TestTrackEmailDeliveredAndBounced(t *testing.T) {
	store, tracker, _, _, l := trackedSetup(t, false)

	require.NoError(t, tracker.TrackEmailDelivered(context.Background(), "msg-abc"))
	assert.NotNil(t, store.stepLogs[l.ID].DeliveredAt)

	require.NoError(t, tracker.TrackEmailBounced(context.Background(), "msg-abc"))
	stored := store.stepLogs[l.ID]
	assert.NotNil(t, stored.BouncedAt)
	assert.Equal(t, LogBounced, stored.Status)

	// unknown provider ids are tolerated
	require.NoError(t, tracker.TrackEmailDelivered(context.Background(), "msg-unknown"))
}

func TestTrackUnsubscribedStampsLogOnly(t *testing.T) {
	store, tracker, rec, _, l := trackedSetup(t, true)

	require.NoError(t, tracker.TrackUnsubscribed(context.Background(), l.ID))
	require.NoError(t, tracker.TrackUnsubscribed(context.Background(), l.ID))

	assert.NotNil(t, store.stepLogs[l.ID].UnsubscribedAt)
	assert.Zero(t, rec.opens+rec.clicks+rec.conversions, "unsubscribes never reach the test engine")
}

func TestTrackConversionAttributesRevenue(t *testing.T) {
	store, tracker, rec, e, _ := trackedSetup(t, true)
	a := store.automations[e.AutomationID]

	require.NoError(t, tracker.TrackConversion(context.Background(), e.ID, 75.50))

	assert.Equal(t, 75.50, a.Revenue)
	assert.Equal(t, 1, rec.conversions)
	assert.Equal(t, 75.50, rec.lastValue)
}

func TestTrackConversionUnknownEnrollment(t *testing.T) {
	_, tracker, rec, _, _ := trackedSetup(t, true)

	require.NoError(t, tracker.TrackConversion(context.Background(), uuid.New(), 10))
	assert.Zero(t, rec.conversions)
}

func TestTrackerNowIsUTC(t *testing.T) {
	store, tracker, _, _, l := trackedSetup(t, false)
	fixed := time.Date(2025, 12, 22, 15, 4, 5, 0, time.FixedZone("PST", -8*3600))
	tracker.now = func() time.Time { return fixed }

	require.NoError(t, tracker.TrackEmailOpened(context.Background(), l.ID))
	assert.Equal(t, time.UTC, store.stepLogs[l.ID].OpenedAt.Location())
}
