package automation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// trackingStore is the slice of Store the tracker writes through.
type trackingStore interface {
	StepLogByID(ctx context.Context, id uuid.UUID) (*StepLog, error)
	MarkLogOpened(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error)
	MarkLogClicked(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error)
	MarkLogUnsubscribed(ctx context.Context, stepLogID uuid.UUID, at time.Time) (bool, error)
	MarkLogDelivered(ctx context.Context, externalMessageID string, at time.Time) (bool, error)
	MarkLogBounced(ctx context.Context, externalMessageID string, at time.Time) (bool, error)
	EnrollmentByID(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	AddRevenue(ctx context.Context, automationID uuid.UUID, value float64) error
}

// OutcomeRecorder forwards engagement to the A/B test engine. Satisfied by
// *abtest.Engine.
type OutcomeRecorder interface {
	RecordOpen(ctx context.Context, enrollmentID, variantID uuid.UUID) error
	RecordClick(ctx context.Context, enrollmentID, variantID uuid.UUID) error
	RecordConversion(ctx context.Context, enrollmentID, variantID uuid.UUID, value float64) error
}

// Tracker applies provider webhook callbacks to step logs and mirrors
// engagement into any A/B test the enrollment is part of. Every operation is
// idempotent: the first callback wins, replays are no-ops.
type Tracker struct {
	store    trackingStore
	outcomes OutcomeRecorder
	now      func() time.Time
}

func NewTracker(store trackingStore, outcomes OutcomeRecorder) *Tracker {
	return &Tracker{store: store, outcomes: outcomes, now: time.Now}
}

// TrackEmailOpened stamps the open on a step log.
func (t *Tracker) TrackEmailOpened(ctx context.Context, stepLogID uuid.UUID) error {
	first, err := t.store.MarkLogOpened(ctx, stepLogID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("mark opened: %w", err)
	}
	if !first {
		return nil
	}
	return t.forward(ctx, stepLogID, func(ctx context.Context, enrollmentID, variantID uuid.UUID) error {
		return t.outcomes.RecordOpen(ctx, enrollmentID, variantID)
	})
}

// TrackEmailClicked stamps the click on a step log.
func (t *Tracker) TrackEmailClicked(ctx context.Context, stepLogID uuid.UUID) error {
	first, err := t.store.MarkLogClicked(ctx, stepLogID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("mark clicked: %w", err)
	}
	if !first {
		return nil
	}
	return t.forward(ctx, stepLogID, func(ctx context.Context, enrollmentID, variantID uuid.UUID) error {
		return t.outcomes.RecordClick(ctx, enrollmentID, variantID)
	})
}

// TrackUnsubscribed stamps the unsubscribe on a step log. Unsubscribes stay
// out of the A/B results; they measure list health, not variant performance.
func (t *Tracker) TrackUnsubscribed(ctx context.Context, stepLogID uuid.UUID) error {
	if _, err := t.store.MarkLogUnsubscribed(ctx, stepLogID, t.now().UTC()); err != nil {
		return fmt.Errorf("mark unsubscribed: %w", err)
	}
	return nil
}

// TrackEmailDelivered stamps delivery by the provider's message id.
func (t *Tracker) TrackEmailDelivered(ctx context.Context, externalMessageID string) error {
	_, err := t.store.MarkLogDelivered(ctx, externalMessageID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// TrackEmailBounced records a bounce by the provider's message id.
func (t *Tracker) TrackEmailBounced(ctx context.Context, externalMessageID string) error {
	_, err := t.store.MarkLogBounced(ctx, externalMessageID, t.now().UTC())
	if err != nil {
		return fmt.Errorf("mark bounced: %w", err)
	}
	return nil
}

// TrackConversion attributes purchase revenue to an enrollment's automation
// and, when the enrollment saw a test variant, to that variant. Unknown
// enrollments are ignored.
func (t *Tracker) TrackConversion(ctx context.Context, enrollmentID uuid.UUID, value float64) error {
	e, err := t.store.EnrollmentByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("load enrollment: %w", err)
	}
	if e == nil {
		log.Printf("[Tracking] conversion for unknown enrollment %s ignored", enrollmentID)
		return nil
	}

	if err := t.store.AddRevenue(ctx, e.AutomationID, value); err != nil {
		return fmt.Errorf("add revenue: %w", err)
	}

	if e.ABTestVariantID != nil && t.outcomes != nil {
		if err := t.outcomes.RecordConversion(ctx, e.ID, *e.ABTestVariantID, value); err != nil {
			log.Printf("[Tracking] record variant conversion for %s: %v", e.ID, err)
		}
	}
	return nil
}

// forward looks up the enrollment behind a step log and relays the outcome to
// its test variant, if any. Relay failures are logged, not returned: the
// step-log stamp is the source of truth.
func (t *Tracker) forward(ctx context.Context, stepLogID uuid.UUID, record func(context.Context, uuid.UUID, uuid.UUID) error) error {
	if t.outcomes == nil {
		return nil
	}
	l, err := t.store.StepLogByID(ctx, stepLogID)
	if err != nil || l == nil {
		return err
	}
	e, err := t.store.EnrollmentByID(ctx, l.EnrollmentID)
	if err != nil || e == nil {
		return err
	}
	if e.ABTestVariantID == nil {
		return nil
	}
	if err := record(ctx, e.ID, *e.ABTestVariantID); err != nil {
		log.Printf("[Tracking] forward outcome for enrollment %s: %v", e.ID, err)
	}
	return nil
}
