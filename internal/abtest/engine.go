package abtest

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Storage is the persistence surface the engine needs. *Store satisfies it;
// tests substitute an in-memory fake.
type Storage interface {
	VariantsInScope(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID) ([]Variant, error)
	AssignedVariant(ctx context.Context, enrollmentID, automationID uuid.UUID, stepID *uuid.UUID) (*Variant, error)
	CreateResult(ctx context.Context, r *Result) error
	VariantByID(ctx context.Context, id uuid.UUID) (*Variant, error)
	MarkOpened(ctx context.Context, enrollmentID, variantID uuid.UUID, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, enrollmentID, variantID uuid.UUID, at time.Time) (bool, error)
	MarkConverted(ctx context.Context, enrollmentID, variantID uuid.UUID, value float64, at time.Time) (bool, error)
	DeleteLosingVariants(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID, winnerID uuid.UUID) error
}

// StepWriter applies a winning variant's content onto a step and disables the
// test flag. Implemented by the automation store; injected to keep this
// package free of a dependency on it.
type StepWriter interface {
	ApplyVariantToStep(ctx context.Context, stepID uuid.UUID, subject, body string) error
}

// Engine performs variant assignment and outcome accounting.
type Engine struct {
	store Storage
	steps StepWriter

	mu      sync.Mutex
	randInt func(n int) int
	now     func() time.Time
}

func NewEngine(store Storage, steps StepWriter) *Engine {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Engine{
		store:   store,
		steps:   steps,
		randInt: rng.Intn,
		now:     time.Now,
	}
}

// AssignVariant returns the variant an enrollment sees for a step scope.
// Sticky: a prior assignment is always returned as-is. A fresh assignment
// performs a cumulative-weight draw, records the result row and increments
// the chosen variant's impressions exactly once. Returns nil when the scope
// has no variants.
func (e *Engine) AssignVariant(ctx context.Context, enrollmentID, automationID uuid.UUID, stepID *uuid.UUID) (*Variant, error) {
	variants, err := e.store.VariantsInScope(ctx, automationID, stepID)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, nil
	}

	existing, err := e.store.AssignedVariant(ctx, enrollmentID, automationID, stepID)
	if err != nil {
		return nil, fmt.Errorf("check existing assignment: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	total := totalWeight(variants)
	var selected *Variant
	if total <= 0 {
		// All-zero weights would make the scope unselectable; fall back to
		// the first variant deterministically.
		selected = &variants[0]
	} else {
		e.mu.Lock()
		roll := e.randInt(total)
		e.mu.Unlock()
		selected = pickVariant(variants, roll)
	}

	result := &Result{
		EnrollmentID: enrollmentID,
		VariantID:    selected.ID,
		AssignedAt:   e.now().UTC(),
	}
	if err := e.store.CreateResult(ctx, result); err != nil {
		return nil, fmt.Errorf("record assignment: %w", err)
	}

	log.Printf("[ABTest] assigned variant %s to enrollment %s", selected.VariantName, enrollmentID)
	return selected, nil
}

// RecordOpen marks an open for (enrollment, variant). Idempotent: repeat
// calls are no-ops.
func (e *Engine) RecordOpen(ctx context.Context, enrollmentID, variantID uuid.UUID) error {
	_, err := e.store.MarkOpened(ctx, enrollmentID, variantID, e.now().UTC())
	return err
}

// RecordClick marks a click for (enrollment, variant). Idempotent.
func (e *Engine) RecordClick(ctx context.Context, enrollmentID, variantID uuid.UUID) error {
	_, err := e.store.MarkClicked(ctx, enrollmentID, variantID, e.now().UTC())
	return err
}

// RecordConversion marks a conversion and accumulates its value into the
// variant's revenue. Idempotent per (enrollment, variant).
func (e *Engine) RecordConversion(ctx context.Context, enrollmentID, variantID uuid.UUID, value float64) error {
	_, err := e.store.MarkConverted(ctx, enrollmentID, variantID, value, e.now().UTC())
	return err
}

// CalculateSignificance computes the confidence that a test variant's
// conversion rate differs from control's.
func (e *Engine) CalculateSignificance(ctx context.Context, controlID, testID uuid.UUID) (float64, error) {
	control, err := e.store.VariantByID(ctx, controlID)
	if err != nil {
		return 0, err
	}
	test, err := e.store.VariantByID(ctx, testID)
	if err != nil {
		return 0, err
	}
	if control == nil || test == nil {
		return 0, nil
	}
	return Significance(control.Conversions, control.Impressions, test.Conversions, test.Impressions), nil
}

// Statistics summarizes every variant in a scope against its control.
func (e *Engine) Statistics(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID) ([]VariantStatistics, error) {
	variants, err := e.store.VariantsInScope(ctx, automationID, stepID)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, nil
	}

	var control *Variant
	for i := range variants {
		if variants[i].IsControl {
			control = &variants[i]
			break
		}
	}
	controlRate := 0.0
	if control != nil {
		controlRate = control.ConversionRate()
	}

	stats := make([]VariantStatistics, 0, len(variants))
	for i := range variants {
		v := &variants[i]
		rate := v.ConversionRate()

		change := 0.0
		if controlRate > 0 {
			change = (rate - controlRate) / controlRate * 100
		}

		significance := 0.0
		if control != nil && !v.IsControl {
			significance = Significance(control.Conversions, control.Impressions, v.Conversions, v.Impressions)
		}

		revenuePerRecipient := 0.0
		if v.Impressions > 0 {
			revenuePerRecipient = v.Revenue / float64(v.Impressions)
		}

		stats = append(stats, VariantStatistics{
			VariantID:            v.ID,
			VariantName:          v.VariantName,
			IsControl:            v.IsControl,
			SampleSize:           v.Impressions,
			ConversionRate:       rate * 100,
			ConversionRateChange: change,
			Significance:         significance,
			IsSignificant:        significance >= SignificanceThreshold,
			Revenue:              v.Revenue,
			RevenuePerRecipient:  revenuePerRecipient,
		})
	}
	return stats, nil
}

// WinningVariant returns the non-control variant that is significant, shows a
// positive conversion-rate lift over control, and has the highest conversion
// rate. Nil when no variant qualifies.
func (e *Engine) WinningVariant(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID) (*Variant, error) {
	stats, err := e.Statistics(ctx, automationID, stepID)
	if err != nil {
		return nil, err
	}

	var best *VariantStatistics
	for i := range stats {
		s := &stats[i]
		if s.IsControl || !s.IsSignificant || s.ConversionRateChange <= 0 {
			continue
		}
		if best == nil || s.ConversionRate > best.ConversionRate {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return e.store.VariantByID(ctx, best.VariantID)
}

// ApplyWinner copies the winning variant's subject/body onto the step,
// disables the step's test flag, and deletes every other variant in the
// scope. Returns false when no winner qualifies yet.
func (e *Engine) ApplyWinner(ctx context.Context, automationID uuid.UUID, stepID *uuid.UUID) (bool, error) {
	winner, err := e.WinningVariant(ctx, automationID, stepID)
	if err != nil {
		return false, err
	}
	if winner == nil {
		return false, nil
	}

	if stepID != nil && e.steps != nil {
		if err := e.steps.ApplyVariantToStep(ctx, *stepID, winner.Subject, winner.Body); err != nil {
			return false, fmt.Errorf("apply winner to step: %w", err)
		}
	}

	if err := e.store.DeleteLosingVariants(ctx, automationID, stepID, winner.ID); err != nil {
		return false, fmt.Errorf("delete losing variants: %w", err)
	}

	log.Printf("[ABTest] applied winning variant %s for automation %s", winner.VariantName, automationID)
	return true, nil
}
