package abtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Storage used to exercise engine semantics without
// a database.
type memStore struct {
	variants []Variant
	results  []Result
}

func (m *memStore) VariantsInScope(_ context.Context, automationID uuid.UUID, stepID *uuid.UUID) ([]Variant, error) {
	var out []Variant
	for _, v := range m.variants {
		if v.AutomationID == automationID && sameScope(v.StepID, stepID) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) AssignedVariant(_ context.Context, enrollmentID, automationID uuid.UUID, stepID *uuid.UUID) (*Variant, error) {
	for _, r := range m.results {
		v := m.variant(r.VariantID)
		if v == nil {
			continue
		}
		if r.EnrollmentID == enrollmentID && v.AutomationID == automationID && sameScope(v.StepID, stepID) {
			return v, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateResult(_ context.Context, r *Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.results = append(m.results, *r)
	if v := m.variant(r.VariantID); v != nil {
		v.Impressions++
	}
	return nil
}

func (m *memStore) VariantByID(_ context.Context, id uuid.UUID) (*Variant, error) {
	return m.variant(id), nil
}

func (m *memStore) MarkOpened(_ context.Context, enrollmentID, variantID uuid.UUID, _ time.Time) (bool, error) {
	for i := range m.results {
		r := &m.results[i]
		if r.EnrollmentID == enrollmentID && r.VariantID == variantID && !r.Opened {
			r.Opened = true
			m.variant(variantID).Opens++
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkClicked(_ context.Context, enrollmentID, variantID uuid.UUID, _ time.Time) (bool, error) {
	for i := range m.results {
		r := &m.results[i]
		if r.EnrollmentID == enrollmentID && r.VariantID == variantID && !r.Clicked {
			r.Clicked = true
			m.variant(variantID).Clicks++
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkConverted(_ context.Context, enrollmentID, variantID uuid.UUID, value float64, _ time.Time) (bool, error) {
	for i := range m.results {
		r := &m.results[i]
		if r.EnrollmentID == enrollmentID && r.VariantID == variantID && !r.Converted {
			r.Converted = true
			r.ConversionValue = value
			v := m.variant(variantID)
			v.Conversions++
			v.Revenue += value
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteLosingVariants(_ context.Context, automationID uuid.UUID, stepID *uuid.UUID, winnerID uuid.UUID) error {
	kept := m.variants[:0]
	for _, v := range m.variants {
		if v.AutomationID == automationID && sameScope(v.StepID, stepID) && v.ID != winnerID {
			continue
		}
		kept = append(kept, v)
	}
	m.variants = kept
	return nil
}

func (m *memStore) variant(id uuid.UUID) *Variant {
	for i := range m.variants {
		if m.variants[i].ID == id {
			return &m.variants[i]
		}
	}
	return nil
}

func sameScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type stepRecorder struct {
	stepID  uuid.UUID
	subject string
	body    string
	called  bool
}

func (sr *stepRecorder) ApplyVariantToStep(_ context.Context, stepID uuid.UUID, subject, body string) error {
	sr.stepID = stepID
	sr.subject = subject
	sr.body = body
	sr.called = true
	return nil
}

func newTestEngine(store Storage, steps StepWriter) *Engine {
	e := NewEngine(store, steps)
	e.randInt = func(n int) int { return 0 }
	return e
}

func TestAssignVariantSticky(t *testing.T) {
	automationID := uuid.New()
	stepID := uuid.New()
	enrollmentID := uuid.New()

	store := &memStore{variants: []Variant{
		{ID: uuid.New(), AutomationID: automationID, StepID: &stepID, VariantName: "A", Weight: 1, IsControl: true},
		{ID: uuid.New(), AutomationID: automationID, StepID: &stepID, VariantName: "B", Weight: 1},
	}}
	e := newTestEngine(store, nil)

	first, err := e.AssignVariant(context.Background(), enrollmentID, automationID, &stepID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.AssignVariant(context.Background(), enrollmentID, automationID, &stepID)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID, "assignment must be sticky")
	assert.Equal(t, 1, store.variant(first.ID).Impressions, "impressions must increment exactly once")
	assert.Len(t, store.results, 1)
}

func TestAssignVariantNoVariantsInScope(t *testing.T) {
	e := newTestEngine(&memStore{}, nil)

	v, err := e.AssignVariant(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAssignVariantAllZeroWeights(t *testing.T) {
	automationID := uuid.New()
	store := &memStore{variants: []Variant{
		{ID: uuid.New(), AutomationID: automationID, VariantName: "first", Weight: 0, IsControl: true},
		{ID: uuid.New(), AutomationID: automationID, VariantName: "second", Weight: 0},
	}}
	e := newTestEngine(store, nil)

	v, err := e.AssignVariant(context.Background(), uuid.New(), automationID, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "first", v.VariantName)
}

func TestRecordOutcomesIdempotent(t *testing.T) {
	automationID := uuid.New()
	enrollmentID := uuid.New()
	store := &memStore{variants: []Variant{
		{ID: uuid.New(), AutomationID: automationID, VariantName: "A", Weight: 1},
	}}
	e := newTestEngine(store, nil)

	v, err := e.AssignVariant(context.Background(), enrollmentID, automationID, nil)
	require.NoError(t, err)

	require.NoError(t, e.RecordOpen(context.Background(), enrollmentID, v.ID))
	require.NoError(t, e.RecordOpen(context.Background(), enrollmentID, v.ID))
	assert.Equal(t, 1, store.variant(v.ID).Opens)

	require.NoError(t, e.RecordClick(context.Background(), enrollmentID, v.ID))
	require.NoError(t, e.RecordClick(context.Background(), enrollmentID, v.ID))
	assert.Equal(t, 1, store.variant(v.ID).Clicks)

	require.NoError(t, e.RecordConversion(context.Background(), enrollmentID, v.ID, 49.99))
	require.NoError(t, e.RecordConversion(context.Background(), enrollmentID, v.ID, 49.99))
	assert.Equal(t, 1, store.variant(v.ID).Conversions)
	assert.Equal(t, 49.99, store.variant(v.ID).Revenue)
}

func TestApplyWinner(t *testing.T) {
	automationID := uuid.New()
	stepID := uuid.New()
	controlID := uuid.New()
	testID := uuid.New()

	store := &memStore{variants: []Variant{
		{ID: controlID, AutomationID: automationID, StepID: &stepID, VariantName: "control",
			Weight: 1, IsControl: true, Impressions: 1000, Conversions: 50},
		{ID: testID, AutomationID: automationID, StepID: &stepID, VariantName: "test",
			Subject: "Winning subject", Body: "Winning body", Weight: 1,
			Impressions: 1000, Conversions: 80},
	}}
	steps := &stepRecorder{}
	e := newTestEngine(store, steps)

	applied, err := e.ApplyWinner(context.Background(), automationID, &stepID)
	require.NoError(t, err)
	require.True(t, applied)

	assert.True(t, steps.called)
	assert.Equal(t, stepID, steps.stepID)
	assert.Equal(t, "Winning subject", steps.subject)
	assert.Equal(t, "Winning body", steps.body)

	require.Len(t, store.variants, 1, "losing variants must be deleted")
	assert.Equal(t, testID, store.variants[0].ID)
}

func TestApplyWinnerNoSignificantVariant(t *testing.T) {
	automationID := uuid.New()
	store := &memStore{variants: []Variant{
		{ID: uuid.New(), AutomationID: automationID, VariantName: "control",
			Weight: 1, IsControl: true, Impressions: 50, Conversions: 10},
		{ID: uuid.New(), AutomationID: automationID, VariantName: "test",
			Weight: 1, Impressions: 200, Conversions: 60},
	}}
	e := newTestEngine(store, &stepRecorder{})

	applied, err := e.ApplyWinner(context.Background(), automationID, nil)
	require.NoError(t, err)
	assert.False(t, applied, "control below sample floor must not produce a winner")
	assert.Len(t, store.variants, 2)
}

func TestStatisticsLiftAndSignificance(t *testing.T) {
	automationID := uuid.New()
	store := &memStore{variants: []Variant{
		{ID: uuid.New(), AutomationID: automationID, VariantName: "control",
			Weight: 1, IsControl: true, Impressions: 1000, Conversions: 50, Revenue: 500},
		{ID: uuid.New(), AutomationID: automationID, VariantName: "test",
			Weight: 1, Impressions: 1000, Conversions: 80, Revenue: 900},
	}}
	e := newTestEngine(store, nil)

	stats, err := e.Statistics(context.Background(), automationID, nil)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	control, test := stats[0], stats[1]
	if !control.IsControl {
		control, test = test, control
	}

	assert.InDelta(t, 5.0, control.ConversionRate, 1e-9)
	assert.InDelta(t, 8.0, test.ConversionRate, 1e-9)
	assert.InDelta(t, 60.0, test.ConversionRateChange, 1e-9)
	assert.True(t, test.IsSignificant)
	assert.Equal(t, 0.0, control.Significance, "control is not compared against itself")
	assert.InDelta(t, 0.9, test.RevenuePerRecipient, 1e-9)
}
