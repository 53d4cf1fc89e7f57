// Package abtest manages A/B content variants for automation steps: weighted
// sticky assignment, outcome tracking, statistical significance and winner
// application.
package abtest

import (
	"time"

	"github.com/google/uuid"
)

// SignificanceThreshold is the confidence level at which a variant is
// considered significantly different from control.
const SignificanceThreshold = 0.95

// MinSampleSize is the impression floor below which significance is not
// computed.
const MinSampleSize = 100

// Variant is one content alternative under test, scoped to an automation and
// optionally to a single step.
type Variant struct {
	ID           uuid.UUID  `json:"id"`
	AutomationID uuid.UUID  `json:"automation_id"`
	StepID       *uuid.UUID `json:"step_id,omitempty"`
	VariantName  string     `json:"variant_name"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Weight       int        `json:"weight"`
	IsControl    bool       `json:"is_control"`
	Impressions  int        `json:"impressions"`
	Opens        int        `json:"opens"`
	Clicks       int        `json:"clicks"`
	Conversions  int        `json:"conversions"`
	Revenue      float64    `json:"revenue"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ConversionRate is conversions over impressions, as a fraction.
func (v *Variant) ConversionRate() float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Conversions) / float64(v.Impressions)
}

// Result is one enrollment's assignment to a variant, with its outcomes.
// At most one result exists per (enrollment, step scope); assignment is
// sticky for the enrollment's lifetime.
type Result struct {
	ID              uuid.UUID  `json:"id"`
	EnrollmentID    uuid.UUID  `json:"enrollment_id"`
	VariantID       uuid.UUID  `json:"variant_id"`
	Opened          bool       `json:"opened"`
	Clicked         bool       `json:"clicked"`
	Converted       bool       `json:"converted"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	ClickedAt       *time.Time `json:"clicked_at,omitempty"`
	ConvertedAt     *time.Time `json:"converted_at,omitempty"`
	ConversionValue float64    `json:"conversion_value"`
	AssignedAt      time.Time  `json:"assigned_at"`
}

// VariantStatistics is the computed performance summary for one variant.
type VariantStatistics struct {
	VariantID            uuid.UUID `json:"variant_id"`
	VariantName          string    `json:"variant_name"`
	IsControl            bool      `json:"is_control"`
	SampleSize           int       `json:"sample_size"`
	ConversionRate       float64   `json:"conversion_rate"`        // percent
	ConversionRateChange float64   `json:"conversion_rate_change"` // percent lift vs control
	Significance         float64   `json:"significance"`           // [0,1]
	IsSignificant        bool      `json:"is_significant"`
	Revenue              float64   `json:"revenue"`
	RevenuePerRecipient  float64   `json:"revenue_per_recipient"`
}
