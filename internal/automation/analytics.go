package automation

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// analyticsStore is the slice of Store the analyzer reads.
type analyticsStore interface {
	AutomationByID(ctx context.Context, id uuid.UUID) (*Automation, error)
	EnrollmentStatusCounts(ctx context.Context, automationID uuid.UUID) (map[string]int, error)
	StepLogCountsForAutomation(ctx context.Context, automationID uuid.UUID) ([]StepLogCounts, error)
}

// AutomationAnalytics is the funnel summary for one automation.
type AutomationAnalytics struct {
	AutomationID      uuid.UUID `json:"automation_id"`
	Name              string    `json:"name"`
	TriggerType       string    `json:"trigger_type"`
	TotalEnrolled     int       `json:"total_enrolled"`
	ActiveEnrollments int       `json:"active_enrollments"`
	Completed         int       `json:"completed"`
	Exited            int       `json:"exited"`
	CompletionRate    float64   `json:"completion_rate"`
	Revenue           float64   `json:"revenue"`
	RevenuePerEnroll  float64   `json:"revenue_per_enrollment"`
	TotalSent         int       `json:"total_sent"`
	EmailSent         int       `json:"email_sent"`
	SMSSent           int       `json:"sms_sent"`
	TotalDelivered    int       `json:"total_delivered"`
	TotalOpened       int       `json:"total_opened"`
	TotalClicked      int       `json:"total_clicked"`
	TotalBounced      int       `json:"total_bounced"`
	DeliveryRate      float64   `json:"delivery_rate"`
	OpenRate          float64   `json:"open_rate"`
	ClickRate         float64   `json:"click_rate"`
}

// StepAnalytics is the per-step funnel for one automation.
type StepAnalytics struct {
	StepID       uuid.UUID `json:"step_id"`
	StepOrder    int       `json:"step_order"`
	StepType     string    `json:"step_type"`
	Subject      string    `json:"subject,omitempty"`
	Sent         int       `json:"sent"`
	Delivered    int       `json:"delivered"`
	Opened       int       `json:"opened"`
	Clicked      int       `json:"clicked"`
	Bounced      int       `json:"bounced"`
	Unsubscribed int       `json:"unsubscribed"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	OpenRate     float64   `json:"open_rate"`
	ClickRate    float64   `json:"click_rate"`
	BounceRate   float64   `json:"bounce_rate"`
}

// Analyzer aggregates enrollment and delivery funnels.
type Analyzer struct {
	store analyticsStore
}

func NewAnalyzer(store analyticsStore) *Analyzer {
	return &Analyzer{store: store}
}

// AutomationAnalytics builds the summary for one automation. Missing
// automations return nil.
func (a *Analyzer) AutomationAnalytics(ctx context.Context, automationID uuid.UUID) (*AutomationAnalytics, error) {
	automation, err := a.store.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("load automation: %w", err)
	}
	if automation == nil {
		return nil, nil
	}

	counts, err := a.store.EnrollmentStatusCounts(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("enrollment counts: %w", err)
	}
	logCounts, err := a.store.StepLogCountsForAutomation(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("step log counts: %w", err)
	}

	out := &AutomationAnalytics{
		AutomationID:      automation.ID,
		Name:              automation.Name,
		TriggerType:       automation.TriggerType,
		TotalEnrolled:     automation.TotalEnrolled,
		ActiveEnrollments: counts[StatusActive],
		Completed:         counts[StatusCompleted],
		Exited:            counts[StatusExited],
		Revenue:           automation.Revenue,
	}
	for _, c := range logCounts {
		out.TotalSent += c.Sent
		out.EmailSent += c.EmailSent
		out.SMSSent += c.SMSSent
		out.TotalDelivered += c.Delivered
		out.TotalOpened += c.Opened
		out.TotalClicked += c.Clicked
		out.TotalBounced += c.Bounced
	}

	if out.TotalEnrolled > 0 {
		out.RevenuePerEnroll = math.Round(out.Revenue/float64(out.TotalEnrolled)*100) / 100
	}
	out.CompletionRate = rate(out.Completed, out.TotalEnrolled)
	out.DeliveryRate = rate(out.TotalDelivered, out.TotalSent)
	out.OpenRate = rate(out.TotalOpened, out.TotalDelivered)
	out.ClickRate = rate(out.TotalClicked, out.TotalDelivered)
	return out, nil
}

// StepAnalytics builds the per-step funnel, one row per active step in
// execution order. Steps with no log rows yet report zeros.
func (a *Analyzer) StepAnalytics(ctx context.Context, automationID uuid.UUID) ([]StepAnalytics, error) {
	automation, err := a.store.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("load automation: %w", err)
	}
	if automation == nil {
		return nil, nil
	}

	logCounts, err := a.store.StepLogCountsForAutomation(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("step log counts: %w", err)
	}
	byStep := make(map[uuid.UUID]StepLogCounts, len(logCounts))
	for _, c := range logCounts {
		byStep[c.StepID] = c
	}

	out := make([]StepAnalytics, 0, len(automation.Steps))
	for _, step := range automation.Steps {
		c := byStep[step.ID]
		out = append(out, StepAnalytics{
			StepID:       step.ID,
			StepOrder:    step.StepOrder,
			StepType:     step.StepType,
			Subject:      step.Subject,
			Sent:         c.Sent,
			Delivered:    c.Delivered,
			Opened:       c.Opened,
			Clicked:      c.Clicked,
			Bounced:      c.Bounced,
			Unsubscribed: c.Unsubscribed,
			Failed:       c.Failed,
			Skipped:      c.Skipped,
			OpenRate:     rate(c.Opened, c.Delivered),
			ClickRate:    rate(c.Clicked, c.Delivered),
			BounceRate:   rate(c.Bounced, c.Sent),
		})
	}
	return out, nil
}

// rate returns part/whole as a percentage rounded to two decimals, 0 for an
// empty denominator.
func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
