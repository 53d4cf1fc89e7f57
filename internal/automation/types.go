// Package automation implements the lifecycle automation core: trigger
// processing, the enrollment state machine, step scheduling/execution,
// win-back detection and funnel analytics.
package automation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Trigger types.
const (
	TriggerAbandonedCart = "abandoned_cart"
	TriggerPostPurchase  = "post_purchase"
	TriggerWelcome       = "welcome"
	TriggerWinback       = "winback"
	TriggerManual        = "manual"
)

// Step types.
const (
	StepTypeEmail     = "email"
	StepTypeSMS       = "sms"
	StepTypeDelay     = "delay"
	StepTypeCondition = "condition"
)

// Enrollment statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExited    = "exited"
)

// Step log statuses.
const (
	LogPending = "pending"
	LogSent    = "sent"
	LogSkipped = "skipped"
	LogFailed  = "failed"
	LogBounced = "bounced"
)

// Automation is a named multi-step sequence tied to one trigger type.
type Automation struct {
	ID                uuid.UUID       `json:"id"`
	ShopDomain        string          `json:"shop_domain"`
	Name              string          `json:"name"`
	TriggerType       string          `json:"trigger_type"`
	TriggerConditions json.RawMessage `json:"trigger_conditions,omitempty"`
	IsActive          bool            `json:"is_active"`
	Steps             []Step          `json:"steps,omitempty"`
	TotalEnrolled     int             `json:"total_enrolled"`
	TotalCompleted    int             `json:"total_completed"`
	Revenue           float64         `json:"revenue"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StepIndex returns the position of a step id in the ordered step list, or -1.
// Traversal is by list position so renumbering step orders never replays or
// skips steps for in-flight enrollments.
func (a *Automation) StepIndex(stepID uuid.UUID) int {
	for i := range a.Steps {
		if a.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// Step is one unit of work within an automation's ordered sequence.
// DelayMinutes is the wait applied when an enrollment *arrives* at the step,
// not when it leaves.
type Step struct {
	ID              uuid.UUID       `json:"id"`
	AutomationID    uuid.UUID       `json:"automation_id"`
	StepOrder       int             `json:"step_order"`
	StepType        string          `json:"step_type"`
	Subject         string          `json:"subject,omitempty"`
	Body            string          `json:"body,omitempty"`
	SMSBody         string          `json:"sms_body,omitempty"`
	DelayMinutes    int             `json:"delay_minutes"`
	Conditions      json.RawMessage `json:"conditions,omitempty"`
	IsABTestEnabled bool            `json:"is_ab_test_enabled"`
	TemplateID      *uuid.UUID      `json:"template_id,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Enrollment is one subscriber's run through one automation. While status is
// active, NextStepAt is when the current step becomes due. Exactly one of
// CompletedAt/ExitedAt is set once the enrollment leaves active.
type Enrollment struct {
	ID                  uuid.UUID       `json:"id"`
	AutomationID        uuid.UUID       `json:"automation_id"`
	CustomerID          *uuid.UUID      `json:"customer_id,omitempty"`
	Email               string          `json:"email"`
	CurrentStepID       uuid.UUID       `json:"current_step_id"`
	Status              string          `json:"status"`
	NextStepAt          time.Time       `json:"next_step_at"`
	EnrolledAt          time.Time       `json:"enrolled_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	ExitedAt            *time.Time      `json:"exited_at,omitempty"`
	ExitReason          string          `json:"exit_reason,omitempty"`
	AbandonedCheckoutID string          `json:"abandoned_checkout_id,omitempty"`
	OrderID             *uuid.UUID      `json:"order_id,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	ABTestVariantID     *uuid.UUID      `json:"ab_test_variant_id,omitempty"`
	Attempts            int             `json:"attempts"`
}

// StepLog is one append-only execution record. Rows are never rewritten
// except to append delivery/engagement timestamps from webhook callbacks.
type StepLog struct {
	ID                uuid.UUID  `json:"id"`
	EnrollmentID      uuid.UUID  `json:"enrollment_id"`
	StepID            uuid.UUID  `json:"step_id"`
	Status            string     `json:"status"`
	Channel           string     `json:"channel,omitempty"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	BouncedAt         *time.Time `json:"bounced_at,omitempty"`
	UnsubscribedAt    *time.Time `json:"unsubscribed_at,omitempty"`
	ExternalMessageID string     `json:"external_message_id,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EnrollmentContext carries the correlation data a trigger supplies when
// creating an enrollment.
type EnrollmentContext struct {
	CustomerID *uuid.UUID
	Email      string
	CheckoutID string
	OrderID    *uuid.UUID
	Metadata   json.RawMessage
}

// PostPurchaseTrigger is the payload of an order-placed lifecycle event.
type PostPurchaseTrigger struct {
	CustomerID  *uuid.UUID `json:"customer_id,omitempty"`
	Email       string     `json:"email"`
	OrderID     uuid.UUID  `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	OrderTotal  float64    `json:"order_total"`
	Currency    string     `json:"currency"`
}

// WelcomeTrigger is the payload of a signup lifecycle event.
type WelcomeTrigger struct {
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	Email      string     `json:"email"`
}

// WinbackRule is a shop-scoped inactivity filter that feeds an automation.
type WinbackRule struct {
	ID                       uuid.UUID  `json:"id"`
	ShopDomain               string     `json:"shop_domain"`
	AutomationID             uuid.UUID  `json:"automation_id"`
	Name                     string     `json:"name"`
	DaysInactive             int        `json:"days_inactive"`
	MinimumLifetimeValue     *float64   `json:"minimum_lifetime_value,omitempty"`
	MinimumOrders            *int       `json:"minimum_orders,omitempty"`
	MaximumOrders            *int       `json:"maximum_orders,omitempty"`
	CustomerTags             []string   `json:"customer_tags,omitempty"`
	ExcludeTags              []string   `json:"exclude_tags,omitempty"`
	IsActive                 bool       `json:"is_active"`
	LastRunAt                *time.Time `json:"last_run_at,omitempty"`
	CustomersEnrolledLastRun int        `json:"customers_enrolled_last_run"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// InactiveCustomer is a win-back candidate produced by the detector.
type InactiveCustomer struct {
	CustomerID         uuid.UUID `json:"customer_id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	DaysSinceLastOrder int       `json:"days_since_last_order"`
	TotalOrders        int       `json:"total_orders"`
	TotalSpent         float64   `json:"total_spent"`
	LastOrderAt        time.Time `json:"last_order_at"`
}
