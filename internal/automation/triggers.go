package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/personalize"
	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

// triggerStore is the slice of Store the trigger processor uses.
type triggerStore interface {
	AutomationsByTrigger(ctx context.Context, shopDomain, triggerType string) ([]Automation, error)
	AutomationByID(ctx context.Context, id uuid.UUID) (*Automation, error)
	HasActiveCheckoutEnrollment(ctx context.Context, automationID uuid.UUID, checkoutID string) (bool, error)
	ActiveCartEnrollmentIDs(ctx context.Context, shopDomain, email string) ([]uuid.UUID, error)
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	IncrementEnrolled(ctx context.Context, automationID uuid.UUID) error
	ExitEnrollment(ctx context.Context, enrollmentID uuid.UUID, reason string, at time.Time) (bool, error)
}

// CustomerDirectory resolves subscriber emails to customer records.
type CustomerDirectory interface {
	CustomerByEmail(ctx context.Context, shopDomain, email string) (*shopdata.Customer, error)
}

// TriggerProcessor maps lifecycle events onto enrollments.
type TriggerProcessor struct {
	store     triggerStore
	customers CustomerDirectory
	now       func() time.Time
}

func NewTriggerProcessor(store triggerStore, customers CustomerDirectory) *TriggerProcessor {
	return &TriggerProcessor{store: store, customers: customers, now: time.Now}
}

// ProcessAbandonedCart enrolls a checkout into every matching active
// automation. A checkout with an active enrollment in an automation is
// skipped, so replayed events never double-enroll. Returns the ids of the
// enrollments created.
func (p *TriggerProcessor) ProcessAbandonedCart(ctx context.Context, shopDomain string, cart personalize.CartData) ([]uuid.UUID, error) {
	if cart.Email == "" {
		log.Printf("[Triggers] abandoned cart %s for %s has no email, skipping", cart.CheckoutID, shopDomain)
		return nil, nil
	}

	automations, err := p.store.AutomationsByTrigger(ctx, shopDomain, TriggerAbandonedCart)
	if err != nil {
		return nil, fmt.Errorf("list abandoned-cart automations: %w", err)
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"cart_total":   cart.CartTotal,
		"recovery_url": cart.RecoveryURL,
		"item_count":   len(cart.LineItems),
		"cart_items":   cart.ItemsSummary(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode cart metadata: %w", err)
	}

	var created []uuid.UUID
	for i := range automations {
		a := &automations[i]
		enrolled, err := p.store.HasActiveCheckoutEnrollment(ctx, a.ID, cart.CheckoutID)
		if err != nil {
			return created, err
		}
		if enrolled {
			continue
		}
		e, err := p.enroll(ctx, a, EnrollmentContext{
			Email:      cart.Email,
			CheckoutID: cart.CheckoutID,
			Metadata:   metadata,
		})
		if err != nil {
			return created, err
		}
		if e != nil {
			created = append(created, e.ID)
		}
	}
	return created, nil
}

// ProcessPostPurchase enrolls the buyer into post-purchase automations and
// exits any of their active abandoned-cart enrollments across the shop. A
// purchase means the cart sequence served its purpose or is now irrelevant.
func (p *TriggerProcessor) ProcessPostPurchase(ctx context.Context, shopDomain string, trigger PostPurchaseTrigger) ([]uuid.UUID, error) {
	if trigger.Email != "" {
		cartIDs, err := p.store.ActiveCartEnrollmentIDs(ctx, shopDomain, trigger.Email)
		if err != nil {
			return nil, fmt.Errorf("list cart enrollments: %w", err)
		}
		for _, id := range cartIDs {
			if _, err := p.ExitAutomation(ctx, id, "purchase_completed"); err != nil {
				log.Printf("[Triggers] exit cart enrollment %s: %v", id, err)
			}
		}
	}

	automations, err := p.store.AutomationsByTrigger(ctx, shopDomain, TriggerPostPurchase)
	if err != nil {
		return nil, fmt.Errorf("list post-purchase automations: %w", err)
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"order_number": trigger.OrderNumber,
		"order_total":  trigger.OrderTotal,
		"currency":     trigger.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order metadata: %w", err)
	}

	orderID := trigger.OrderID
	var created []uuid.UUID
	for i := range automations {
		e, err := p.enroll(ctx, &automations[i], EnrollmentContext{
			CustomerID: trigger.CustomerID,
			Email:      trigger.Email,
			OrderID:    &orderID,
			Metadata:   metadata,
		})
		if err != nil {
			return created, err
		}
		if e != nil {
			created = append(created, e.ID)
		}
	}
	return created, nil
}

// ProcessWelcome enrolls a new subscriber into welcome automations.
func (p *TriggerProcessor) ProcessWelcome(ctx context.Context, shopDomain string, trigger WelcomeTrigger) ([]uuid.UUID, error) {
	if trigger.Email == "" {
		return nil, nil
	}
	automations, err := p.store.AutomationsByTrigger(ctx, shopDomain, TriggerWelcome)
	if err != nil {
		return nil, fmt.Errorf("list welcome automations: %w", err)
	}

	var created []uuid.UUID
	for i := range automations {
		e, err := p.enroll(ctx, &automations[i], EnrollmentContext{
			CustomerID: trigger.CustomerID,
			Email:      trigger.Email,
		})
		if err != nil {
			return created, err
		}
		if e != nil {
			created = append(created, e.ID)
		}
	}
	return created, nil
}

// Enroll creates an enrollment in one automation by id. Inactive or stepless
// automations enroll nobody and return nil without error.
func (p *TriggerProcessor) Enroll(ctx context.Context, automationID uuid.UUID, ec EnrollmentContext) (*Enrollment, error) {
	a, err := p.store.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("load automation %s: %w", automationID, err)
	}
	if a == nil || !a.IsActive {
		return nil, nil
	}
	return p.enroll(ctx, a, ec)
}

func (p *TriggerProcessor) enroll(ctx context.Context, a *Automation, ec EnrollmentContext) (*Enrollment, error) {
	if len(a.Steps) == 0 {
		log.Printf("[Triggers] automation %s (%s) has no steps, skipping enrollment", a.Name, a.ID)
		return nil, nil
	}

	// Events that arrive without a customer id are matched to a known
	// customer by email. SMS steps, condition rules and win-back cooldowns
	// all key off the customer record, so a guest enrollment should only
	// happen when the subscriber genuinely has none.
	if ec.CustomerID == nil && ec.Email != "" && p.customers != nil {
		customer, err := p.customers.CustomerByEmail(ctx, a.ShopDomain, ec.Email)
		if err != nil {
			return nil, fmt.Errorf("lookup customer %s: %w", ec.Email, err)
		}
		if customer != nil {
			id := customer.ID
			ec.CustomerID = &id
		}
	}

	now := p.now().UTC()
	first := a.Steps[0]
	e := &Enrollment{
		ID:                  uuid.New(),
		AutomationID:        a.ID,
		CustomerID:          ec.CustomerID,
		Email:               ec.Email,
		CurrentStepID:       first.ID,
		Status:              StatusActive,
		NextStepAt:          now.Add(time.Duration(first.DelayMinutes) * time.Minute),
		EnrolledAt:          now,
		AbandonedCheckoutID: ec.CheckoutID,
		OrderID:             ec.OrderID,
		Metadata:            ec.Metadata,
	}
	if err := p.store.CreateEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	if err := p.store.IncrementEnrolled(ctx, a.ID); err != nil {
		log.Printf("[Triggers] increment enrolled for %s: %v", a.ID, err)
	}
	log.Printf("[Triggers] enrolled %s in %s (%s), first step due %s",
		e.Email, a.Name, a.TriggerType, e.NextStepAt.Format(time.RFC3339))
	return e, nil
}

// ExitAutomation moves an active enrollment to exited. Terminal enrollments
// are left untouched and return false.
func (p *TriggerProcessor) ExitAutomation(ctx context.Context, enrollmentID uuid.UUID, reason string) (bool, error) {
	exited, err := p.store.ExitEnrollment(ctx, enrollmentID, reason, p.now().UTC())
	if err != nil {
		return false, fmt.Errorf("exit enrollment %s: %w", enrollmentID, err)
	}
	if exited {
		log.Printf("[Triggers] enrollment %s exited: %s", enrollmentID, reason)
	}
	return exited, nil
}
