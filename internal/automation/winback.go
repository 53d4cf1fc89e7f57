package automation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

// winbackCooldown is how long after completing a win-back automation a
// customer stays exempt from re-enrollment by the same rule.
const winbackCooldown = 30 * 24 * time.Hour

// winbackStore is the slice of Store the detector uses.
type winbackStore interface {
	WinbackRulesForShop(ctx context.Context, shopDomain string, activeOnly bool) ([]WinbackRule, error)
	HasRecentEnrollment(ctx context.Context, automationID, customerID uuid.UUID, since time.Time) (bool, error)
	StampWinbackRun(ctx context.Context, ruleID uuid.UUID, at time.Time, enrolled int) error
}

// OrderStatsSource feeds customer order aggregates to the detector.
// Satisfied by *shopdata.Store.
type OrderStatsSource interface {
	ListCustomerOrderStats(ctx context.Context, shopDomain string) ([]shopdata.CustomerOrderStats, error)
}

// Enroller creates enrollments. Satisfied by *TriggerProcessor.
type Enroller interface {
	Enroll(ctx context.Context, automationID uuid.UUID, ec EnrollmentContext) (*Enrollment, error)
}

// WinbackDetector finds customers who went quiet and feeds them into
// win-back automations.
type WinbackDetector struct {
	store    winbackStore
	orders   OrderStatsSource
	enroller Enroller
	now      func() time.Time
}

func NewWinbackDetector(store winbackStore, orders OrderStatsSource, enroller Enroller) *WinbackDetector {
	return &WinbackDetector{store: store, orders: orders, enroller: enroller, now: time.Now}
}

// DetectInactiveCustomers returns the customers a rule currently matches:
// last order older than the inactivity window, order count and lifetime value
// inside the rule's bounds, tags passing the include/exclude filters.
func (d *WinbackDetector) DetectInactiveCustomers(ctx context.Context, shopDomain string, rule *WinbackRule) ([]InactiveCustomer, error) {
	all, err := d.orders.ListCustomerOrderStats(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("list customer order stats: %w", err)
	}

	now := d.now().UTC()
	cutoff := now.Add(-time.Duration(rule.DaysInactive) * 24 * time.Hour)

	var matched []InactiveCustomer
	for _, cs := range all {
		stats := cs.Stats
		if stats.LastOrderAt == nil || stats.OrderCount == 0 {
			continue
		}
		if stats.LastOrderAt.After(cutoff) {
			continue
		}
		if rule.MinimumLifetimeValue != nil && stats.TotalSpent < *rule.MinimumLifetimeValue {
			continue
		}
		if rule.MinimumOrders != nil && stats.OrderCount < *rule.MinimumOrders {
			continue
		}
		if rule.MaximumOrders != nil && stats.OrderCount > *rule.MaximumOrders {
			continue
		}
		if !matchesTags(cs.Customer.Tags, rule.CustomerTags, rule.ExcludeTags) {
			continue
		}

		matched = append(matched, InactiveCustomer{
			CustomerID:         cs.Customer.ID,
			Email:              cs.Customer.Email,
			FirstName:          cs.Customer.FirstName,
			LastName:           cs.Customer.LastName,
			DaysSinceLastOrder: int(now.Sub(*stats.LastOrderAt).Hours() / 24),
			TotalOrders:        stats.OrderCount,
			TotalSpent:         stats.TotalSpent,
			LastOrderAt:        *stats.LastOrderAt,
		})
	}
	return matched, nil
}

// ProcessWinbackTriggers runs every active rule for a shop and enrolls the
// matches. Customers already active in the target automation, or who finished
// it within the cooldown, are skipped. Returns the total enrolled.
func (d *WinbackDetector) ProcessWinbackTriggers(ctx context.Context, shopDomain string) (int, error) {
	rules, err := d.store.WinbackRulesForShop(ctx, shopDomain, true)
	if err != nil {
		return 0, fmt.Errorf("list winback rules: %w", err)
	}

	total := 0
	for i := range rules {
		rule := &rules[i]
		n, err := d.runRule(ctx, shopDomain, rule)
		if err != nil {
			log.Printf("[Winback] rule %s (%s): %v", rule.Name, rule.ID, err)
			continue
		}
		total += n
	}
	return total, nil
}

func (d *WinbackDetector) runRule(ctx context.Context, shopDomain string, rule *WinbackRule) (int, error) {
	candidates, err := d.DetectInactiveCustomers(ctx, shopDomain, rule)
	if err != nil {
		return 0, err
	}

	now := d.now().UTC()
	since := now.Add(-winbackCooldown)
	enrolled := 0
	for _, c := range candidates {
		recent, err := d.store.HasRecentEnrollment(ctx, rule.AutomationID, c.CustomerID, since)
		if err != nil {
			return enrolled, err
		}
		if recent {
			continue
		}

		customerID := c.CustomerID
		e, err := d.enroller.Enroll(ctx, rule.AutomationID, EnrollmentContext{
			CustomerID: &customerID,
			Email:      c.Email,
		})
		if err != nil {
			log.Printf("[Winback] enroll %s in %s: %v", c.Email, rule.AutomationID, err)
			continue
		}
		if e != nil {
			enrolled++
		}
	}

	if err := d.store.StampWinbackRun(ctx, rule.ID, now, enrolled); err != nil {
		log.Printf("[Winback] stamp run for rule %s: %v", rule.ID, err)
	}
	if enrolled > 0 {
		log.Printf("[Winback] rule %s enrolled %d customers", rule.Name, enrolled)
	}
	return enrolled, nil
}

// matchesTags applies the rule's tag filters. With include tags set the
// customer needs at least one of them; any exclude tag disqualifies.
func matchesTags(customerTags, include, exclude []string) bool {
	if len(exclude) > 0 {
		for _, t := range customerTags {
			for _, x := range exclude {
				if t == x {
					return false
				}
			}
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, t := range customerTags {
		for _, want := range include {
			if t == want {
				return true
			}
		}
	}
	return false
}

// WinbackRunner polls ProcessWinbackTriggers for every shop with rules on a
// fixed interval.
type WinbackRunner struct {
	detector *WinbackDetector
	shops    shopLister
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

type shopLister interface {
	ActiveShopDomains(ctx context.Context) ([]string, error)
}

func NewWinbackRunner(detector *WinbackDetector, shops shopLister, interval time.Duration) *WinbackRunner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &WinbackRunner{detector: detector, shops: shops, interval: interval}
}

func (r *WinbackRunner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			}
		}
	}()
	log.Printf("[Winback] runner started, interval %s", r.interval)
}

func (r *WinbackRunner) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *WinbackRunner) runOnce(ctx context.Context) {
	shops, err := r.shops.ActiveShopDomains(ctx)
	if err != nil {
		log.Printf("[Winback] list shops: %v", err)
		return
	}
	for _, shop := range shops {
		if ctx.Err() != nil {
			return
		}
		if n, err := r.detector.ProcessWinbackTriggers(ctx, shop); err != nil {
			log.Printf("[Winback] %s: %v", shop, err)
		} else if n > 0 {
			log.Printf("[Winback] %s: enrolled %d customers", shop, n)
		}
	}
}
