package automation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/notify"
	"github.com/ignite/lifecycle-engine/internal/personalize"
	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

// memStore is an in-memory stand-in for *Store covering the slices the
// processors consume.
type memStore struct {
	automations map[uuid.UUID]*Automation
	enrollments map[uuid.UUID]*Enrollment
	stepLogs    map[uuid.UUID]*StepLog
	rules       []*WinbackRule
	stamps      map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{
		automations: make(map[uuid.UUID]*Automation),
		enrollments: make(map[uuid.UUID]*Enrollment),
		stepLogs:    make(map[uuid.UUID]*StepLog),
		stamps:      make(map[uuid.UUID]int),
	}
}

func (m *memStore) addAutomation(a *Automation) *Automation {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	for i := range a.Steps {
		if a.Steps[i].ID == uuid.Nil {
			a.Steps[i].ID = uuid.New()
		}
		a.Steps[i].AutomationID = a.ID
		if !a.Steps[i].IsActive {
			a.Steps[i].IsActive = true
		}
	}
	m.automations[a.ID] = a
	return a
}

func (m *memStore) AutomationByID(_ context.Context, id uuid.UUID) (*Automation, error) {
	return m.automations[id], nil
}

func (m *memStore) AutomationsByTrigger(_ context.Context, shopDomain, triggerType string) ([]Automation, error) {
	var out []Automation
	for _, a := range m.automations {
		if a.ShopDomain == shopDomain && a.TriggerType == triggerType && a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ActiveShopDomains(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, a := range m.automations {
		if a.IsActive && !seen[a.ShopDomain] {
			seen[a.ShopDomain] = true
			out = append(out, a.ShopDomain)
		}
	}
	return out, nil
}

func (m *memStore) StepByID(_ context.Context, id uuid.UUID) (*Step, error) {
	for _, a := range m.automations {
		for i := range a.Steps {
			if a.Steps[i].ID == id {
				return &a.Steps[i], nil
			}
		}
	}
	return nil, nil
}

func (m *memStore) IncrementEnrolled(_ context.Context, id uuid.UUID) error {
	if a := m.automations[id]; a != nil {
		a.TotalEnrolled++
	}
	return nil
}

func (m *memStore) IncrementCompleted(_ context.Context, id uuid.UUID) error {
	if a := m.automations[id]; a != nil {
		a.TotalCompleted++
	}
	return nil
}

func (m *memStore) AddRevenue(_ context.Context, id uuid.UUID, value float64) error {
	if a := m.automations[id]; a != nil {
		a.Revenue += value
	}
	return nil
}

func (m *memStore) CreateEnrollment(_ context.Context, e *Enrollment) error {
	cp := *e
	m.enrollments[e.ID] = &cp
	return nil
}

func (m *memStore) EnrollmentByID(_ context.Context, id uuid.UUID) (*Enrollment, error) {
	return m.enrollments[id], nil
}

func (m *memStore) UpdateEnrollmentProgress(_ context.Context, e *Enrollment) error {
	cp := *e
	m.enrollments[e.ID] = &cp
	return nil
}

func (m *memStore) SetEnrollmentVariant(_ context.Context, enrollmentID, variantID uuid.UUID) error {
	if e := m.enrollments[enrollmentID]; e != nil {
		vid := variantID
		e.ABTestVariantID = &vid
	}
	return nil
}

func (m *memStore) ExitEnrollment(_ context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	e := m.enrollments[id]
	if e == nil || e.Status != StatusActive {
		return false, nil
	}
	e.Status = StatusExited
	e.ExitedAt = &at
	e.ExitReason = reason
	return true, nil
}

func (m *memStore) ListDuePending(_ context.Context, shopDomain string, before time.Time, limit int) ([]Enrollment, error) {
	var out []Enrollment
	for _, e := range m.enrollments {
		a := m.automations[e.AutomationID]
		if a == nil || a.ShopDomain != shopDomain || !a.IsActive {
			continue
		}
		if e.Status == StatusActive && !e.NextStepAt.After(before) {
			out = append(out, *e)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) HasActiveCheckoutEnrollment(_ context.Context, automationID uuid.UUID, checkoutID string) (bool, error) {
	for _, e := range m.enrollments {
		if e.AutomationID == automationID && e.AbandonedCheckoutID == checkoutID && e.Status == StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ActiveCartEnrollmentIDs(_ context.Context, shopDomain, email string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, e := range m.enrollments {
		a := m.automations[e.AutomationID]
		if a == nil || a.ShopDomain != shopDomain || a.TriggerType != TriggerAbandonedCart {
			continue
		}
		if e.Status == StatusActive && strings.EqualFold(e.Email, email) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (m *memStore) HasRecentEnrollment(_ context.Context, automationID, customerID uuid.UUID, since time.Time) (bool, error) {
	for _, e := range m.enrollments {
		if e.AutomationID != automationID || e.CustomerID == nil || *e.CustomerID != customerID {
			continue
		}
		if e.Status == StatusActive {
			return true, nil
		}
		if e.Status == StatusCompleted && e.CompletedAt != nil && !e.CompletedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) EnrollmentStatusCounts(_ context.Context, automationID uuid.UUID) (map[string]int, error) {
	counts := map[string]int{}
	for _, e := range m.enrollments {
		if e.AutomationID == automationID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (m *memStore) CreateStepLog(_ context.Context, l *StepLog) error {
	cp := *l
	m.stepLogs[l.ID] = &cp
	return nil
}

func (m *memStore) StepLogByID(_ context.Context, id uuid.UUID) (*StepLog, error) {
	return m.stepLogs[id], nil
}

func (m *memStore) MarkLogOpened(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	l := m.stepLogs[id]
	if l == nil || l.OpenedAt != nil {
		return false, nil
	}
	l.OpenedAt = &at
	return true, nil
}

func (m *memStore) MarkLogClicked(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	l := m.stepLogs[id]
	if l == nil || l.ClickedAt != nil {
		return false, nil
	}
	l.ClickedAt = &at
	return true, nil
}

func (m *memStore) MarkLogUnsubscribed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	l := m.stepLogs[id]
	if l == nil || l.UnsubscribedAt != nil {
		return false, nil
	}
	l.UnsubscribedAt = &at
	return true, nil
}

func (m *memStore) MarkLogDelivered(_ context.Context, externalID string, at time.Time) (bool, error) {
	for _, l := range m.stepLogs {
		if l.ExternalMessageID == externalID && l.DeliveredAt == nil {
			l.DeliveredAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkLogBounced(_ context.Context, externalID string, at time.Time) (bool, error) {
	for _, l := range m.stepLogs {
		if l.ExternalMessageID == externalID && l.BouncedAt == nil {
			l.BouncedAt = &at
			l.Status = LogBounced
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) StepLogCountsForAutomation(_ context.Context, automationID uuid.UUID) ([]StepLogCounts, error) {
	byStep := map[uuid.UUID]*StepLogCounts{}
	for _, l := range m.stepLogs {
		e := m.enrollments[l.EnrollmentID]
		if e == nil || e.AutomationID != automationID {
			continue
		}
		c := byStep[l.StepID]
		if c == nil {
			c = &StepLogCounts{StepID: l.StepID}
			byStep[l.StepID] = c
		}
		switch l.Status {
		case LogSent, LogBounced:
			c.Sent++
			switch l.Channel {
			case "email":
				c.EmailSent++
			case "sms":
				c.SMSSent++
			}
		case LogFailed:
			c.Failed++
		case LogSkipped:
			c.Skipped++
		}
		if l.DeliveredAt != nil {
			c.Delivered++
		}
		if l.OpenedAt != nil {
			c.Opened++
		}
		if l.ClickedAt != nil {
			c.Clicked++
		}
		if l.BouncedAt != nil {
			c.Bounced++
		}
		if l.UnsubscribedAt != nil {
			c.Unsubscribed++
		}
	}
	var out []StepLogCounts
	for _, c := range byStep {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) WinbackRulesForShop(_ context.Context, shopDomain string, activeOnly bool) ([]WinbackRule, error) {
	var out []WinbackRule
	for _, r := range m.rules {
		if r.ShopDomain != shopDomain {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memStore) StampWinbackRun(_ context.Context, ruleID uuid.UUID, _ time.Time, enrolled int) error {
	m.stamps[ruleID] = enrolled
	return nil
}

// fakeCustomers serves the directory interfaces from a fixed list.
type fakeCustomers struct {
	customers []shopdata.Customer
}

func (f *fakeCustomers) CustomerByEmail(_ context.Context, shopDomain, email string) (*shopdata.Customer, error) {
	for i := range f.customers {
		c := &f.customers[i]
		if c.ShopDomain == shopDomain && strings.EqualFold(c.Email, email) {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCustomers) CustomerByID(_ context.Context, id uuid.UUID) (*shopdata.Customer, error) {
	for i := range f.customers {
		if f.customers[i].ID == id {
			return &f.customers[i], nil
		}
	}
	return nil, nil
}

// staticContexts builds a minimal personalization context without hitting
// shop data.
type staticContexts struct{}

func (staticContexts) ForEnrollment(_ context.Context, in personalize.EnrollmentData) (*personalize.Context, error) {
	return &personalize.Context{
		ShopDomain:        in.ShopDomain,
		ShopName:          "Acme Goods",
		CustomerEmail:     in.Email,
		CustomerFirstName: "Ana",
	}, nil
}

// recordingSender captures outbound messages.
type sentMessage struct {
	channel string
	to      string
	subject string
	body    string
	corr    notify.Correlation
}

type recordingSender struct {
	sent    []sentMessage
	failErr string
}

func (r *recordingSender) SendEmail(_ context.Context, _ string, to, subject, body string, corr notify.Correlation) notify.Result {
	if r.failErr != "" {
		return notify.Result{Status: notify.StatusFailed, Error: r.failErr}
	}
	r.sent = append(r.sent, sentMessage{channel: "email", to: to, subject: subject, body: body, corr: corr})
	return notify.Result{Status: notify.StatusSent, ExternalID: "msg-" + uuid.New().String()}
}

func (r *recordingSender) SendSMS(_ context.Context, _ string, phone, body string, corr notify.Correlation) notify.Result {
	if r.failErr != "" {
		return notify.Result{Status: notify.StatusFailed, Error: r.failErr}
	}
	r.sent = append(r.sent, sentMessage{channel: "sms", to: phone, body: body, corr: corr})
	return notify.Result{Status: notify.StatusSent, ExternalID: "sms-" + uuid.New().String()}
}

func newTestExecutor(store *memStore, sender notify.Sender, customers PhoneDirectory) *Executor {
	return NewExecutor(store, ExecutorDeps{
		Personalizer: personalize.NewEngine(personalize.NewTokenRegistry()),
		Contexts:     staticContexts{},
		Sender:       sender,
		Customers:    customers,
	})
}
