package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/lifecycle-engine/internal/personalize"
	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

const testShop = "acme.example.com"

func cartAutomation(store *memStore) *Automation {
	return store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Cart Recovery",
		TriggerType: TriggerAbandonedCart,
		IsActive:    true,
		Steps: []Step{
			{StepOrder: 1, StepType: StepTypeEmail, Subject: "You left something behind", DelayMinutes: 60},
			{StepOrder: 2, StepType: StepTypeEmail, Subject: "Still thinking it over?", DelayMinutes: 1440},
		},
	})
}

func testCart() personalize.CartData {
	return personalize.CartData{
		Email:       "ana@example.com",
		CheckoutID:  "chk_123",
		RecoveryURL: "https://acme.example.com/cart/recover/abc",
		CartTotal:   89.90,
		LineItems: []personalize.CartLine{
			{Title: "Mug", Quantity: 2},
		},
	}
}

func TestProcessAbandonedCartEnrolls(t *testing.T) {
	store := newMemStore()
	a := cartAutomation(store)
	p := NewTriggerProcessor(store, &fakeCustomers{})
	p.now = func() time.Time { return time.Date(2025, 12, 22, 10, 0, 0, 0, time.UTC) }

	ids, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)
	require.Len(t, ids, 1)

	e := store.enrollments[ids[0]]
	require.NotNil(t, e)
	assert.Equal(t, a.ID, e.AutomationID)
	assert.Equal(t, StatusActive, e.Status)
	assert.Equal(t, a.Steps[0].ID, e.CurrentStepID)
	assert.Equal(t, "chk_123", e.AbandonedCheckoutID)
	// first step delay is applied at enrollment time
	assert.Equal(t, time.Date(2025, 12, 22, 11, 0, 0, 0, time.UTC), e.NextStepAt)
	assert.JSONEq(t, `{"cart_total":89.9,"recovery_url":"https://acme.example.com/cart/recover/abc","item_count":1,"cart_items":"Mug x2"}`,
		string(e.Metadata))
	assert.Equal(t, 1, a.TotalEnrolled)
}

func TestProcessAbandonedCartIdempotentPerCheckout(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	p := NewTriggerProcessor(store, &fakeCustomers{})

	first, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)
	assert.Empty(t, second, "replayed checkout event must not double-enroll")
	assert.Len(t, store.enrollments, 1)
}

func TestProcessAbandonedCartNoEmail(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	p := NewTriggerProcessor(store, &fakeCustomers{})

	cart := testCart()
	cart.Email = ""
	ids, err := p.ProcessAbandonedCart(context.Background(), testShop, cart)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProcessAbandonedCartResolvesCustomer(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	customerID := uuid.New()
	customers := &fakeCustomers{customers: []shopdata.Customer{
		{ID: customerID, ShopDomain: testShop, Email: "ana@example.com"},
	}}
	p := NewTriggerProcessor(store, customers)

	ids, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)
	require.Len(t, ids, 1)

	e := store.enrollments[ids[0]]
	require.NotNil(t, e.CustomerID)
	assert.Equal(t, customerID, *e.CustomerID)
}

func TestEnrollResolvesCustomerForEveryTrigger(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Welcome Series",
		TriggerType: TriggerWelcome,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Welcome"}},
	})
	store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Post Purchase Thanks",
		TriggerType: TriggerPostPurchase,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Thanks!"}},
	})
	manual := store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "VIP Drip",
		TriggerType: TriggerManual,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Hi"}},
	})
	customerID := uuid.New()
	p := NewTriggerProcessor(store, &fakeCustomers{customers: []shopdata.Customer{
		{ID: customerID, ShopDomain: testShop, Email: "ana@example.com"},
	}})

	welcomeIDs, err := p.ProcessWelcome(context.Background(), testShop, WelcomeTrigger{Email: "ana@example.com"})
	require.NoError(t, err)
	require.Len(t, welcomeIDs, 1)
	require.NotNil(t, store.enrollments[welcomeIDs[0]].CustomerID, "welcome enrollment should resolve the customer by email")
	assert.Equal(t, customerID, *store.enrollments[welcomeIDs[0]].CustomerID)

	orderIDs, err := p.ProcessPostPurchase(context.Background(), testShop, PostPurchaseTrigger{
		Email:   "ana@example.com",
		OrderID: uuid.New(),
	})
	require.NoError(t, err)
	require.Len(t, orderIDs, 1)
	require.NotNil(t, store.enrollments[orderIDs[0]].CustomerID, "post-purchase enrollment should resolve the customer by email")

	e, err := p.Enroll(context.Background(), manual.ID, EnrollmentContext{Email: "ana@example.com"})
	require.NoError(t, err)
	require.NotNil(t, e)
	require.NotNil(t, e.CustomerID, "manual enrollment should resolve the customer by email")
	assert.Equal(t, customerID, *e.CustomerID)
}

func TestEnrollKeepsSuppliedCustomerID(t *testing.T) {
	store := newMemStore()
	a := store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "VIP Drip",
		TriggerType: TriggerManual,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Hi"}},
	})
	supplied := uuid.New()
	other := uuid.New()
	p := NewTriggerProcessor(store, &fakeCustomers{customers: []shopdata.Customer{
		{ID: other, ShopDomain: testShop, Email: "ana@example.com"},
	}})

	e, err := p.Enroll(context.Background(), a.ID, EnrollmentContext{CustomerID: &supplied, Email: "ana@example.com"})
	require.NoError(t, err)
	require.NotNil(t, e)
	require.NotNil(t, e.CustomerID)
	assert.Equal(t, supplied, *e.CustomerID, "a customer id carried by the event wins over the email lookup")
}

func TestProcessPostPurchaseExitsCartEnrollments(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Post Purchase Thanks",
		TriggerType: TriggerPostPurchase,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Thanks!"}},
	})
	p := NewTriggerProcessor(store, &fakeCustomers{})

	cartIDs, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)
	require.Len(t, cartIDs, 1)

	orderIDs, err := p.ProcessPostPurchase(context.Background(), testShop, PostPurchaseTrigger{
		Email:       "ANA@example.com", // case must not matter
		OrderID:     uuid.New(),
		OrderNumber: "#1042",
		OrderTotal:  120,
	})
	require.NoError(t, err)
	require.Len(t, orderIDs, 1)

	cart := store.enrollments[cartIDs[0]]
	assert.Equal(t, StatusExited, cart.Status)
	assert.Equal(t, "purchase_completed", cart.ExitReason)
	assert.NotNil(t, cart.ExitedAt)

	order := store.enrollments[orderIDs[0]]
	assert.Equal(t, StatusActive, order.Status)
	require.NotNil(t, order.OrderID)
}

func TestProcessWelcome(t *testing.T) {
	store := newMemStore()
	store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Welcome Series",
		TriggerType: TriggerWelcome,
		IsActive:    true,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail, Subject: "Welcome"}},
	})
	p := NewTriggerProcessor(store, &fakeCustomers{})

	ids, err := p.ProcessWelcome(context.Background(), testShop, WelcomeTrigger{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	none, err := p.ProcessWelcome(context.Background(), testShop, WelcomeTrigger{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEnrollSkipsSteplessAutomation(t *testing.T) {
	store := newMemStore()
	a := store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Empty",
		TriggerType: TriggerManual,
		IsActive:    true,
	})
	p := NewTriggerProcessor(store, &fakeCustomers{})

	e, err := p.Enroll(context.Background(), a.ID, EnrollmentContext{Email: "x@example.com"})
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Zero(t, a.TotalEnrolled)
}

func TestEnrollInactiveAutomation(t *testing.T) {
	store := newMemStore()
	a := store.addAutomation(&Automation{
		ShopDomain:  testShop,
		Name:        "Paused",
		TriggerType: TriggerManual,
		Steps:       []Step{{StepOrder: 1, StepType: StepTypeEmail}},
	})
	p := NewTriggerProcessor(store, &fakeCustomers{})

	e, err := p.Enroll(context.Background(), a.ID, EnrollmentContext{Email: "x@example.com"})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestExitAutomationTerminalIsNoop(t *testing.T) {
	store := newMemStore()
	cartAutomation(store)
	p := NewTriggerProcessor(store, &fakeCustomers{})

	ids, err := p.ProcessAbandonedCart(context.Background(), testShop, testCart())
	require.NoError(t, err)

	exited, err := p.ExitAutomation(context.Background(), ids[0], "manual")
	require.NoError(t, err)
	assert.True(t, exited)

	again, err := p.ExitAutomation(context.Background(), ids[0], "manual")
	require.NoError(t, err)
	assert.False(t, again, "exiting a terminal enrollment must be a no-op")
	assert.Equal(t, "manual", store.enrollments[ids[0]].ExitReason)
}
