package personalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

// ShopReader resolves shop metadata for token values.
type ShopReader interface {
	ShopByDomain(ctx context.Context, domain string) (*shopdata.Shop, error)
}

// CustomerReader resolves customers and their order aggregates.
type CustomerReader interface {
	CustomerByID(ctx context.Context, id uuid.UUID) (*shopdata.Customer, error)
	CustomerByEmail(ctx context.Context, shopDomain, email string) (*shopdata.Customer, error)
	OrderStatsForCustomer(ctx context.Context, customerID uuid.UUID) (shopdata.OrderStats, error)
}

// OrderReader resolves orders and their line items.
type OrderReader interface {
	OrderByID(ctx context.Context, id uuid.UUID) (*shopdata.Order, error)
	OrderItemsSummary(ctx context.Context, orderID uuid.UUID) (string, error)
}

// ContextBuilder assembles personalization contexts. Each builder method
// sources only the data its trigger reliably has; missing sections stay zero
// and their tokens render empty.
type ContextBuilder struct {
	shops     ShopReader
	customers CustomerReader
	orders    OrderReader
}

func NewContextBuilder(shops ShopReader, customers CustomerReader, orders OrderReader) *ContextBuilder {
	return &ContextBuilder{shops: shops, customers: customers, orders: orders}
}

// EnrollmentData is the slice of an enrollment the builder needs. The
// automation package maps its own enrollment type onto this to avoid a
// package cycle.
type EnrollmentData struct {
	ShopDomain string
	Email      string
	CustomerID *uuid.UUID
	OrderID    *uuid.UUID
	CheckoutID string
	Metadata   json.RawMessage
}

// enrollmentMetadata is the cart snapshot stored on abandoned-cart
// enrollments at trigger time.
type enrollmentMetadata struct {
	CartTotal   *float64 `json:"cart_total,omitempty"`
	RecoveryURL string   `json:"recovery_url,omitempty"`
	ItemCount   int      `json:"item_count,omitempty"`
	CartItems   string   `json:"cart_items,omitempty"`
}

// ForEnrollment builds the context used when executing a step.
func (b *ContextBuilder) ForEnrollment(ctx context.Context, in EnrollmentData) (*Context, error) {
	pc := &Context{
		ShopDomain:    in.ShopDomain,
		ShopName:      in.ShopDomain,
		CustomerEmail: in.Email,
		CheckoutID:    in.CheckoutID,
	}

	if shop, err := b.shops.ShopByDomain(ctx, in.ShopDomain); err != nil {
		return nil, fmt.Errorf("load shop %s: %w", in.ShopDomain, err)
	} else if shop != nil {
		pc.ShopName = shop.Name
	}

	if in.CustomerID != nil {
		if err := b.fillCustomer(ctx, pc, *in.CustomerID); err != nil {
			return nil, err
		}
	}

	if in.OrderID != nil {
		if err := b.fillOrder(ctx, pc, *in.OrderID); err != nil {
			return nil, err
		}
	}

	if len(in.Metadata) > 0 {
		var meta enrollmentMetadata
		if err := json.Unmarshal(in.Metadata, &meta); err == nil {
			pc.CartTotal = meta.CartTotal
			pc.CartRecoveryURL = meta.RecoveryURL
			pc.CartItemCount = meta.ItemCount
			pc.CartItems = meta.CartItems
		}
	}

	return pc, nil
}

// CartLine is one line item of an abandoned checkout.
type CartLine struct {
	Title        string `json:"title"`
	VariantTitle string `json:"variant_title"`
	Quantity     int    `json:"quantity"`
}

// CartData is the raw payload of an abandoned-cart trigger.
type CartData struct {
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	CheckoutID  string     `json:"checkout_id"`
	RecoveryURL string     `json:"recovery_url"`
	CartTotal   float64    `json:"cart_total"`
	LineItems   []CartLine `json:"line_items"`
}

// ItemsSummary renders the cart lines as "Title (Variant) xN" joined with
// commas.
func (d CartData) ItemsSummary() string {
	parts := make([]string, 0, len(d.LineItems))
	for _, li := range d.LineItems {
		if li.VariantTitle == "" {
			parts = append(parts, fmt.Sprintf("%s x%d", li.Title, li.Quantity))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s) x%d", li.Title, li.VariantTitle, li.Quantity))
		}
	}
	return strings.Join(parts, ", ")
}

// ForAbandonedCart builds a context directly from trigger data, before any
// enrollment exists.
func (b *ContextBuilder) ForAbandonedCart(ctx context.Context, shopDomain string, cart CartData) (*Context, error) {
	pc := &Context{
		ShopDomain:        shopDomain,
		ShopName:          shopDomain,
		CustomerEmail:     cart.Email,
		CustomerFirstName: cart.FirstName,
		CustomerLastName:  cart.LastName,
		CheckoutID:        cart.CheckoutID,
		CartRecoveryURL:   cart.RecoveryURL,
		CartItems:         cart.ItemsSummary(),
		CartItemCount:     len(cart.LineItems),
	}
	total := cart.CartTotal
	pc.CartTotal = &total

	if shop, err := b.shops.ShopByDomain(ctx, shopDomain); err == nil && shop != nil {
		pc.ShopName = shop.Name
	}

	customer, err := b.customers.CustomerByEmail(ctx, shopDomain, cart.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup customer %s: %w", cart.Email, err)
	}
	if customer != nil {
		id := customer.ID
		pc.CustomerID = &id
		stats, err := b.customers.OrderStatsForCustomer(ctx, customer.ID)
		if err == nil {
			pc.CustomerTotalSpent = stats.TotalSpent
			pc.CustomerOrderCount = stats.OrderCount
		}
	}

	return pc, nil
}

// ForOrder builds a context from a placed order (post-purchase steps).
func (b *ContextBuilder) ForOrder(ctx context.Context, shopDomain string, orderID uuid.UUID) (*Context, error) {
	pc := &Context{ShopDomain: shopDomain, ShopName: shopDomain}

	if shop, err := b.shops.ShopByDomain(ctx, shopDomain); err == nil && shop != nil {
		pc.ShopName = shop.Name
	}
	if err := b.fillOrder(ctx, pc, orderID); err != nil {
		return nil, err
	}
	return pc, nil
}

// ForCustomer builds a context from customer data alone (welcome, win-back).
func (b *ContextBuilder) ForCustomer(ctx context.Context, shopDomain string, customerID uuid.UUID) (*Context, error) {
	pc := &Context{ShopDomain: shopDomain, ShopName: shopDomain}

	if shop, err := b.shops.ShopByDomain(ctx, shopDomain); err == nil && shop != nil {
		pc.ShopName = shop.Name
	}
	if err := b.fillCustomer(ctx, pc, customerID); err != nil {
		return nil, err
	}
	return pc, nil
}

func (b *ContextBuilder) fillCustomer(ctx context.Context, pc *Context, customerID uuid.UUID) error {
	customer, err := b.customers.CustomerByID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if customer == nil {
		return nil
	}
	id := customer.ID
	pc.CustomerID = &id
	if pc.CustomerEmail == "" {
		pc.CustomerEmail = customer.Email
	}
	pc.CustomerFirstName = customer.FirstName
	pc.CustomerLastName = customer.LastName

	stats, err := b.customers.OrderStatsForCustomer(ctx, customer.ID)
	if err != nil {
		return fmt.Errorf("load order stats for %s: %w", customerID, err)
	}
	pc.CustomerTotalSpent = stats.TotalSpent
	pc.CustomerOrderCount = stats.OrderCount
	return nil
}

func (b *ContextBuilder) fillOrder(ctx context.Context, pc *Context, orderID uuid.UUID) error {
	order, err := b.orders.OrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return nil
	}
	id := order.ID
	pc.OrderID = &id
	pc.OrderNumber = order.OrderNumber
	total := order.GrandTotal
	pc.OrderTotal = &total
	date := order.OrderDate
	pc.OrderDate = &date
	if pc.CustomerEmail == "" {
		pc.CustomerEmail = order.CustomerEmail
	}

	items, err := b.orders.OrderItemsSummary(ctx, orderID)
	if err == nil {
		pc.OrderItems = items
	}

	if order.CustomerID != nil && pc.CustomerID == nil {
		if err := b.fillCustomer(ctx, pc, *order.CustomerID); err != nil {
			return err
		}
	}
	return nil
}
