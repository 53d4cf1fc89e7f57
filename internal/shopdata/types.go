package shopdata

import (
	"time"

	"github.com/google/uuid"
)

// Shop is a single tenant of the engine.
type Shop struct {
	Domain    string    `json:"domain"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is a synced storefront customer.
type Customer struct {
	ID         uuid.UUID `json:"id"`
	ShopDomain string    `json:"shop_domain"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a synced storefront order.
type Order struct {
	ID            uuid.UUID  `json:"id"`
	ShopDomain    string     `json:"shop_domain"`
	CustomerID    *uuid.UUID `json:"customer_id"`
	CustomerEmail string     `json:"customer_email"`
	OrderNumber   string     `json:"order_number"`
	GrandTotal    float64    `json:"grand_total"`
	Currency      string     `json:"currency"`
	OrderDate     time.Time  `json:"order_date"`
}

// OrderStats aggregates a customer's order history.
type OrderStats struct {
	OrderCount  int        `json:"order_count"`
	TotalSpent  float64    `json:"total_spent"`
	LastOrderAt *time.Time `json:"last_order_at"`
}

// CustomerOrderStats pairs a customer with their order aggregates. Used by the
// win-back detector, which scans every customer with at least one order.
type CustomerOrderStats struct {
	Customer Customer   `json:"customer"`
	Stats    OrderStats `json:"stats"`
}
