// Package shopdata provides read-only access to synced shop, customer and
// order data. The automation engine never writes these tables; an external
// sync process owns them.
package shopdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store reads shop/customer/order rows from Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ShopByDomain(ctx context.Context, domain string) (*Shop, error) {
	var sh Shop
	err := s.db.QueryRowContext(ctx,
		`SELECT domain, COALESCE(name, domain), COALESCE(currency, 'USD'), created_at
		FROM shops WHERE domain = $1`, domain,
	).Scan(&sh.Domain, &sh.Name, &sh.Currency, &sh.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Store) CustomerByID(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.scanCustomer(s.db.QueryRowContext(ctx,
		customerSelect+` WHERE id = $1`, id))
}

// CustomerByEmail resolves a customer within one shop. Email comparison is
// case-insensitive to match how storefronts report checkout emails.
func (s *Store) CustomerByEmail(ctx context.Context, shopDomain, email string) (*Customer, error) {
	return s.scanCustomer(s.db.QueryRowContext(ctx,
		customerSelect+` WHERE shop_domain = $1 AND LOWER(email) = LOWER($2) LIMIT 1`,
		shopDomain, email))
}

const customerSelect = `SELECT id, shop_domain, COALESCE(email,''), COALESCE(first_name,''),
	COALESCE(last_name,''), COALESCE(phone,''), COALESCE(tags,'[]'), created_at
	FROM customers`

func (s *Store) scanCustomer(row *sql.Row) (*Customer, error) {
	var c Customer
	var tagsJSON []byte
	err := row.Scan(&c.ID, &c.ShopDomain, &c.Email, &c.FirstName, &c.LastName,
		&c.Phone, &tagsJSON, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(tagsJSON, &c.Tags)
	return &c, nil
}

func (s *Store) OrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shop_domain, customer_id, COALESCE(customer_email,''),
			COALESCE(order_number,''), grand_total, COALESCE(currency,'USD'), order_date
		FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.ShopDomain, &o.CustomerID, &o.CustomerEmail,
		&o.OrderNumber, &o.GrandTotal, &o.Currency, &o.OrderDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderStatsForCustomer aggregates order count, lifetime spend and the most
// recent order date for one customer.
func (s *Store) OrderStatsForCustomer(ctx context.Context, customerID uuid.UUID) (OrderStats, error) {
	var st OrderStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(grand_total), 0), MAX(order_date)
		FROM orders WHERE customer_id = $1`, customerID,
	).Scan(&st.OrderCount, &st.TotalSpent, &st.LastOrderAt)
	if err != nil {
		return OrderStats{}, err
	}
	return st, nil
}

// ListCustomerOrderStats returns every customer of a shop that has at least
// one order, with their aggregates, in a single pass. Feeds the win-back scan.
func (s *Store) ListCustomerOrderStats(ctx context.Context, shopDomain string) ([]CustomerOrderStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.shop_domain, COALESCE(c.email,''), COALESCE(c.first_name,''),
			COALESCE(c.last_name,''), COALESCE(c.phone,''), COALESCE(c.tags,'[]'), c.created_at,
			COUNT(o.id), COALESCE(SUM(o.grand_total), 0), MAX(o.order_date)
		FROM customers c
		JOIN orders o ON o.customer_id = c.id
		WHERE c.shop_domain = $1 AND c.email IS NOT NULL AND c.email <> ''
		GROUP BY c.id, c.shop_domain, c.email, c.first_name, c.last_name, c.phone, c.tags, c.created_at`,
		shopDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerOrderStats
	for rows.Next() {
		var cs CustomerOrderStats
		var tagsJSON []byte
		if err := rows.Scan(&cs.Customer.ID, &cs.Customer.ShopDomain, &cs.Customer.Email,
			&cs.Customer.FirstName, &cs.Customer.LastName, &cs.Customer.Phone, &tagsJSON,
			&cs.Customer.CreatedAt,
			&cs.Stats.OrderCount, &cs.Stats.TotalSpent, &cs.Stats.LastOrderAt); err != nil {
			continue
		}
		json.Unmarshal(tagsJSON, &cs.Customer.Tags)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// OrderItemsSummary renders an order's line items as a human-readable list,
// e.g. "Blue T-Shirt x1, Jeans (32W) x2".
func (s *Store) OrderItemsSummary(ctx context.Context, orderID uuid.UUID) (string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(product_title,''), COALESCE(variant_title,''), quantity
		FROM order_lines WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var title, variant string
		var qty int
		if err := rows.Scan(&title, &variant, &qty); err != nil {
			continue
		}
		if variant == "" {
			parts = append(parts, fmt.Sprintf("%s x%d", title, qty))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s) x%d", title, variant, qty))
		}
	}
	return strings.Join(parts, ", "), rows.Err()
}
