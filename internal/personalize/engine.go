// Package personalize resolves {{token}} placeholders in email and SMS
// content against a per-enrollment context built from customer, order and
// cart data.
package personalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Context carries the data a single personalization pass can draw from. Not
// every trigger has every section populated: an abandoned-cart enrollment has
// cart data but no order, a welcome enrollment may have neither.
type Context struct {
	ShopDomain string
	ShopName   string

	CustomerID         *uuid.UUID
	CustomerEmail      string
	CustomerFirstName  string
	CustomerLastName   string
	CustomerTotalSpent float64
	CustomerOrderCount int

	OrderID     *uuid.UUID
	OrderNumber string
	OrderTotal  *float64
	OrderItems  string
	OrderDate   *time.Time

	CheckoutID      string
	CartRecoveryURL string
	CartItems       string
	CartTotal       *float64
	CartItemCount   int

	CustomTokens map[string]string
}

// Engine substitutes tokens. Unknown tokens are left verbatim so authoring
// mistakes are visible in the delivered content instead of silently erased.
type Engine struct {
	registry *TokenRegistry
	now      func() time.Time
}

func NewEngine(registry *TokenRegistry) *Engine {
	return &Engine{registry: registry, now: time.Now}
}

// Registry exposes the token table for authoring endpoints.
func (e *Engine) Registry() *TokenRegistry { return e.registry }

// Personalize replaces every {{token}} occurrence in content. Token names are
// case-insensitive and tolerate whitespace inside the braces.
func (e *Engine) Personalize(content string, ctx *Context) string {
	if content == "" || ctx == nil {
		return content
	}
	return tokenPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.ToLower(strings.TrimSpace(match[2 : len(match)-2]))
		if value, ok := e.resolve(name, ctx); ok {
			return value
		}
		return match
	})
}

func (e *Engine) resolve(name string, ctx *Context) (string, bool) {
	switch name {
	case "customer.first_name":
		if ctx.CustomerFirstName == "" {
			return "Customer", true
		}
		return ctx.CustomerFirstName, true
	case "customer.last_name":
		return ctx.CustomerLastName, true
	case "customer.email":
		return ctx.CustomerEmail, true
	case "customer.total_spent":
		return formatMoney(ctx.CustomerTotalSpent), true
	case "customer.order_count":
		return strconv.Itoa(ctx.CustomerOrderCount), true

	case "order.number":
		return ctx.OrderNumber, true
	case "order.total":
		if ctx.OrderTotal == nil {
			return "", true
		}
		return formatMoney(*ctx.OrderTotal), true
	case "order.items":
		return ctx.OrderItems, true
	case "order.date":
		if ctx.OrderDate != nil {
			return ctx.OrderDate.Format("Jan 02, 2006"), true
		}
		return e.now().UTC().Format("Jan 02, 2006"), true

	case "cart.recovery_url":
		return ctx.CartRecoveryURL, true
	case "cart.items":
		return ctx.CartItems, true
	case "cart.total":
		if ctx.CartTotal == nil {
			return "", true
		}
		return formatMoney(*ctx.CartTotal), true
	case "cart.item_count":
		return strconv.Itoa(ctx.CartItemCount), true

	case "shop.name":
		return ctx.ShopName, true
	case "shop.url":
		return "https://" + ctx.ShopDomain, true

	case "date.today":
		return e.now().UTC().Format("Jan 02, 2006"), true
	case "date.year":
		return strconv.Itoa(e.now().UTC().Year()), true
	}

	if ctx.CustomTokens != nil {
		if v, ok := ctx.CustomTokens[name]; ok {
			return v, true
		}
	}
	return "", false
}

// ValidateTokens returns the placeholders in content that the registry does
// not know about. Used for authoring-time feedback, never at send time.
func (e *Engine) ValidateTokens(content string) []string {
	var invalid []string
	for _, match := range tokenPattern.FindAllStringSubmatch(content, -1) {
		name := strings.ToLower(strings.TrimSpace(match[1]))
		if !e.registry.Has(name) {
			invalid = append(invalid, match[0])
		}
	}
	return invalid
}

// PreviewWithSampleData renders content with each known token's sample value.
func (e *Engine) PreviewWithSampleData(content string) string {
	if content == "" {
		return content
	}
	return tokenPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.ToLower(strings.TrimSpace(match[2 : len(match)-2]))
		if sample, ok := e.registry.Sample(name); ok {
			return sample
		}
		return match
	})
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
