package templates

import (
	"crypto/md5"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/lifecycle-engine/internal/personalize"
)

// Renderer renders Liquid templates with caching. Parsed templates are keyed
// by a content hash so edits invalidate naturally.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ price | currency }}
	r.engine.RegisterFilter("currency", func(value interface{}) string {
		switch v := value.(type) {
		case float64:
			return fmt.Sprintf("$%.2f", v)
		case int:
			return fmt.Sprintf("$%d.00", v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return fmt.Sprintf("$%.2f", f)
			}
			return v
		default:
			return fmt.Sprintf("%v", value)
		}
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})
}

// Render parses and executes a template body against Liquid variables.
func (r *Renderer) Render(body string, vars map[string]interface{}) (string, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(body)))

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(body)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(key, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Validate checks that a template body parses, without executing it.
func (r *Renderer) Validate(body string) error {
	if _, err := r.engine.ParseString(body); err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	return nil
}

// Vars flattens a personalization context into the variable tree Liquid
// templates address, e.g. {{ customer.first_name }} or {{ cart.total }}.
func Vars(pc *personalize.Context) map[string]interface{} {
	if pc == nil {
		return map[string]interface{}{}
	}

	customer := map[string]interface{}{
		"first_name":  pc.CustomerFirstName,
		"last_name":   pc.CustomerLastName,
		"email":       pc.CustomerEmail,
		"total_spent": pc.CustomerTotalSpent,
		"order_count": pc.CustomerOrderCount,
	}

	order := map[string]interface{}{
		"number": pc.OrderNumber,
		"items":  pc.OrderItems,
	}
	if pc.OrderTotal != nil {
		order["total"] = *pc.OrderTotal
	}
	if pc.OrderDate != nil {
		order["date"] = pc.OrderDate.Format("Jan 02, 2006")
	}

	cart := map[string]interface{}{
		"recovery_url": pc.CartRecoveryURL,
		"items":        pc.CartItems,
		"item_count":   pc.CartItemCount,
	}
	if pc.CartTotal != nil {
		cart["total"] = *pc.CartTotal
	}

	return map[string]interface{}{
		"customer": customer,
		"order":    order,
		"cart":     cart,
		"shop": map[string]interface{}{
			"name": pc.ShopName,
			"url":  "https://" + pc.ShopDomain,
		},
	}
}
