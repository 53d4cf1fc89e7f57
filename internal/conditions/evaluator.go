// Package conditions evaluates condition-step rules against customer data.
// A rule is a JSON group of field comparisons combined with all/any logic.
package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/automation"
	"github.com/ignite/lifecycle-engine/internal/shopdata"
)

// Rule is the parsed form of a condition step's conditions field.
//
//	{"match":"all","conditions":[{"field":"total_spent","operator":"gte","value":100}]}
type Rule struct {
	Match      string      `json:"match"` // "all" (default) or "any"
	Conditions []Condition `json:"conditions"`
}

// Condition is one field comparison.
type Condition struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// CustomerSource provides the customer record and order aggregates a rule is
// evaluated against. Satisfied by *shopdata.Store.
type CustomerSource interface {
	CustomerByID(ctx context.Context, id uuid.UUID) (*shopdata.Customer, error)
	OrderStatsForCustomer(ctx context.Context, customerID uuid.UUID) (shopdata.OrderStats, error)
}

// Evaluator resolves the enrollment's customer and applies the rule.
// Implements the executor's condition hook.
type Evaluator struct {
	customers CustomerSource
	now       func() time.Time
}

func NewEvaluator(customers CustomerSource) *Evaluator {
	return &Evaluator{customers: customers, now: time.Now}
}

// Evaluate reports whether the enrollment passes the rule. An empty or
// absent rule passes everyone. Malformed rules and unknown fields or
// operators are errors; the step fails instead of silently passing.
func (v *Evaluator) Evaluate(ctx context.Context, e *automation.Enrollment, raw json.RawMessage) (bool, error) {
	rule, err := parseRule(raw)
	if err != nil {
		return false, err
	}
	if len(rule.Conditions) == 0 {
		return true, nil
	}

	facts, err := v.factsFor(ctx, e)
	if err != nil {
		return false, err
	}

	for _, c := range rule.Conditions {
		ok, err := facts.check(c)
		if err != nil {
			return false, err
		}
		if rule.Match == "any" {
			if ok {
				return true, nil
			}
		} else if !ok {
			return false, nil
		}
	}
	return rule.Match != "any", nil
}

func parseRule(raw json.RawMessage) (*Rule, error) {
	var rule Rule
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return &rule, nil
	}
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	if rule.Match != "" && rule.Match != "all" && rule.Match != "any" {
		return nil, fmt.Errorf("unknown match mode %q", rule.Match)
	}
	return &rule, nil
}

// facts is the flattened data a rule can reference. A nil customer leaves
// customer fields at their zero values, so rules like total_spent >= 100
// evaluate false for guest enrollments rather than erroring.
type facts struct {
	email              string
	tags               []string
	orderCount         int
	totalSpent         float64
	daysSinceLastOrder float64 // -1 when the customer never ordered
}

func (v *Evaluator) factsFor(ctx context.Context, e *automation.Enrollment) (*facts, error) {
	f := &facts{email: e.Email, daysSinceLastOrder: -1}
	if e.CustomerID == nil {
		return f, nil
	}

	c, err := v.customers.CustomerByID(ctx, *e.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if c == nil {
		return f, nil
	}
	f.tags = c.Tags

	stats, err := v.customers.OrderStatsForCustomer(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load order stats: %w", err)
	}
	f.orderCount = stats.OrderCount
	f.totalSpent = stats.TotalSpent
	if stats.LastOrderAt != nil {
		f.daysSinceLastOrder = v.now().Sub(*stats.LastOrderAt).Hours() / 24
	}
	return f, nil
}

func (f *facts) check(c Condition) (bool, error) {
	switch c.Field {
	case "total_spent":
		return compareNumber(f.totalSpent, c)
	case "order_count":
		return compareNumber(float64(f.orderCount), c)
	case "days_since_last_order":
		if f.daysSinceLastOrder < 0 {
			return false, nil
		}
		return compareNumber(f.daysSinceLastOrder, c)
	case "email_domain":
		at := strings.LastIndex(f.email, "@")
		if at < 0 {
			return false, nil
		}
		return compareString(f.email[at+1:], c)
	case "tag":
		return checkTag(f.tags, c)
	default:
		return false, fmt.Errorf("unknown condition field %q", c.Field)
	}
}

func compareNumber(actual float64, c Condition) (bool, error) {
	var want float64
	if err := json.Unmarshal(c.Value, &want); err != nil {
		return false, fmt.Errorf("field %s wants a numeric value: %w", c.Field, err)
	}
	switch c.Operator {
	case "eq":
		return actual == want, nil
	case "neq":
		return actual != want, nil
	case "gt":
		return actual > want, nil
	case "gte":
		return actual >= want, nil
	case "lt":
		return actual < want, nil
	case "lte":
		return actual <= want, nil
	default:
		return false, fmt.Errorf("operator %q not valid for field %s", c.Operator, c.Field)
	}
}

func compareString(actual string, c Condition) (bool, error) {
	var want string
	if err := json.Unmarshal(c.Value, &want); err != nil {
		return false, fmt.Errorf("field %s wants a string value: %w", c.Field, err)
	}
	switch c.Operator {
	case "eq":
		return strings.EqualFold(actual, want), nil
	case "neq":
		return !strings.EqualFold(actual, want), nil
	default:
		return false, fmt.Errorf("operator %q not valid for field %s", c.Operator, c.Field)
	}
}

func checkTag(tags []string, c Condition) (bool, error) {
	var want string
	if err := json.Unmarshal(c.Value, &want); err != nil {
		return false, fmt.Errorf("field tag wants a string value: %w", err)
	}
	has := false
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			has = true
			break
		}
	}
	switch c.Operator {
	case "contains":
		return has, nil
	case "not_contains":
		return !has, nil
	default:
		return false, fmt.Errorf("operator %q not valid for field tag", c.Operator)
	}
}
