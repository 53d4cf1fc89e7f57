package personalize

// Token describes one personalization placeholder available to authors.
type Token struct {
	Placeholder string `json:"placeholder"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Sample      string `json:"sample"`
}

// TokenRegistry is the set of tokens the engine resolves. It is constructed
// explicitly so tests and authoring endpoints share one source of truth
// instead of a hidden static table.
type TokenRegistry struct {
	tokens map[string]Token
	order  []string
}

func NewTokenRegistry() *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]Token)}

	r.register("customer.first_name", "Customer's first name", "Customer", "John")
	r.register("customer.last_name", "Customer's last name", "Customer", "Doe")
	r.register("customer.email", "Customer's email address", "Customer", "john@example.com")
	r.register("customer.total_spent", "Customer's lifetime spend", "Customer", "$523.50")
	r.register("customer.order_count", "Customer's total order count", "Customer", "5")

	r.register("order.number", "Order number", "Order", "#1234")
	r.register("order.total", "Order total amount", "Order", "$99.99")
	r.register("order.items", "Order line items", "Order", "Product A x2, Product B x1")
	r.register("order.date", "Order date", "Order", "Dec 22, 2025")

	r.register("cart.recovery_url", "Cart recovery URL", "Cart", "https://shop.com/cart/recover/abc123")
	r.register("cart.items", "Cart items", "Cart", "Blue T-Shirt x1, Jeans x2")
	r.register("cart.total", "Cart total", "Cart", "$149.99")
	r.register("cart.item_count", "Number of items in cart", "Cart", "3")

	r.register("shop.name", "Shop name", "Shop", "My Awesome Store")
	r.register("shop.url", "Shop URL", "Shop", "https://myawesomestore.myshopify.com")

	r.register("date.today", "Today's date", "Date", "Dec 22, 2025")
	r.register("date.year", "Current year", "Date", "2025")

	return r
}

func (r *TokenRegistry) register(name, description, category, sample string) {
	r.tokens[name] = Token{
		Placeholder: "{{" + name + "}}",
		Description: description,
		Category:    category,
		Sample:      sample,
	}
	r.order = append(r.order, name)
}

// Has reports whether name is a known token.
func (r *TokenRegistry) Has(name string) bool {
	_, ok := r.tokens[name]
	return ok
}

// Sample returns the authoring-time sample value for a token.
func (r *TokenRegistry) Sample(name string) (string, bool) {
	t, ok := r.tokens[name]
	return t.Sample, ok
}

// All returns every registered token in registration order.
func (r *TokenRegistry) All() []Token {
	out := make([]Token, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tokens[name])
	}
	return out
}
