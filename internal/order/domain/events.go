package domain

// OrderCreated is published on the marketplace exchange when an order is
// persisted. It is informational: no consumer mutates stock on it (stock is
// decremented once, at completion).
type OrderCreated struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
	Items   []Item `json:"items"`
	Total   string `json:"total"`
}

// OrderCompleted is published after the decrement saga succeeds and the order
// reaches its terminal state. Downstream observers (email, analytics) consume
// it.
type OrderCompleted struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
	Total   string `json:"total"`
}
