package domain

// Item is one requested product position of a reservation.
type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderCreated is published by the reservation engine after cached stock
// was pre-deducted. The order does not exist durably until the creation
// pipeline consumes this event.
type OrderCreated struct {
	OrderID int64  `json:"order_id"`
	Owner   string `json:"owner"`
	Items   []Item `json:"items"`
}

// OrderExpired fires once the payment window of an order elapsed.
// Delivery is at-least-once; consumers must tolerate duplicates.
type OrderExpired struct {
	OrderID int64 `json:"order_id"`
}
