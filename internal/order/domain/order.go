package domain

import (
	"errors"
	"time"
)

type Status string

const (
	StatusToBePaid  Status = "TO_BE_PAID"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// CanTransition reports whether s -> to is a legal move. Only
// TO_BE_PAID has outgoing edges; PAID and CANCELLED are terminal.
func (s Status) CanTransition(to Status) bool {
	if s != StatusToBePaid {
		return false
	}
	return to == StatusPaid || to == StatusCancelled
}

type Order struct {
	ID        int64
	Owner     string
	Status    Status
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is one product position of an order. Immutable once created.
type Line struct {
	OrderID   int64
	ProductID int64
	Quantity  int
}

// TimelineEntry is one append-only audit record of a status transition.
type TimelineEntry struct {
	ID        int64
	OrderID   int64
	Status    Status
	CreatedAt time.Time
}

func NewOrder(id int64, owner string, items []Item) Order {
	now := time.Now().UTC()
	o := Order{
		ID:        id,
		Owner:     owner,
		Status:    StatusToBePaid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, it := range items {
		o.Lines = append(o.Lines, Line{OrderID: id, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return o
}
