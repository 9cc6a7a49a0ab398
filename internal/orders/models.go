package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Book struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	ISBN13    string          `json:"isbn13"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Active   bool   `json:"active"`
}

// CartLine is one cart row resolved against the catalog at read time.
// UnitPrice and Stock carry the book's current values, not cached ones.
type CartLine struct {
	BookID    string          `json:"book_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}

type Order struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id,omitempty"`
	UserID     string          `json:"user_id"`
	OrderDate  time.Time       `json:"order_date"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ItemCount  int             `json:"item_count"`
	Items      []OrderLine     `json:"items,omitempty"`
}

// OrderLine captures the unit price at order time. Rows are immutable once
// written; cancellation touches order status and book stock only.
type OrderLine struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	BookID    string          `json:"book_id"`
	Title     string          `json:"title,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal is derived, never stored.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type ListFilter struct {
	UserID string
	Status Status
}
