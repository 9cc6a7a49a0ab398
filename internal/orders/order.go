package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckStock re-verifies every line against current stock and returns the
// first violation. Callers must hold the stock row locks so the answer
// stays true until commit.
func CheckStock(lines []CartLine) error {
	for _, l := range lines {
		if l.Quantity > l.Stock {
			return &InsufficientStockError{
				BookID:    l.BookID,
				Title:     l.Title,
				Available: l.Stock,
				Requested: l.Quantity,
			}
		}
	}
	return nil
}

// NewOrder builds a PENDING order from a cart snapshot. The total is the
// exact decimal sum of quantity*unitPrice; unit prices are taken from the
// snapshot verbatim and never recomputed afterwards.
func NewOrder(userID string, lines []CartLine) Order {
	now := time.Now().UTC()
	o := Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		OrderDate:  now,
		TotalPrice: decimal.Zero,
		Status:     StatusPending,
		CreatedAt:  now,
		Items:      make([]OrderLine, 0, len(lines)),
	}
	for _, l := range lines {
		item := OrderLine{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			BookID:    l.BookID,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
		o.Items = append(o.Items, item)
		o.TotalPrice = o.TotalPrice.Add(item.LineTotal())
		o.ItemCount += l.Quantity
	}
	return o
}
